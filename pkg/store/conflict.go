package store

import "time"

// ConflictKind classifies how two events collided during sync.
type ConflictKind string

const (
	// ConflictConcurrentModification: vector clocks are concurrent.
	ConflictConcurrentModification ConflictKind = "concurrent-modification"

	// ConflictVersionMismatch: the remote event's version is not ahead of
	// the local stream and its clock is not an ancestor.
	ConflictVersionMismatch ConflictKind = "version-mismatch"

	// ConflictMissingDependency: the remote event depends on versions we
	// have not seen yet.
	ConflictMissingDependency ConflictKind = "missing-dependency"
)

// ResolutionAction records how a conflict was settled.
type ResolutionAction string

const (
	ResolutionLocalKept     ResolutionAction = "local-kept"
	ResolutionRemoteApplied ResolutionAction = "remote-applied"
	ResolutionPending       ResolutionAction = "pending"
)

// Conflict is a persisted record of a detected sync conflict.
type Conflict struct {
	ID            string
	AggregateID   string
	LocalEventID  string
	RemoteEventID string
	RemoteDevice  string
	Kind          ConflictKind
	DetectedAt    time.Time
	Resolution    ResolutionAction
	Resolved      bool
	ResolvedAt    time.Time

	// RemoteEvent is the JSON-encoded remote event held back by manual
	// resolution, so a later resolve can still apply it.
	RemoteEvent []byte
}

// ConflictStore persists sync conflicts awaiting or past resolution.
type ConflictStore interface {
	// SaveConflict inserts or updates a conflict record.
	SaveConflict(conflict *Conflict) error

	// Conflict loads a conflict by ID, nil if unknown.
	Conflict(id string) (*Conflict, error)

	// ListConflicts returns conflicts for a remote device, unresolved
	// first, then by detection time. Empty device lists all.
	ListConflicts(remoteDevice string, includeResolved bool) ([]*Conflict, error)

	// MarkResolved flags a conflict resolved with the given action.
	MarkResolved(id string, action ResolutionAction, at time.Time) error
}
