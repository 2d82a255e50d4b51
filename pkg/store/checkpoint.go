package store

import "time"

// ProjectionCheckpoint tracks how far a projection has consumed the log.
type ProjectionCheckpoint struct {
	ProjectionName string
	Position       uint64 // last applied global sequence number
	LastEventID    string
	UpdatedAt      time.Time
}

// CheckpointStore persists projection checkpoints.
type CheckpointStore interface {
	// Save saves a checkpoint.
	Save(checkpoint *ProjectionCheckpoint) error

	// Load loads a checkpoint for a projection, nil if none exists.
	Load(projectionName string) (*ProjectionCheckpoint, error)

	// Delete deletes a checkpoint (for rebuilding).
	Delete(projectionName string) error
}
