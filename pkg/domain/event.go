// Package domain holds the types shared by every layer of the engine:
// the persisted event record, unique-constraint claims, and the error
// taxonomy surfaced to callers.
package domain

import (
	"time"

	"github.com/kamiazya/scopes/pkg/vclock"
)

// Event is an immutable fact recorded in the event log.
//
// Sequence and StoredAt are assigned by the event log at append time;
// everything else is set by the producer (command pipeline or sync engine).
type Event struct {
	// ID is a 26-char ULID, unique across the whole log.
	ID string

	// AggregateID identifies the event stream this event belongs to.
	AggregateID string

	// AggregateType is the type name of the aggregate (e.g. "Scope").
	AggregateType string

	// EventType is the stable type identifier, e.g. "scope.created.v1".
	EventType string

	// Version is the aggregate version after applying this event.
	// Versions form a dense sequence starting at 1.
	Version uint64

	// Payload is the serialized event payload, versioned by EventType.
	Payload []byte

	// OccurredAt is when the event happened on the origin device.
	OccurredAt time.Time

	// StoredAt is when the event was appended to the local log.
	// Always >= OccurredAt.
	StoredAt time.Time

	// Sequence is the global, strictly increasing insertion order.
	Sequence uint64

	// OriginDevice is the device that produced the event.
	OriginDevice string

	// Clock is the origin device's vector clock snapshot taken when the
	// event was produced.
	Clock vclock.Clock

	// UniqueConstraints are uniqueness claims or releases validated
	// atomically with event persistence.
	UniqueConstraints []UniqueConstraint
}

// UniqueConstraint represents a uniqueness claim or release on a value.
// Claims are validated inside the append transaction, so two concurrent
// commands claiming the same value cannot both commit.
type UniqueConstraint struct {
	// IndexName identifies the constraint index (e.g. "alias", "sibling_title").
	IndexName string

	// Value is the value being claimed or released.
	Value string

	// Operation is either claim or release.
	Operation ConstraintOperation
}

// ConstraintOperation defines operations on unique constraints.
type ConstraintOperation string

const (
	ConstraintClaim   ConstraintOperation = "claim"
	ConstraintRelease ConstraintOperation = "release"
)

// DeviceIDMaxLen bounds origin device identifiers.
const DeviceIDMaxLen = 64

// ValidateDeviceID checks the 1..64 char [A-Za-z0-9_-] device id format.
func ValidateDeviceID(id string) error {
	if id == "" || len(id) > DeviceIDMaxLen {
		return InputError(ReasonInvalidDeviceID, "device id must be 1..64 characters")
	}
	for _, r := range id {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-'
		if !ok {
			return InputError(ReasonInvalidDeviceID, "device id may contain only letters, digits, underscore and hyphen")
		}
	}
	return nil
}

// Claim builds a claim constraint.
func Claim(index, value string) UniqueConstraint {
	return UniqueConstraint{IndexName: index, Value: value, Operation: ConstraintClaim}
}

// Release builds a release constraint.
func Release(index, value string) UniqueConstraint {
	return UniqueConstraint{IndexName: index, Value: value, Operation: ConstraintRelease}
}
