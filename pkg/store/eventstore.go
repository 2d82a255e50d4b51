// Package store defines the persistence ports of the engine. Implementations
// live in the sqlite and memory subpackages and must be interchangeable:
// tests substitute the memory store without changing any caller.
package store

import (
	"context"
	"time"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/vclock"
)

// EventStore is the append-only event log.
//
// Append guarantees, inside one serializable transaction:
//   - versions per aggregate form a dense sequence 1..N (a new aggregate's
//     first event must carry version 1, otherwise current max + 1);
//   - a duplicate event ID is rejected;
//   - unique-constraint claims are validated and applied;
//   - a fresh global sequence number and stored-at timestamp are assigned;
//   - for locally originated events, the device's vector clock component is
//     advanced by one per event and the new snapshot is persisted on the
//     event; for remote events (origin device differs from the store's
//     device) the carried snapshot is preserved and merged into the local
//     device clock.
//
// Violations surface as typed domain errors: ErrVersionConflict,
// ErrDuplicateEvent, ErrOrderingViolation, ErrUniqueViolation.
type EventStore interface {
	// Append atomically appends events (all for the same aggregate).
	// expectedVersion is the version the first event will carry.
	// Returns the stored events with sequence, stored-at and clock assigned.
	Append(ctx context.Context, expectedVersion uint64, events []*domain.Event) ([]*domain.Event, error)

	// EventsByAggregate returns an aggregate's events ordered by version
	// ascending, starting after sinceVersion. limit <= 0 means no limit.
	EventsByAggregate(ctx context.Context, aggregateID string, sinceVersion uint64, limit int) ([]*domain.Event, error)

	// EventsSince returns events with sequence > cursor, ordered by
	// sequence ascending. Used by projections and sync push.
	EventsSince(ctx context.Context, cursor uint64, limit int) ([]*domain.Event, error)

	// EventsByType returns events of one type with sequence > cursor.
	EventsByType(ctx context.Context, eventType string, cursor uint64, limit int) ([]*domain.Event, error)

	// EventsByTimeRange returns events with from <= occurred-at < to,
	// ordered by sequence.
	EventsByTimeRange(ctx context.Context, from, to time.Time) ([]*domain.Event, error)

	// LatestVersion returns the current max version, 0 if absent.
	LatestVersion(ctx context.Context, aggregateID string) (uint64, error)

	// EventCount returns the number of events stored for an aggregate.
	EventCount(ctx context.Context, aggregateID string) (uint64, error)

	// ContainsEvent reports whether an event ID is already in the log.
	ContainsEvent(ctx context.Context, eventID string) (bool, error)

	// DeviceID returns the local device identity this store was opened with.
	DeviceID() string

	// DeviceClock returns the current vector clock of the local device.
	DeviceClock(ctx context.Context) (vclock.Clock, error)

	// Stream returns a channel producing events as they are appended,
	// starting after cursor. The channel closes when ctx is done.
	Stream(ctx context.Context, cursor uint64) (<-chan *domain.Event, error)

	// Health reports integrity counters for read-side skips.
	Health() HealthReport

	// Close releases resources.
	Close() error
}

// HealthReport carries the integrity signal: undecodable records are
// skipped on query surfaces but never silently, they are counted here.
type HealthReport struct {
	// SkippedRecords is the number of rows skipped on read because they
	// failed to decode.
	SkippedRecords uint64

	// LastSkipReason describes the most recent skip, empty if none.
	LastSkipReason string
}
