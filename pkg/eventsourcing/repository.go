package eventsourcing

import (
	"context"
	"fmt"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/store"
)

// ApplyFunc folds one event into the aggregate state. It must be pure:
// no I/O, no clock reads, no mutation of the event.
type ApplyFunc[S any] func(state S, event *domain.Event, payload Payload) (S, error)

// SnapshotCodec converts aggregate state to and from snapshot bytes.
// Unmarshal(Marshal(s)) must reproduce s exactly, otherwise snapshot loads
// would diverge from full replay.
type SnapshotCodec[S any] struct {
	Marshal   func(S) ([]byte, error)
	Unmarshal func([]byte) (S, error)
}

// Repository reconstitutes aggregate state by replaying the event stream.
type Repository[S any] struct {
	events        store.EventStore
	serializer    Serializer
	aggregateType string
	newState      func(id string) S
	apply         ApplyFunc[S]

	snapshots     store.SnapshotStore
	snapshotCodec *SnapshotCodec[S]
	snapshotEvery uint64
}

// RepositoryOption configures a Repository.
type RepositoryOption[S any] func(*Repository[S])

// WithSnapshots enables snapshot-accelerated loads. A snapshot is written
// every `every` versions; replay from a snapshot is identical to full replay.
func WithSnapshots[S any](snapshots store.SnapshotStore, codec SnapshotCodec[S], every uint64) RepositoryOption[S] {
	return func(r *Repository[S]) {
		r.snapshots = snapshots
		r.snapshotCodec = &codec
		if every == 0 {
			every = 50
		}
		r.snapshotEvery = every
	}
}

// NewRepository creates a repository for one aggregate type.
func NewRepository[S any](
	events store.EventStore,
	serializer Serializer,
	aggregateType string,
	newState func(id string) S,
	apply ApplyFunc[S],
	opts ...RepositoryOption[S],
) *Repository[S] {
	r := &Repository[S]{
		events:        events,
		serializer:    serializer,
		aggregateType: aggregateType,
		newState:      newState,
		apply:         apply,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replays an aggregate's stream and returns (state, current version).
//
// Unknown event types and undecodable payloads fail the load with an
// integrity error: replay never skips records. A gap in the version
// sequence is a corrupted stream.
func (r *Repository[S]) Load(ctx context.Context, aggregateID string) (S, uint64, error) {
	var zero S

	state := r.newState(aggregateID)
	version := uint64(0)

	if r.snapshots != nil {
		snap, err := r.snapshots.LatestSnapshot(aggregateID)
		if err != nil {
			return zero, 0, domain.StorageError(domain.ReasonTransientStorage, err)
		}
		if snap != nil {
			restored, err := r.snapshotCodec.Unmarshal(snap.Data)
			if err != nil {
				// A bad snapshot is recoverable: fall back to full replay.
				state = r.newState(aggregateID)
			} else {
				state = restored
				version = snap.Version
			}
		}
	}

	events, err := r.events.EventsByAggregate(ctx, aggregateID, version, 0)
	if err != nil {
		return zero, 0, err
	}
	if version == 0 && len(events) == 0 {
		return zero, 0, &domain.Error{
			Kind:    domain.KindDomainRule,
			Reason:  domain.ReasonNotFound,
			Message: fmt.Sprintf("aggregate %s does not exist", aggregateID),
			Err:     domain.ErrNotFound,
		}
	}

	for _, event := range events {
		if event.Version != version+1 {
			return zero, 0, domain.IntegrityError(
				domain.ReasonStreamGap,
				fmt.Sprintf("aggregate %s: version %d follows %d", aggregateID, event.Version, version),
				domain.ErrCorruptedStream,
			)
		}

		payload, err := r.serializer.Deserialize(event.EventType, event.Payload)
		if err != nil {
			return zero, 0, err
		}

		state, err = r.apply(state, event, payload)
		if err != nil {
			return zero, 0, domain.IntegrityError(
				domain.ReasonCorruptPayload,
				fmt.Sprintf("aggregate %s: event %s does not apply", aggregateID, event.ID),
				err,
			)
		}
		version = event.Version
	}

	return state, version, nil
}

// Exists reports whether an aggregate has at least one event.
func (r *Repository[S]) Exists(ctx context.Context, aggregateID string) (bool, error) {
	version, err := r.events.LatestVersion(ctx, aggregateID)
	if err != nil {
		return false, err
	}
	return version > 0, nil
}

// MaybeSnapshot persists a snapshot when the version crosses the snapshot
// interval. Failures are returned but safe to ignore: the log stays
// authoritative.
func (r *Repository[S]) MaybeSnapshot(ctx context.Context, aggregateID string, state S, version uint64) error {
	if r.snapshots == nil || version == 0 || version%r.snapshotEvery != 0 {
		return nil
	}

	data, err := r.snapshotCodec.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot for %s: %w", aggregateID, err)
	}

	return r.snapshots.SaveSnapshot(&store.Snapshot{
		AggregateID:   aggregateID,
		AggregateType: r.aggregateType,
		Version:       version,
		Data:          data,
	})
}
