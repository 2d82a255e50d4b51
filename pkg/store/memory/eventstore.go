// Package memory provides in-memory implementations of the store ports.
// They mirror the SQLite semantics exactly and back the test suites as well
// as ephemeral embedded use.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kamiazya/scopes/pkg/clock"
	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/store"
	"github.com/kamiazya/scopes/pkg/vclock"
)

// EventStore is an in-memory append-only event log.
type EventStore struct {
	mu       sync.RWMutex
	deviceID string
	clk      clock.Clock

	events      []*domain.Event
	byAggregate map[string][]*domain.Event
	byID        map[string]*domain.Event
	constraints map[string]map[string]string // index -> value -> owner aggregate
	deviceClock vclock.Clock
	sequence    uint64

	subscribers map[int]chan struct{}
	nextSub     int
	closed      bool

	skipped        atomic.Uint64
	lastSkipReason atomic.Value
}

// Option configures an EventStore.
type Option func(*EventStore)

// WithClock sets the clock used for stored-at stamps.
func WithClock(c clock.Clock) Option {
	return func(s *EventStore) { s.clk = c }
}

// NewEventStore creates an in-memory event store owned by the given device.
func NewEventStore(deviceID string, opts ...Option) *EventStore {
	s := &EventStore{
		deviceID:    deviceID,
		clk:         clock.NewSystem(),
		byAggregate: make(map[string][]*domain.Event),
		byID:        make(map[string]*domain.Event),
		constraints: make(map[string]map[string]string),
		deviceClock: vclock.New(),
		subscribers: make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EventStore) DeviceID() string { return s.deviceID }

// Append implements store.EventStore.
func (s *EventStore) Append(ctx context.Context, expectedVersion uint64, events []*domain.Event) ([]*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.TimeoutError(domain.ReasonCancelled, err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	aggregateID := events[0].AggregateID
	current := uint64(len(s.byAggregate[aggregateID]))

	if expectedVersion != current+1 {
		return nil, domain.ConcurrencyError(
			domain.ReasonVersionConflict,
			fmt.Sprintf("aggregate %s is at version %d, append expected %d", aggregateID, current, expectedVersion),
			domain.ErrVersionConflict,
		).With("aggregate_id", aggregateID).With("current_version", current)
	}

	for i, event := range events {
		if event.AggregateID != aggregateID {
			return nil, domain.ConcurrencyError(
				domain.ReasonOrderingViolation,
				"append batch mixes aggregates",
				domain.ErrOrderingViolation,
			)
		}
		if event.Version != expectedVersion+uint64(i) {
			return nil, domain.ConcurrencyError(
				domain.ReasonOrderingViolation,
				fmt.Sprintf("event %s carries version %d, expected %d", event.ID, event.Version, expectedVersion+uint64(i)),
				domain.ErrOrderingViolation,
			)
		}
		if _, dup := s.byID[event.ID]; dup {
			return nil, domain.ConcurrencyError(
				domain.ReasonDuplicateEvent,
				fmt.Sprintf("event %s already stored", event.ID),
				domain.ErrDuplicateEvent,
			)
		}
	}

	// Validate constraints before any state change.
	for _, event := range events {
		for _, c := range event.UniqueConstraints {
			if c.Operation != domain.ConstraintClaim {
				continue
			}
			if owner, taken := s.constraints[c.IndexName][c.Value]; taken && owner != aggregateID {
				return nil, (&domain.Error{
					Kind:    domain.KindDomainRule,
					Reason:  c.IndexName,
					Message: fmt.Sprintf("value %q already claimed in index %q", c.Value, c.IndexName),
					Err:     domain.ErrUniqueViolation,
				}).With("index", c.IndexName).With("value", c.Value).With("owner", owner)
			}
		}
	}

	stored := make([]*domain.Event, 0, len(events))
	for _, event := range events {
		e := *event
		s.sequence++
		e.Sequence = s.sequence

		now := s.clk.Now()
		if now.Before(e.OccurredAt) {
			now = e.OccurredAt
		}
		e.StoredAt = now

		if e.OriginDevice == s.deviceID {
			s.deviceClock = s.deviceClock.Increment(s.deviceID)
			e.Clock = s.deviceClock.Clone()
		} else {
			s.deviceClock = s.deviceClock.Merge(e.Clock)
		}

		for _, c := range e.UniqueConstraints {
			idx := s.constraints[c.IndexName]
			if idx == nil {
				idx = make(map[string]string)
				s.constraints[c.IndexName] = idx
			}
			switch c.Operation {
			case domain.ConstraintClaim:
				idx[c.Value] = aggregateID
			case domain.ConstraintRelease:
				if idx[c.Value] == aggregateID {
					delete(idx, c.Value)
				}
			}
		}

		s.events = append(s.events, &e)
		s.byAggregate[aggregateID] = append(s.byAggregate[aggregateID], &e)
		s.byID[e.ID] = &e
		stored = append(stored, &e)
	}

	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	return stored, nil
}

func (s *EventStore) EventsByAggregate(ctx context.Context, aggregateID string, sinceVersion uint64, limit int) ([]*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Event
	for _, e := range s.byAggregate[aggregateID] {
		if e.Version <= sinceVersion {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *EventStore) EventsSince(ctx context.Context, cursor uint64, limit int) ([]*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Event
	for _, e := range s.events {
		if e.Sequence <= cursor {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *EventStore) EventsByType(ctx context.Context, eventType string, cursor uint64, limit int) ([]*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Event
	for _, e := range s.events {
		if e.Sequence <= cursor || e.EventType != eventType {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *EventStore) EventsByTimeRange(ctx context.Context, from, to time.Time) ([]*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Event
	for _, e := range s.events {
		if e.OccurredAt.Before(from) || !e.OccurredAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *EventStore) LatestVersion(ctx context.Context, aggregateID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.byAggregate[aggregateID])), nil
}

func (s *EventStore) EventCount(ctx context.Context, aggregateID string) (uint64, error) {
	return s.LatestVersion(ctx, aggregateID)
}

func (s *EventStore) ContainsEvent(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[eventID]
	return ok, nil
}

func (s *EventStore) DeviceClock(ctx context.Context) (vclock.Clock, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceClock.Clone(), nil
}

// Stream produces events in sequence order as they are appended, starting
// after cursor. The channel closes when ctx is cancelled.
func (s *EventStore) Stream(ctx context.Context, cursor uint64) (<-chan *domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	notify := make(chan struct{}, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = notify
	s.mu.Unlock()

	out := make(chan *domain.Event)
	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		}()

		pos := cursor
		for {
			batch, err := s.EventsSince(ctx, pos, 0)
			if err != nil {
				return
			}
			for _, e := range batch {
				select {
				case out <- e:
					pos = e.Sequence
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *EventStore) Health() store.HealthReport {
	reason, _ := s.lastSkipReason.Load().(string)
	return store.HealthReport{
		SkippedRecords: s.skipped.Load(),
		LastSkipReason: reason,
	}
}

func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
