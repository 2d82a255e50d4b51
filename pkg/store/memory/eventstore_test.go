package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kamiazya/scopes/pkg/clock"
	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/idgen"
	"github.com/kamiazya/scopes/pkg/store/memory"
	"github.com/kamiazya/scopes/pkg/vclock"
)

var ids = idgen.NewGenerator()

func event(aggregateID string, version uint64) *domain.Event {
	return &domain.Event{
		ID:            ids.New(),
		AggregateID:   aggregateID,
		AggregateType: "Scope",
		EventType:     "scope.created.v1",
		Version:       version,
		Payload:       []byte(`{}`),
		OccurredAt:    time.Now().UTC(),
		OriginDevice:  "laptop",
	}
}

func TestEventStore(t *testing.T) {
	ctx := context.Background()

	t.Run("AppendAndLoad", func(t *testing.T) {
		s := memory.NewEventStore("laptop")

		stored, err := s.Append(ctx, 1, []*domain.Event{event("agg-1", 1)})
		if err != nil {
			t.Fatalf("failed to append: %v", err)
		}
		if stored[0].Sequence != 1 {
			t.Errorf("expected sequence 1, got %d", stored[0].Sequence)
		}
		if stored[0].StoredAt.Before(stored[0].OccurredAt) {
			t.Errorf("stored-at %v before occurred-at %v", stored[0].StoredAt, stored[0].OccurredAt)
		}

		loaded, err := s.EventsByAggregate(ctx, "agg-1", 0, 0)
		if err != nil {
			t.Fatalf("failed to load: %v", err)
		}
		if len(loaded) != 1 || loaded[0].ID != stored[0].ID {
			t.Fatalf("unexpected load result: %+v", loaded)
		}
	})

	t.Run("VersionConflict", func(t *testing.T) {
		s := memory.NewEventStore("laptop")

		if _, err := s.Append(ctx, 1, []*domain.Event{event("agg-1", 1)}); err != nil {
			t.Fatalf("first append: %v", err)
		}
		_, err := s.Append(ctx, 1, []*domain.Event{event("agg-1", 1)})
		if !errors.Is(err, domain.ErrVersionConflict) {
			t.Errorf("expected version conflict, got %v", err)
		}
		// New aggregates must start at version 1.
		_, err = s.Append(ctx, 2, []*domain.Event{event("agg-2", 2)})
		if !errors.Is(err, domain.ErrVersionConflict) {
			t.Errorf("expected version conflict for fresh aggregate, got %v", err)
		}
	})

	t.Run("ExactlyOneConcurrentAppendWins", func(t *testing.T) {
		s := memory.NewEventStore("laptop")
		if _, err := s.Append(ctx, 1, []*domain.Event{event("agg-1", 1)}); err != nil {
			t.Fatalf("seed: %v", err)
		}

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.Append(ctx, 2, []*domain.Event{event("agg-1", 2)})
			}(i)
		}
		wg.Wait()

		conflicts := 0
		for _, err := range errs {
			if errors.Is(err, domain.ErrVersionConflict) {
				conflicts++
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if conflicts != 1 {
			t.Fatalf("expected exactly one conflict, got %d", conflicts)
		}
	})

	t.Run("DuplicateEventID", func(t *testing.T) {
		s := memory.NewEventStore("laptop")

		first := event("agg-1", 1)
		if _, err := s.Append(ctx, 1, []*domain.Event{first}); err != nil {
			t.Fatalf("first append: %v", err)
		}
		dup := event("agg-1", 2)
		dup.ID = first.ID
		_, err := s.Append(ctx, 2, []*domain.Event{dup})
		if !errors.Is(err, domain.ErrDuplicateEvent) {
			t.Errorf("expected duplicate event error, got %v", err)
		}
	})

	t.Run("OrderingViolation", func(t *testing.T) {
		s := memory.NewEventStore("laptop")

		batch := []*domain.Event{event("agg-1", 1), event("agg-1", 3)}
		_, err := s.Append(ctx, 1, batch)
		if !errors.Is(err, domain.ErrOrderingViolation) {
			t.Errorf("expected ordering violation, got %v", err)
		}

		mixed := []*domain.Event{event("agg-1", 1), event("agg-2", 2)}
		_, err = s.Append(ctx, 1, mixed)
		if !errors.Is(err, domain.ErrOrderingViolation) {
			t.Errorf("expected ordering violation for mixed batch, got %v", err)
		}
	})

	t.Run("SequenceStrictlyIncreasing", func(t *testing.T) {
		s := memory.NewEventStore("laptop")

		for i := uint64(1); i <= 5; i++ {
			if _, err := s.Append(ctx, i, []*domain.Event{event("agg-1", i)}); err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
		}
		all, err := s.EventsSince(ctx, 0, 0)
		if err != nil {
			t.Fatalf("events since: %v", err)
		}
		for i := 1; i < len(all); i++ {
			if all[i].Sequence <= all[i-1].Sequence {
				t.Fatalf("sequence not strictly increasing at %d", i)
			}
		}
	})

	t.Run("DenseVersionsPerAggregate", func(t *testing.T) {
		s := memory.NewEventStore("laptop")

		for i := uint64(1); i <= 4; i++ {
			if _, err := s.Append(ctx, i, []*domain.Event{event("agg-1", i)}); err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
		}
		events, err := s.EventsByAggregate(ctx, "agg-1", 0, 0)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		for i, e := range events {
			if e.Version != uint64(i+1) {
				t.Fatalf("versions not dense: index %d has version %d", i, e.Version)
			}
		}
		latest, _ := s.LatestVersion(ctx, "agg-1")
		if latest != 4 {
			t.Errorf("latest version: want 4, got %d", latest)
		}
		count, _ := s.EventCount(ctx, "agg-1")
		if count != 4 {
			t.Errorf("event count: want 4, got %d", count)
		}
	})

	t.Run("UniqueConstraints", func(t *testing.T) {
		s := memory.NewEventStore("laptop")

		claimer := event("agg-1", 1)
		claimer.UniqueConstraints = []domain.UniqueConstraint{domain.Claim("alias", "tasks")}
		if _, err := s.Append(ctx, 1, []*domain.Event{claimer}); err != nil {
			t.Fatalf("claim append: %v", err)
		}

		rival := event("agg-2", 1)
		rival.UniqueConstraints = []domain.UniqueConstraint{domain.Claim("alias", "tasks")}
		_, err := s.Append(ctx, 1, []*domain.Event{rival})
		if !errors.Is(err, domain.ErrUniqueViolation) {
			t.Fatalf("expected unique violation, got %v", err)
		}

		release := event("agg-1", 2)
		release.UniqueConstraints = []domain.UniqueConstraint{domain.Release("alias", "tasks")}
		if _, err := s.Append(ctx, 2, []*domain.Event{release}); err != nil {
			t.Fatalf("release append: %v", err)
		}
		if _, err := s.Append(ctx, 1, []*domain.Event{rival}); err != nil {
			t.Fatalf("reclaim after release should succeed: %v", err)
		}
	})

	t.Run("VectorClockStamping", func(t *testing.T) {
		s := memory.NewEventStore("d1")

		stored, err := s.Append(ctx, 1, []*domain.Event{func() *domain.Event {
			e := event("agg-1", 1)
			e.OriginDevice = "d1"
			return e
		}()})
		if err != nil {
			t.Fatalf("local append: %v", err)
		}
		if got := stored[0].Clock.Get("d1"); got != 1 {
			t.Errorf("local event clock component: want 1, got %d", got)
		}

		remote := event("agg-1", 2)
		remote.OriginDevice = "d2"
		remote.Clock = vclock.Clock{"d2": 3}
		if _, err := s.Append(ctx, 2, []*domain.Event{remote}); err != nil {
			t.Fatalf("remote append: %v", err)
		}

		clk, err := s.DeviceClock(ctx)
		if err != nil {
			t.Fatalf("device clock: %v", err)
		}
		want := vclock.Clock{"d1": 1, "d2": 3}
		if clk.Compare(want) != vclock.Equal {
			t.Errorf("device clock after merge: want %v, got %v", want, clk)
		}
	})

	t.Run("EventsByTypeAndTimeRange", func(t *testing.T) {
		manual := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		s := memory.NewEventStore("laptop", memory.WithClock(manual))

		first := event("agg-1", 1)
		first.OccurredAt = manual.Now()
		second := event("agg-1", 2)
		second.EventType = "scope.archived.v1"
		second.OccurredAt = manual.Now().Add(time.Hour)

		if _, err := s.Append(ctx, 1, []*domain.Event{first}); err != nil {
			t.Fatalf("append: %v", err)
		}
		manual.Advance(2 * time.Hour)
		if _, err := s.Append(ctx, 2, []*domain.Event{second}); err != nil {
			t.Fatalf("append: %v", err)
		}

		byType, err := s.EventsByType(ctx, "scope.archived.v1", 0, 0)
		if err != nil || len(byType) != 1 {
			t.Fatalf("by type: %v %d", err, len(byType))
		}

		inRange, err := s.EventsByTimeRange(ctx,
			manual.Now().Add(-3*time.Hour), manual.Now().Add(-90*time.Minute))
		if err != nil {
			t.Fatalf("time range: %v", err)
		}
		if len(inRange) != 1 || inRange[0].ID != first.ID {
			t.Fatalf("time range: want only the first event, got %d", len(inRange))
		}
	})

	t.Run("Stream", func(t *testing.T) {
		s := memory.NewEventStore("laptop")
		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := s.Stream(streamCtx, 0)
		if err != nil {
			t.Fatalf("stream: %v", err)
		}

		if _, err := s.Append(ctx, 1, []*domain.Event{event("agg-1", 1)}); err != nil {
			t.Fatalf("append: %v", err)
		}
		if _, err := s.Append(ctx, 2, []*domain.Event{event("agg-1", 2)}); err != nil {
			t.Fatalf("append: %v", err)
		}

		for want := uint64(1); want <= 2; want++ {
			select {
			case e := <-stream:
				if e.Sequence != want {
					t.Fatalf("stream order: want sequence %d, got %d", want, e.Sequence)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("stream did not deliver in time")
			}
		}

		cancel()
		select {
		case _, open := <-stream:
			if open {
				t.Fatal("stream should close after cancellation")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("stream did not close in time")
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		s := memory.NewEventStore("laptop")
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := s.Append(cancelled, 1, []*domain.Event{event("agg-1", 1)})
		if domain.KindOf(err) != domain.KindTimeout {
			t.Errorf("expected timeout kind, got %v", err)
		}
	})
}
