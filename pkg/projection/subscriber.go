package projection

import (
	"context"
	"sync"
	"time"

	"github.com/kamiazya/scopes/pkg/runner"
	"github.com/kamiazya/scopes/pkg/store"
)

const subscriberCheckpoint = "projections"

// Subscriber is the single long-running consumer of the event stream. It
// rebuilds the projection store from the log on start, then follows the live
// stream and records its position in the checkpoint store.
// The command pipeline also applies events synchronously; Apply's position
// guard makes the overlap harmless.
type Subscriber struct {
	events      store.EventStore
	projections *Store
	checkpoints store.CheckpointStore
	logger      runner.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber creates a subscriber. checkpoints may be nil for ephemeral
// setups; no position is then recorded. Start rebuilds the projection store
// from scratch in either case.
func NewSubscriber(events store.EventStore, projections *Store, checkpoints store.CheckpointStore, logger runner.Logger) *Subscriber {
	if logger == nil {
		logger = runner.NewNoopLogger()
	}
	return &Subscriber{
		events:      events,
		projections: projections,
		checkpoints: checkpoints,
		logger:      logger,
	}
}

func (s *Subscriber) Name() string { return "projection-subscriber" }

// Start catches the projection store up with the log, then consumes the
// live stream in the background.
func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.projections.Rebuild(ctx, s.events); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	stream, err := s.events.Stream(runCtx, s.projections.Position())
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for event := range stream {
			if err := s.projections.Apply(event); err != nil {
				s.logger.Error("projection apply failed",
					"event_id", event.ID,
					"event_type", event.EventType,
					"error", err)
				continue
			}
			s.saveCheckpoint(event.ID)
		}
	}()

	return nil
}

func (s *Subscriber) saveCheckpoint(lastEventID string) {
	if s.checkpoints == nil {
		return
	}
	err := s.checkpoints.Save(&store.ProjectionCheckpoint{
		ProjectionName: subscriberCheckpoint,
		Position:       s.projections.Position(),
		LastEventID:    lastEventID,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("checkpoint save failed", "error", err)
	}
}

// Stop cancels the stream and waits for the consumer to drain.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
