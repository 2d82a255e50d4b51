package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kamiazya/scopes/pkg/clock"
	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/idgen"
	"github.com/kamiazya/scopes/pkg/observability"
	"github.com/kamiazya/scopes/pkg/projection"
	"github.com/kamiazya/scopes/pkg/runner"
	"github.com/kamiazya/scopes/pkg/scope"
	"github.com/kamiazya/scopes/pkg/store"
	"github.com/kamiazya/scopes/pkg/vclock"
)

// Options configures sync behavior. Zero values fall back to defaults.
type Options struct {
	// Timeout bounds one Sync call when the caller passes none.
	Timeout time.Duration

	// DefaultStrategy applies when Sync is called without one.
	DefaultStrategy Strategy

	// BatchSize bounds events per push batch.
	BatchSize int

	// BatchesPerSecond paces outgoing batches; 0 disables pacing.
	BatchesPerSecond float64
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.DefaultStrategy == "" {
		o.DefaultStrategy = StrategyLastWriteWins
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 256
	}
	return o
}

// Report summarizes one sync session.
type Report struct {
	RemoteDevice      string
	Pushed            int
	Pulled            int
	Applied           int
	Skipped           int
	ConflictsDetected int
	ConflictsResolved int
	ConflictsPending  int
	Status            store.SyncStatus
}

// Engine is the sync port. One engine serves one local device; sessions
// with the same peer are serialized, sessions with different peers run
// concurrently.
type Engine struct {
	events      store.EventStore
	devices     store.DeviceStateStore
	conflicts   store.ConflictStore
	transport   Transport
	projections *projection.Store
	ids         *idgen.Generator
	clk         clock.Clock
	opts        Options
	limiter     *rate.Limiter
	logger      runner.Logger
	metrics     *observability.Metrics

	mu       gosync.Mutex
	sessions map[string]*gosync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger runner.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = metrics }
}

// WithClock sets the engine clock.
func WithClock(clk clock.Clock) EngineOption {
	return func(e *Engine) { e.clk = clk }
}

// WithProjections lets the engine fold applied remote events into the
// projection store synchronously instead of waiting for the subscriber.
func WithProjections(projections *projection.Store) EngineOption {
	return func(e *Engine) { e.projections = projections }
}

// WithIDGenerator sets the ULID generator.
func WithIDGenerator(ids *idgen.Generator) EngineOption {
	return func(e *Engine) { e.ids = ids }
}

// NewEngine wires a sync engine over the local event log.
func NewEngine(
	events store.EventStore,
	devices store.DeviceStateStore,
	conflicts store.ConflictStore,
	transport Transport,
	opts Options,
	engineOpts ...EngineOption,
) *Engine {
	e := &Engine{
		events:    events,
		devices:   devices,
		conflicts: conflicts,
		transport: transport,
		ids:       idgen.NewGenerator(),
		clk:       clock.NewSystem(),
		opts:      opts.withDefaults(),
		logger:    runner.NewNoopLogger(),
		sessions:  make(map[string]*gosync.Mutex),
	}
	if e.opts.BatchesPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(e.opts.BatchesPerSecond), 1)
	}
	for _, opt := range engineOpts {
		opt(e)
	}
	return e
}

// LocalDevice returns the device identity the engine syncs on behalf of.
func (e *Engine) LocalDevice() string { return e.events.DeviceID() }

func (e *Engine) sessionLock(remoteDevice string) *gosync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	mu, ok := e.sessions[remoteDevice]
	if !ok {
		mu = &gosync.Mutex{}
		e.sessions[remoteDevice] = mu
	}
	return mu
}

// RegisterDevice makes a remote device known to the sync engine.
func (e *Engine) RegisterDevice(deviceID string) error {
	if err := domain.ValidateDeviceID(deviceID); err != nil {
		return err
	}
	if deviceID == e.LocalDevice() {
		return domain.InputError(domain.ReasonInvalidDeviceID, "cannot register the local device as a peer")
	}

	existing, err := e.devices.DeviceState(deviceID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return e.devices.SaveDeviceState(&store.DeviceSyncState{
		DeviceID:     deviceID,
		RegisteredAt: e.clk.Now(),
		RemoteClock:  vclock.New(),
		Status:       store.SyncIdle,
	})
}

// UnregisterDevice forgets a remote device and its sync state.
func (e *Engine) UnregisterDevice(deviceID string) error {
	return e.devices.DeleteDeviceState(deviceID)
}

// Devices lists registered remote devices.
func (e *Engine) Devices() ([]*store.DeviceSyncState, error) {
	return e.devices.ListDevices()
}

// Sync runs one full session with a peer: push, pull, resolve. An empty
// strategy or zero timeout falls back to the engine options. The session
// re-enters Failed state on transport or validation failure and can simply
// be retried.
func (e *Engine) Sync(ctx context.Context, remoteDevice string, strategy Strategy, timeout time.Duration) (*Report, error) {
	if strategy == "" {
		strategy = e.opts.DefaultStrategy
	} else if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}

	mu := e.sessionLock(remoteDevice)
	mu.Lock()
	defer mu.Unlock()

	sessionID := uuid.NewString()
	e.logger.Debug("sync session starting",
		"session_id", sessionID,
		"remote_device", remoteDevice,
		"strategy", string(strategy))

	state, err := e.devices.DeviceState(remoteDevice)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, domain.RuleError(domain.ReasonNotFound,
			fmt.Sprintf("device %q is not registered", remoteDevice)).
			With("device_id", remoteDevice)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report := &Report{RemoteDevice: remoteDevice}

	if err := e.push(ctx, state, report); err != nil {
		return report, e.fail(state, report, err)
	}
	if err := e.pull(ctx, state, strategy, report); err != nil {
		return report, e.fail(state, report, err)
	}

	state.Status = store.SyncIdle
	state.LastSyncAt = e.clk.Now()
	if pending, err := e.pendingEvents(ctx, state); err == nil {
		state.PendingEvents = pending
	}
	if err := e.devices.SaveDeviceState(state); err != nil {
		return report, err
	}

	report.Status = store.SyncIdle
	e.logger.Info("sync session finished",
		"session_id", sessionID,
		"remote_device", remoteDevice,
		"pushed", report.Pushed,
		"pulled", report.Pulled,
		"applied", report.Applied,
		"conflicts", report.ConflictsDetected)
	return report, nil
}

func (e *Engine) fail(state *store.DeviceSyncState, report *Report, err error) error {
	state.Status = store.SyncFailed
	if saveErr := e.devices.SaveDeviceState(state); saveErr != nil {
		e.logger.Error("failed to persist failed sync state", "error", saveErr)
	}
	report.Status = store.SyncFailed

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.TimeoutError(domain.ReasonDeadlineExceeded, err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.TimeoutError(domain.ReasonCancelled, err)
	}
	if domain.KindOf(err) != "" {
		return err
	}
	return domain.SyncError(domain.ReasonPeerUnreachable, "sync session failed", err)
}

func (e *Engine) setStatus(state *store.DeviceSyncState, status store.SyncStatus) error {
	state.Status = status
	return e.devices.SaveDeviceState(state)
}

func (e *Engine) pace(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

// push sends locally originated events past the push cursor, batch by
// batch. Each acknowledged batch advances the persisted cursor, so a
// cancelled session keeps everything already acknowledged.
func (e *Engine) push(ctx context.Context, state *store.DeviceSyncState, report *Report) error {
	if err := e.setStatus(state, store.SyncPushing); err != nil {
		return err
	}

	local := e.LocalDevice()
	cursor := state.PushCursor

	for {
		batch, err := e.events.EventsSince(ctx, cursor, e.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		var outgoing []*domain.Event
		for _, event := range batch {
			cursor = event.Sequence
			if event.OriginDevice == local {
				outgoing = append(outgoing, event)
			}
		}

		if len(outgoing) > 0 {
			if err := e.pace(ctx); err != nil {
				return err
			}
			ack, err := e.transport.Push(ctx, state.DeviceID, PushRequest{
				FromDevice:  local,
				Events:      outgoing,
				SinceCursor: state.PushCursor,
			})
			if err != nil {
				return err
			}
			state.RemoteClock = state.RemoteClock.Merge(ack.RemoteClock)
			report.Pushed += len(outgoing)
			e.metrics.SyncBatch(ctx, "push", len(outgoing))
		}

		state.PushCursor = cursor
		state.LastPushAt = e.clk.Now()
		if err := e.devices.SaveDeviceState(state); err != nil {
			return err
		}

		if len(batch) < e.opts.BatchSize {
			return nil
		}
	}
}

// pull fetches everything the peer has beyond our recorded view of it and
// feeds the batch through conflict detection.
func (e *Engine) pull(ctx context.Context, state *store.DeviceSyncState, strategy Strategy, report *Report) error {
	if err := e.setStatus(state, store.SyncPulling); err != nil {
		return err
	}
	if err := e.pace(ctx); err != nil {
		return err
	}

	// Advertise what this device actually holds: the local clock covers
	// every origin component in the local log, so the peer returns exactly
	// the events we lack. The recorded remote clock is bookkeeping about
	// the peer, not about our own coverage.
	known, err := e.events.DeviceClock(ctx)
	if err != nil {
		return err
	}
	batch, err := e.transport.Pull(ctx, state.DeviceID, PullRequest{
		FromDevice: e.LocalDevice(),
		Known:      known,
	})
	if err != nil {
		return err
	}
	report.Pulled = len(batch.Events)
	e.metrics.SyncBatch(ctx, "pull", len(batch.Events))

	if err := e.setStatus(state, store.SyncResolving); err != nil {
		return err
	}
	if err := e.acceptBatch(ctx, state, strategy, batch.Events, report); err != nil {
		return err
	}

	// Held-back events live in their conflict records, so advancing the
	// recorded clock past them is safe.
	state.RemoteClock = state.RemoteClock.Merge(batch.RemoteClock)
	state.LastPullAt = e.clk.Now()
	return e.devices.SaveDeviceState(state)
}

// errDeferred marks an event whose prior versions have not arrived yet.
var errDeferred = errors.New("event deferred until ancestors arrive")

// acceptBatch applies incoming events, buffering missing-dependency events
// until their ancestors arrive within the same batch. Whatever still cannot
// apply escalates to a missing-dependency conflict.
func (e *Engine) acceptBatch(ctx context.Context, state *store.DeviceSyncState, strategy Strategy, events []*domain.Event, report *Report) error {
	pending := events
	for len(pending) > 0 {
		progress := false
		var deferred []*domain.Event

		for _, event := range pending {
			err := e.acceptOne(ctx, state, strategy, event, report)
			if errors.Is(err, errDeferred) {
				deferred = append(deferred, event)
				continue
			}
			if err != nil {
				return err
			}
			progress = true
		}

		if !progress {
			for _, event := range deferred {
				e.metrics.ConflictDetected(ctx, string(store.ConflictMissingDependency))
				report.ConflictsDetected++
				if err := e.recordPendingConflict(state, event, store.ConflictMissingDependency, report); err != nil {
					return err
				}
			}
			return nil
		}
		pending = deferred
	}
	return nil
}

func (e *Engine) acceptOne(ctx context.Context, state *store.DeviceSyncState, strategy Strategy, event *domain.Event, report *Report) error {
	known, err := e.events.ContainsEvent(ctx, event.ID)
	if err != nil {
		return err
	}
	if known {
		report.Skipped++
		return nil
	}

	current, err := e.events.LatestVersion(ctx, event.AggregateID)
	if err != nil {
		return err
	}

	switch {
	case event.Version == current+1:
		return e.applyIncoming(ctx, state, strategy, event, report)

	case event.Version > current+1:
		return errDeferred

	default:
		return e.classifyConflict(ctx, state, strategy, event, current, report)
	}
}

func (e *Engine) applyIncoming(ctx context.Context, state *store.DeviceSyncState, strategy Strategy, event *domain.Event, report *Report) error {
	incoming := *event
	stored, err := e.events.Append(ctx, incoming.Version, []*domain.Event{&incoming})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrVersionConflict):
			// A local command slipped in between the version check and
			// the append; reclassify against the new head.
			current, verr := e.events.LatestVersion(ctx, event.AggregateID)
			if verr != nil {
				return verr
			}
			return e.classifyConflict(ctx, state, strategy, event, current, report)

		case errors.Is(err, domain.ErrUniqueViolation):
			// The remote change collides with a local uniqueness claim
			// (alias, sibling title). Only a user can untangle that.
			e.metrics.ConflictDetected(ctx, string(store.ConflictConcurrentModification))
			report.ConflictsDetected++
			return e.recordPendingConflict(state, event, store.ConflictConcurrentModification, report)
		}
		return err
	}

	e.project(stored)
	report.Applied += len(stored)
	return nil
}

func (e *Engine) classifyConflict(ctx context.Context, state *store.DeviceSyncState, strategy Strategy, event *domain.Event, current uint64, report *Report) error {
	head, err := e.headEvent(ctx, event.AggregateID, current)
	if err != nil {
		return err
	}

	switch event.Clock.Compare(head.Clock) {
	case vclock.Before, vclock.Equal:
		// An ancestor of what we already hold; its effect is folded in.
		report.Skipped++
		return nil

	case vclock.Concurrent:
		return e.resolve(ctx, state, strategy, event, head, store.ConflictConcurrentModification, report)

	default: // After: the remote saw our head yet collides on version.
		return e.resolve(ctx, state, strategy, event, head, store.ConflictVersionMismatch, report)
	}
}

func (e *Engine) headEvent(ctx context.Context, aggregateID string, current uint64) (*domain.Event, error) {
	since := uint64(0)
	if current > 0 {
		since = current - 1
	}
	events, err := e.events.EventsByAggregate(ctx, aggregateID, since, 1)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.IntegrityError(domain.ReasonStreamGap,
			fmt.Sprintf("aggregate %s has version %d but no head event", aggregateID, current),
			domain.ErrCorruptedStream)
	}
	return events[len(events)-1], nil
}

func (e *Engine) resolve(ctx context.Context, state *store.DeviceSyncState, strategy Strategy, remote, localHead *domain.Event, kind store.ConflictKind, report *Report) error {
	e.metrics.ConflictDetected(ctx, string(kind))
	report.ConflictsDetected++

	// The compensating-event vocabulary exists for the Scope aggregate;
	// conflicts on catalog aggregates always go to the user.
	if strategy != StrategyManual && remote.AggregateType != scope.AggregateScope {
		strategy = StrategyManual
	}

	switch strategy {
	case StrategyManual:
		return e.recordPendingConflict(state, remote, kind, report)

	case StrategyLocalWins:
		return e.keepLocal(ctx, state, remote, localHead, kind, StrategyLocalWins, report)

	case StrategyRemoteWins:
		return e.applyRemote(ctx, state, remote, localHead, kind, StrategyRemoteWins, report)

	case StrategyLastWriteWins:
		remoteWins := remote.OccurredAt.After(localHead.OccurredAt) ||
			(remote.OccurredAt.Equal(localHead.OccurredAt) && remote.OriginDevice > localHead.OriginDevice)
		if remoteWins {
			return e.applyRemote(ctx, state, remote, localHead, kind, StrategyLastWriteWins, report)
		}
		return e.keepLocal(ctx, state, remote, localHead, kind, StrategyLastWriteWins, report)
	}

	return domain.SyncError(domain.ReasonStrategyInapplicable,
		fmt.Sprintf("strategy %q cannot resolve this conflict", strategy), nil)
}

func (e *Engine) recordPendingConflict(state *store.DeviceSyncState, remote *domain.Event, kind store.ConflictKind, report *Report) error {
	remoteJSON, err := json.Marshal(remote)
	if err != nil {
		return err
	}

	conflict := &store.Conflict{
		ID:            e.ids.New(),
		AggregateID:   remote.AggregateID,
		RemoteEventID: remote.ID,
		RemoteDevice:  state.DeviceID,
		Kind:          kind,
		DetectedAt:    e.clk.Now(),
		Resolution:    store.ResolutionPending,
		RemoteEvent:   remoteJSON,
	}
	if err := e.conflicts.SaveConflict(conflict); err != nil {
		return err
	}

	report.ConflictsPending++
	return nil
}

// keepLocal records the remote event as shadowed by the local head: a
// supersession event lands on the aggregate and the conflict closes.
func (e *Engine) keepLocal(ctx context.Context, state *store.DeviceSyncState, remote, localHead *domain.Event, kind store.ConflictKind, strategy Strategy, report *Report) error {
	current, err := e.events.LatestVersion(ctx, remote.AggregateID)
	if err != nil {
		return err
	}

	supersession, err := e.supersessionEvent(remote.AggregateID, current+1, remote.ID, localHead.ID, state.DeviceID, strategy)
	if err != nil {
		return err
	}

	stored, err := e.events.Append(ctx, current+1, []*domain.Event{supersession})
	if err != nil {
		return err
	}
	e.project(stored)

	return e.closeConflict(state, remote, localHead, kind, store.ResolutionLocalKept, strategy, report)
}

// applyRemote supersedes the local head, then re-applies the remote change
// as a fresh event on the tip. History is never rewritten.
func (e *Engine) applyRemote(ctx context.Context, state *store.DeviceSyncState, remote, localHead *domain.Event, kind store.ConflictKind, strategy Strategy, report *Report) error {
	current, err := e.events.LatestVersion(ctx, remote.AggregateID)
	if err != nil {
		return err
	}

	supersession, err := e.supersessionEvent(remote.AggregateID, current+1, localHead.ID, remote.ID, state.DeviceID, strategy)
	if err != nil {
		return err
	}

	reapplied := &domain.Event{
		ID:            e.ids.New(),
		AggregateID:   remote.AggregateID,
		AggregateType: remote.AggregateType,
		EventType:     remote.EventType,
		Version:       current + 2,
		Payload:       remote.Payload,
		OccurredAt:    remote.OccurredAt,
		OriginDevice:  e.LocalDevice(),
	}

	stored, err := e.events.Append(ctx, current+1, []*domain.Event{supersession, reapplied})
	if err != nil {
		if errors.Is(err, domain.ErrUniqueViolation) {
			return e.recordPendingConflict(state, remote, kind, report)
		}
		return err
	}
	e.project(stored)
	report.Applied++

	return e.closeConflict(state, remote, localHead, kind, store.ResolutionRemoteApplied, strategy, report)
}

func (e *Engine) supersessionEvent(aggregateID string, version uint64, supersededID, winnerID, remoteDevice string, strategy Strategy) (*domain.Event, error) {
	payload := &scope.ScopeSyncSuperseded{
		SupersededEventID: supersededID,
		WinningEventID:    winnerID,
		RemoteDevice:      remoteDevice,
		Strategy:          string(strategy),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &domain.Event{
		ID:            e.ids.New(),
		AggregateID:   aggregateID,
		AggregateType: scope.AggregateScope,
		EventType:     payload.EventType(),
		Version:       version,
		Payload:       data,
		OccurredAt:    e.clk.Now(),
		OriginDevice:  e.LocalDevice(),
	}, nil
}

func (e *Engine) closeConflict(state *store.DeviceSyncState, remote, localHead *domain.Event, kind store.ConflictKind, action store.ResolutionAction, strategy Strategy, report *Report) error {
	conflict := &store.Conflict{
		ID:            e.ids.New(),
		AggregateID:   remote.AggregateID,
		LocalEventID:  localHead.ID,
		RemoteEventID: remote.ID,
		RemoteDevice:  state.DeviceID,
		Kind:          kind,
		DetectedAt:    e.clk.Now(),
		Resolution:    action,
		Resolved:      true,
		ResolvedAt:    e.clk.Now(),
	}
	if err := e.conflicts.SaveConflict(conflict); err != nil {
		return err
	}

	e.metrics.ConflictResolved(context.Background(), string(strategy))
	report.ConflictsResolved++
	return nil
}

func (e *Engine) project(events []*domain.Event) {
	if e.projections == nil {
		return
	}
	for _, event := range events {
		if err := e.projections.Apply(event); err != nil {
			e.logger.Error("projection update from sync failed",
				"event_id", event.ID, "error", err)
		}
	}
}

func (e *Engine) pendingEvents(ctx context.Context, state *store.DeviceSyncState) (uint64, error) {
	local := e.LocalDevice()
	count := uint64(0)
	cursor := state.PushCursor
	for {
		batch, err := e.events.EventsSince(ctx, cursor, e.opts.BatchSize)
		if err != nil {
			return 0, err
		}
		for _, event := range batch {
			cursor = event.Sequence
			if event.OriginDevice == local {
				count++
			}
		}
		if len(batch) < e.opts.BatchSize {
			return count, nil
		}
	}
}

// ListConflicts returns unresolved conflicts recorded against a device;
// empty device lists every device's.
func (e *Engine) ListConflicts(remoteDevice string) ([]*store.Conflict, error) {
	return e.conflicts.ListConflicts(remoteDevice, false)
}

// ResolveConflict settles a pending conflict by user decision: keep the
// local branch or apply the held-back remote event.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, action store.ResolutionAction) error {
	conflict, err := e.conflicts.Conflict(conflictID)
	if err != nil {
		return err
	}
	if conflict == nil {
		return domain.RuleError(domain.ReasonNotFound,
			fmt.Sprintf("conflict %s does not exist", conflictID))
	}
	if conflict.Resolved {
		return nil
	}

	state, err := e.devices.DeviceState(conflict.RemoteDevice)
	if err != nil {
		return err
	}
	if state == nil {
		return domain.RuleError(domain.ReasonNotFound,
			fmt.Sprintf("device %q is not registered", conflict.RemoteDevice))
	}

	var remote domain.Event
	if len(conflict.RemoteEvent) > 0 {
		if err := json.Unmarshal(conflict.RemoteEvent, &remote); err != nil {
			return domain.IntegrityError(domain.ReasonCorruptPayload,
				"held-back remote event does not decode", err)
		}
	}

	switch action {
	case store.ResolutionLocalKept:
		if remote.ID != "" && remote.AggregateType == scope.AggregateScope {
			current, err := e.events.LatestVersion(ctx, remote.AggregateID)
			if err != nil {
				return err
			}
			if current > 0 {
				head, err := e.headEvent(ctx, remote.AggregateID, current)
				if err != nil {
					return err
				}
				supersession, err := e.supersessionEvent(remote.AggregateID, current+1, remote.ID, head.ID, conflict.RemoteDevice, StrategyManual)
				if err != nil {
					return err
				}
				stored, err := e.events.Append(ctx, current+1, []*domain.Event{supersession})
				if err != nil {
					return err
				}
				e.project(stored)
			}
		}

	case store.ResolutionRemoteApplied:
		if remote.ID == "" {
			return domain.SyncError(domain.ReasonStrategyInapplicable,
				"conflict carries no remote event to apply", nil)
		}
		current, err := e.events.LatestVersion(ctx, remote.AggregateID)
		if err != nil {
			return err
		}
		head, err := e.headEvent(ctx, remote.AggregateID, current)
		if err != nil {
			return err
		}
		report := &Report{RemoteDevice: conflict.RemoteDevice}
		if err := e.applyRemote(ctx, state, &remote, head, conflict.Kind, StrategyManual, report); err != nil {
			return err
		}

	default:
		return domain.SyncError(domain.ReasonStrategyInapplicable,
			fmt.Sprintf("action %q is not a valid resolution", action), nil)
	}

	return e.conflicts.MarkResolved(conflictID, action, e.clk.Now())
}
