package command

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kamiazya/scopes/pkg/clock"
	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/eventsourcing"
	"github.com/kamiazya/scopes/pkg/idgen"
	"github.com/kamiazya/scopes/pkg/observability"
	"github.com/kamiazya/scopes/pkg/projection"
	"github.com/kamiazya/scopes/pkg/runner"
	"github.com/kamiazya/scopes/pkg/scope"
	"github.com/kamiazya/scopes/pkg/store"
)

// Command is one of the typed commands in this package's dispatch set; see
// commandType for the closed enumeration.
type Command any

// Result reports a handled command.
type Result struct {
	// AggregateID is the target aggregate; for creations, the new id.
	AggregateID string

	// Version is the aggregate version after the command.
	Version uint64

	// Events are the stored events; empty when the command was a no-op.
	Events []*domain.Event
}

// Pipeline is the command port. Each command runs in three phases:
// preflight (lock), validate-and-decide (cross-aggregate checks against the
// projection snapshot, replay, pure decide), and commit (append with
// expected version, synchronous projection update). Version conflicts are
// retried a bounded number of times with fresh state.
type Pipeline struct {
	events      store.EventStore
	projections *projection.Store
	serializer  eventsourcing.Serializer
	ids         *idgen.Generator
	clk         clock.Clock
	cfg         Config
	locks       *lockTable
	logger      runner.Logger
	metrics     *observability.Metrics
	chain       Handler

	// validateMu serializes validate-and-commit so the projection snapshot
	// a validator reads cannot shift before the matching append lands.
	validateMu sync.Mutex

	scopes  *eventsourcing.Repository[*scope.Scope]
	aspects *eventsourcing.Repository[*scope.AspectDefState]
	views   *eventsourcing.Repository[*scope.ContextViewState]
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline, *pipelineConfig)

type pipelineConfig struct {
	middleware []Middleware
	snapshots  store.SnapshotStore
}

// WithLogger sets the pipeline logger.
func WithLogger(logger runner.Logger) PipelineOption {
	return func(p *Pipeline, _ *pipelineConfig) { p.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) PipelineOption {
	return func(p *Pipeline, _ *pipelineConfig) { p.metrics = metrics }
}

// WithClock sets the clock used for occurred-at stamps.
func WithClock(clk clock.Clock) PipelineOption {
	return func(p *Pipeline, _ *pipelineConfig) { p.clk = clk }
}

// WithIDGenerator sets the ULID generator.
func WithIDGenerator(ids *idgen.Generator) PipelineOption {
	return func(p *Pipeline, _ *pipelineConfig) { p.ids = ids }
}

// WithMiddleware appends middleware; first added runs outermost.
func WithMiddleware(mw ...Middleware) PipelineOption {
	return func(_ *Pipeline, c *pipelineConfig) { c.middleware = append(c.middleware, mw...) }
}

// WithSnapshotStore makes scope loads start from the latest stored
// snapshot. The pipeline itself never writes snapshots; only
// eventsourcing.Repository.MaybeSnapshot does.
func WithSnapshotStore(snapshots store.SnapshotStore) PipelineOption {
	return func(_ *Pipeline, c *pipelineConfig) { c.snapshots = snapshots }
}

// NewPipeline wires the command port.
func NewPipeline(
	events store.EventStore,
	projections *projection.Store,
	serializer eventsourcing.Serializer,
	cfg Config,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		events:      events,
		projections: projections,
		serializer:  serializer,
		ids:         idgen.NewGenerator(),
		clk:         clock.NewSystem(),
		cfg:         cfg.withDefaults(),
		locks:       newLockTable(),
		logger:      runner.NewNoopLogger(),
	}

	pc := &pipelineConfig{}
	for _, opt := range opts {
		opt(p, pc)
	}

	p.scopes = eventsourcing.NewRepository(events, serializer, scope.AggregateScope,
		scope.NewScope, scope.Apply, scopeSnapshotOption(pc.snapshots)...)
	p.aspects = eventsourcing.NewRepository(events, serializer, scope.AggregateAspectDef,
		scope.NewAspectDefState, scope.ApplyAspectDef)
	p.views = eventsourcing.NewRepository(events, serializer, scope.AggregateContextView,
		scope.NewContextViewState, scope.ApplyContextView)

	handler := p.dispatch
	for i := len(pc.middleware) - 1; i >= 0; i-- {
		handler = pc.middleware[i](handler)
	}
	p.chain = handler

	return p
}

func scopeSnapshotOption(snapshots store.SnapshotStore) []eventsourcing.RepositoryOption[*scope.Scope] {
	if snapshots == nil {
		return nil
	}
	return []eventsourcing.RepositoryOption[*scope.Scope]{
		eventsourcing.WithSnapshots(snapshots, scope.SnapshotCodec(), 50),
	}
}

// Execute submits a typed command and returns a typed result or error.
func (p *Pipeline) Execute(ctx context.Context, cmd Command) (*Result, error) {
	return p.chain(ctx, cmd)
}

func (p *Pipeline) dispatch(ctx context.Context, cmd Command) (*Result, error) {
	switch c := cmd.(type) {
	case scope.CreateScope:
		return p.createScope(ctx, c)
	case scope.RenameScope:
		return p.renameScope(ctx, c)
	case scope.UpdateDescription:
		return p.updateDescription(ctx, c)
	case scope.MoveScope:
		return p.moveScope(ctx, c)
	case scope.ArchiveScope:
		return p.archiveScope(ctx, c)
	case scope.RestoreScope:
		return p.restoreScope(ctx, c)
	case scope.DeleteScope:
		return p.deleteScope(ctx, c)
	case scope.AddAlias:
		return p.addAlias(ctx, c)
	case scope.RemoveAlias:
		return p.removeAlias(ctx, c)
	case scope.SetCanonicalAlias:
		return p.setCanonicalAlias(ctx, c)
	case scope.SetAspect:
		return p.setAspect(ctx, c)
	case scope.UnsetAspect:
		return p.unsetAspect(ctx, c)
	case scope.DefineAspect:
		return p.defineAspect(ctx, c)
	case scope.UpdateAspectDefinition:
		return p.updateAspectDef(ctx, c)
	case scope.DeleteAspectDefinition:
		return p.deleteAspectDef(ctx, c)
	case scope.CreateContextView:
		return p.createContextView(ctx, c)
	case scope.UpdateContextView:
		return p.updateContextView(ctx, c)
	case scope.DeleteContextView:
		return p.deleteContextView(ctx, c)
	}
	return nil, domain.InputError(domain.ReasonMalformedReference,
		fmt.Sprintf("unsupported command type %T", cmd))
}

func commandType(cmd Command) string {
	switch cmd.(type) {
	case scope.CreateScope:
		return "scope.create"
	case scope.RenameScope:
		return "scope.rename"
	case scope.UpdateDescription:
		return "scope.update_description"
	case scope.MoveScope:
		return "scope.move"
	case scope.ArchiveScope:
		return "scope.archive"
	case scope.RestoreScope:
		return "scope.restore"
	case scope.DeleteScope:
		return "scope.delete"
	case scope.AddAlias:
		return "scope.add_alias"
	case scope.RemoveAlias:
		return "scope.remove_alias"
	case scope.SetCanonicalAlias:
		return "scope.set_canonical_alias"
	case scope.SetAspect:
		return "scope.set_aspect"
	case scope.UnsetAspect:
		return "scope.unset_aspect"
	case scope.DefineAspect:
		return "aspect.define"
	case scope.UpdateAspectDefinition:
		return "aspect.update"
	case scope.DeleteAspectDefinition:
		return "aspect.delete"
	case scope.CreateContextView:
		return "context.create"
	case scope.UpdateContextView:
		return "context.update"
	case scope.DeleteContextView:
		return "context.delete"
	}
	return fmt.Sprintf("unknown(%T)", cmd)
}

// run holds the per-aggregate lock across validate and commit, retrying the
// attempt on version conflicts and transient storage errors with doubling
// backoff and jitter.
func (p *Pipeline) run(ctx context.Context, aggregateID string, attempt func(context.Context) (*Result, error)) (*Result, error) {
	unlock := p.locks.Lock(aggregateID)
	defer unlock()

	var lastErr error
	for i := 0; i <= p.cfg.AppendRetries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.TimeoutError(domain.ReasonCancelled, err)
		}

		result, err := p.guardedAttempt(ctx, attempt)
		if err == nil {
			return result, nil
		}
		if !domain.IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		if i == p.cfg.AppendRetries {
			break
		}
		p.metrics.CommandRetry(ctx, "retry")
		backoff := p.cfg.RetryBaseBackoff * time.Duration(1<<uint(i))
		jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return nil, domain.TimeoutError(domain.ReasonCancelled, ctx.Err())
		}
	}
	return nil, lastErr
}

func (p *Pipeline) guardedAttempt(ctx context.Context, attempt func(context.Context) (*Result, error)) (*Result, error) {
	p.validateMu.Lock()
	defer p.validateMu.Unlock()
	return attempt(ctx)
}

// buildEvent assembles the domain event for one decided payload.
func (p *Pipeline) buildEvent(
	aggregateType, aggregateID string,
	version uint64,
	payload eventsourcing.Payload,
	constraints []domain.UniqueConstraint,
) (*domain.Event, error) {
	data, err := p.serializer.Serialize(payload)
	if err != nil {
		return nil, err
	}

	return &domain.Event{
		ID:                p.ids.New(),
		AggregateID:       aggregateID,
		AggregateType:     aggregateType,
		EventType:         payload.EventType(),
		Version:           version,
		Payload:           data,
		OccurredAt:        p.clk.Now(),
		OriginDevice:      p.events.DeviceID(),
		UniqueConstraints: constraints,
	}, nil
}

// commit appends decided payloads and folds them into the projections
// before the validate lock is released.
func (p *Pipeline) commit(
	ctx context.Context,
	aggregateType, aggregateID string,
	current uint64,
	payloads []eventsourcing.Payload,
	constraints []domain.UniqueConstraint,
) (*Result, error) {
	if len(payloads) == 0 {
		return &Result{AggregateID: aggregateID, Version: current}, nil
	}

	events := make([]*domain.Event, 0, len(payloads))
	for i, payload := range payloads {
		var cs []domain.UniqueConstraint
		if i == 0 {
			cs = constraints
		}
		event, err := p.buildEvent(aggregateType, aggregateID, current+1+uint64(i), payload, cs)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	stored, err := p.events.Append(ctx, current+1, events)
	if err != nil {
		return nil, mapConstraintErr(err)
	}

	for _, event := range stored {
		if err := p.projections.Apply(event); err != nil {
			// The event is committed; a projection failure here is an
			// integrity signal, not a command failure. The subscriber
			// re-applies from the log on restart.
			p.logger.Error("synchronous projection update failed",
				"event_id", event.ID, "error", err)
		}
	}

	return &Result{
		AggregateID: aggregateID,
		Version:     stored[len(stored)-1].Version,
		Events:      stored,
	}, nil
}

// mapConstraintErr rewrites constraint-index violations from the store into
// the domain-rule errors callers match on.
func mapConstraintErr(err error) error {
	if !errors.Is(err, domain.ErrUniqueViolation) {
		return err
	}
	var e *domain.Error
	if !errors.As(err, &e) {
		return err
	}

	reason := map[string]string{
		indexAlias:        domain.ReasonAliasTaken,
		indexSiblingTitle: domain.ReasonDuplicateSiblingTitle,
		indexAspectKey:    domain.ReasonAspectKeyTaken,
		indexContextKey:   domain.ReasonContextKeyTaken,
	}[e.Reason]
	if reason == "" {
		return err
	}

	out := *e
	out.Reason = reason
	return &out
}

// Constraint index names shared with the event stores.
const (
	indexAlias        = "alias"
	indexSiblingTitle = "sibling_title"
	indexAspectKey    = "aspect_key"
	indexContextKey   = "context_key"
)

// titleClaim builds the sibling-title constraint value: one claim per
// (parent, normalized title) pair among live scopes.
func titleClaim(parentID, title string) string {
	return parentID + "\x1f" + scope.NormalizeTitle(title)
}
