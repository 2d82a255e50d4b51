package validate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/eventsourcing"
	"github.com/kamiazya/scopes/pkg/idgen"
	"github.com/kamiazya/scopes/pkg/projection"
	"github.com/kamiazya/scopes/pkg/scope"
	"github.com/kamiazya/scopes/pkg/store/memory"
	"github.com/kamiazya/scopes/pkg/validate"
)

type world struct {
	events      *memory.EventStore
	serializer  *eventsourcing.JSONSerializer
	projections *projection.Store
	ids         *idgen.Generator
	versions    map[string]uint64
	t           *testing.T
}

func newWorld(t *testing.T) *world {
	registry := eventsourcing.NewTypeRegistry()
	scope.RegisterEvents(registry)
	serializer := eventsourcing.NewJSONSerializer(registry)
	return &world{
		events:      memory.NewEventStore("laptop"),
		serializer:  serializer,
		projections: projection.NewStore(serializer),
		ids:         idgen.NewGenerator(),
		versions:    make(map[string]uint64),
		t:           t,
	}
}

func (w *world) emit(aggregateType, aggregateID string, payload eventsourcing.Payload) {
	w.t.Helper()
	data, err := w.serializer.Serialize(payload)
	require.NoError(w.t, err)

	version := w.versions[aggregateID] + 1
	stored, err := w.events.Append(context.Background(), version, []*domain.Event{{
		ID:            w.ids.New(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     payload.EventType(),
		Version:       version,
		Payload:       data,
		OccurredAt:    time.Now().UTC(),
		OriginDevice:  "laptop",
	}})
	require.NoError(w.t, err)
	w.versions[aggregateID] = version
	for _, e := range stored {
		require.NoError(w.t, w.projections.Apply(e))
	}
}

func (w *world) scope(id, title, parent, alias string) {
	w.emit(scope.AggregateScope, id, &scope.ScopeCreated{Title: title, ParentID: parent, CanonicalAlias: alias})
}

func title(t *testing.T, raw string) scope.Title {
	t.Helper()
	title, err := scope.NewTitle(raw)
	require.NoError(t, err)
	return title
}

func TestUniqueSiblingTitle(t *testing.T) {
	w := newWorld(t)
	w.scope("root-1", "Projects", "", "projects")
	w.scope("child-1", "Tasks", "root-1", "tasks")

	t.Run("duplicate rejected case-insensitively", func(t *testing.T) {
		err := validate.UniqueSiblingTitle(w.projections, "root-1", title(t, "tasks"), "")
		assert.Equal(t, domain.KindDomainRule, domain.KindOf(err))
		assert.Equal(t, domain.ReasonDuplicateSiblingTitle, domain.ReasonOf(err))
	})

	t.Run("same title under other parent passes", func(t *testing.T) {
		assert.NoError(t, validate.UniqueSiblingTitle(w.projections, "", title(t, "Tasks"), ""))
	})

	t.Run("excluding the scope itself passes", func(t *testing.T) {
		assert.NoError(t, validate.UniqueSiblingTitle(w.projections, "root-1", title(t, "Tasks"), "child-1"))
	})

	t.Run("archived sibling does not block", func(t *testing.T) {
		w.emit(scope.AggregateScope, "child-1", &scope.ScopeArchived{})
		assert.NoError(t, validate.UniqueSiblingTitle(w.projections, "root-1", title(t, "Tasks"), ""))
	})
}

func TestDepthWithinLimit(t *testing.T) {
	max := 3

	t.Run("unlimited when nil", func(t *testing.T) {
		assert.NoError(t, validate.DepthWithinLimit(100, nil))
	})

	t.Run("exactly at the limit passes", func(t *testing.T) {
		assert.NoError(t, validate.DepthWithinLimit(2, &max)) // attempted depth 3
	})

	t.Run("one past the limit fails with attempted depth", func(t *testing.T) {
		err := validate.DepthWithinLimit(3, &max) // attempted depth 4
		require.Error(t, err)
		assert.Equal(t, domain.ReasonDepthExceeded, domain.ReasonOf(err))
		var e *domain.Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, 4, e.Context["attempted_depth"])
	})
}

func TestChildrenWithinLimit(t *testing.T) {
	max := 2
	assert.NoError(t, validate.ChildrenWithinLimit(1, &max))
	assert.NoError(t, validate.ChildrenWithinLimit(5, nil))

	err := validate.ChildrenWithinLimit(2, &max)
	assert.Equal(t, domain.ReasonChildrenExceeded, domain.ReasonOf(err))
}

func TestAliasGloballyUnique(t *testing.T) {
	w := newWorld(t)
	w.scope("scope-1", "Tasks", "", "tasks")

	assert.NoError(t, validate.AliasGloballyUnique(w.projections, "fresh", ""))
	assert.NoError(t, validate.AliasGloballyUnique(w.projections, "tasks", "scope-1"))

	err := validate.AliasGloballyUnique(w.projections, "tasks", "")
	assert.Equal(t, domain.ReasonAliasTaken, domain.ReasonOf(err))

	t.Run("archived scope keeps its aliases reserved", func(t *testing.T) {
		w.emit(scope.AggregateScope, "scope-1", &scope.ScopeArchived{})
		err := validate.AliasGloballyUnique(w.projections, "tasks", "")
		assert.Equal(t, domain.ReasonAliasTaken, domain.ReasonOf(err))
	})
}

func TestNoCycle(t *testing.T) {
	w := newWorld(t)
	w.scope("a", "A", "", "alias-a")
	w.scope("b", "B", "a", "alias-b")
	w.scope("c", "C", "b", "alias-c")

	t.Run("moving a under c is a cycle", func(t *testing.T) {
		err := validate.NoCycle(w.projections, "c", "a")
		assert.Equal(t, domain.ReasonCycle, domain.ReasonOf(err))
	})

	t.Run("self parent is a cycle", func(t *testing.T) {
		err := validate.NoCycle(w.projections, "a", "a")
		assert.Equal(t, domain.ReasonCycle, domain.ReasonOf(err))
	})

	t.Run("sideways move passes", func(t *testing.T) {
		assert.NoError(t, validate.NoCycle(w.projections, "a", "c"))
		assert.NoError(t, validate.NoCycle(w.projections, "", "a"))
	})
}

func TestSubtreeWithinDepth(t *testing.T) {
	w := newWorld(t)
	w.scope("a", "A", "", "alias-a")
	w.scope("b", "B", "a", "alias-b")
	w.scope("c", "C", "b", "alias-c")
	w.scope("target", "Target", "", "alias-target")

	max := 3

	t.Run("subtree height counts", func(t *testing.T) {
		// Moving `a` (height 3) under `target` (depth 1) reaches depth 4.
		err := validate.SubtreeWithinDepth(w.projections, "a", 1, &max)
		assert.Equal(t, domain.ReasonDepthExceeded, domain.ReasonOf(err))
	})

	t.Run("leaf move within limit", func(t *testing.T) {
		assert.NoError(t, validate.SubtreeWithinDepth(w.projections, "c", 1, &max))
	})
}

func TestAspectNotInUse(t *testing.T) {
	w := newWorld(t)
	w.emit(scope.AggregateAspectDef, "def-1", &scope.AspectDefined{Key: "priority", ValueType: "string"})
	w.scope("scope-1", "Tasks", "", "tasks")
	w.emit(scope.AggregateScope, "scope-1", &scope.ScopeAspectSet{Key: "priority", Values: []string{"x"}})

	err := validate.AspectNotInUse(w.projections, "priority")
	assert.Equal(t, domain.ReasonAspectInUse, domain.ReasonOf(err))

	t.Run("archived usage does not block deletion", func(t *testing.T) {
		w.emit(scope.AggregateScope, "scope-1", &scope.ScopeArchived{})
		assert.NoError(t, validate.AspectNotInUse(w.projections, "priority"))
	})
}
