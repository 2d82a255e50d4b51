package resolve_test

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
	"github.com/kamiazya/scopes/pkg/resolve"
	"github.com/kamiazya/scopes/pkg/scope"
	"github.com/kamiazya/scopes/pkg/store/memory"
)

func seedScope(t *testing.T, projections *projection.Store, serializer eventsourcing.Serializer, events *memory.EventStore, id, alias string) {
	t.Helper()
	data, err := serializer.Serialize(&scope.ScopeCreated{Title: "Tasks " + id, CanonicalAlias: alias})
	require.NoError(t, err)
	stored, err := events.Append(context.Background(), 1, []*domain.Event{{
		ID:            idgen.MustGenerateSortableID(),
		AggregateID:   id,
		AggregateType: scope.AggregateScope,
		EventType:     scope.EventScopeCreated,
		Version:       1,
		Payload:       data,
		OccurredAt:    time.Now().UTC(),
		OriginDevice:  "laptop",
	}})
	require.NoError(t, err)
	require.NoError(t, projections.Apply(stored[0]))
}

func TestResolve(t *testing.T) {
	registry := eventsourcing.NewTypeRegistry()
	scope.RegisterEvents(registry)
	serializer := eventsourcing.NewJSONSerializer(registry)
	events := memory.NewEventStore("laptop")
	projections := projection.NewStore(serializer)
	resolver := resolve.New(projections)

	scopeID := idgen.MustGenerateSortableID()
	seedScope(t, projections, serializer, events, scopeID, "tasks")

	t.Run("by ULID", func(t *testing.T) {
		id, err := resolver.Resolve(scopeID)
		require.NoError(t, err)
		assert.Equal(t, scopeID, id)
	})

	t.Run("by alias", func(t *testing.T) {
		id, err := resolver.Resolve("tasks")
		require.NoError(t, err)
		assert.Equal(t, scopeID, id)
	})

	t.Run("alias lookup is case-insensitive", func(t *testing.T) {
		id, err := resolver.Resolve("TASKS")
		require.NoError(t, err)
		assert.Equal(t, scopeID, id)
	})

	t.Run("unknown reference", func(t *testing.T) {
		_, err := resolver.Resolve("nothing-here")
		assert.Equal(t, domain.ReasonNotFound, domain.ReasonOf(err))
	})

	t.Run("empty reference", func(t *testing.T) {
		_, err := resolver.Resolve("  ")
		assert.Equal(t, domain.ReasonMalformedReference, domain.ReasonOf(err))
	})

	t.Run("ULID-shaped reference falls back to alias lookup", func(t *testing.T) {
		// 26 chars from the Crockford set, but registered as an alias of
		// another scope, not as an id.
		weird := "abcdefghjkmnpqrstvwxyz0123"
		otherID := idgen.MustGenerateSortableID()
		seedScope(t, projections, serializer, events, otherID, weird)

		id, err := resolver.Resolve(weird)
		require.NoError(t, err)
		assert.Equal(t, otherID, id)
	})
}
