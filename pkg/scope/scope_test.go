package scope_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/eventsourcing"
	"github.com/kamiazya/scopes/pkg/scope"
)

func foldScope(t *testing.T, id string, payloads ...eventsourcing.Payload) *scope.Scope {
	t.Helper()

	state := scope.NewScope(id)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, payload := range payloads {
		event := &domain.Event{
			AggregateID: id,
			Version:     uint64(i + 1),
			OccurredAt:  at.Add(time.Duration(i) * time.Minute),
		}
		next, err := scope.Apply(state, event, payload)
		require.NoError(t, err)
		state = next
	}
	return state
}

func TestApplyFoldsScopeState(t *testing.T) {
	state := foldScope(t, "scope-1",
		&scope.ScopeCreated{Title: "Tasks", CanonicalAlias: "quiet-river-x7k2", ParentID: "root-1"},
		&scope.ScopeTitleChanged{OldTitle: "Tasks", Title: "Chores"},
		&scope.ScopeAliasAdded{Name: "chores"},
		&scope.ScopeAspectSet{Key: "priority", Values: []string{"high"}},
		&scope.ScopeParentChanged{OldParentID: "root-1", ParentID: "root-2"},
	)

	assert.Equal(t, "Chores", state.Title)
	assert.Equal(t, "root-2", state.ParentID)
	assert.Equal(t, "quiet-river-x7k2", state.CanonicalAlias)
	assert.Equal(t, []string{"quiet-river-x7k2", "chores"}, state.AllAliases())
	assert.Equal(t, []string{"high"}, state.Aspects["priority"])
	assert.True(t, state.Live())
}

func TestApplyCanonicalAliasChangeKeepsOldName(t *testing.T) {
	state := foldScope(t, "scope-1",
		&scope.ScopeCreated{Title: "Tasks", CanonicalAlias: "old-name"},
		&scope.ScopeCanonicalAliasChanged{OldName: "old-name", Name: "new-name"},
	)

	assert.Equal(t, "new-name", state.CanonicalAlias)
	assert.True(t, state.HasAlias("old-name"))
	assert.True(t, state.HasAlias("new-name"))
}

func TestApplyArchiveAndDelete(t *testing.T) {
	state := foldScope(t, "scope-1",
		&scope.ScopeCreated{Title: "Tasks", CanonicalAlias: "tasks"},
		&scope.ScopeArchived{},
	)
	assert.True(t, state.Archived)
	assert.True(t, state.Exists())
	assert.False(t, state.Live())

	state = foldScope(t, "scope-1",
		&scope.ScopeCreated{Title: "Tasks", CanonicalAlias: "tasks"},
		&scope.ScopeDeleted{},
	)
	assert.False(t, state.Exists())
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	created := foldScope(t, "scope-1",
		&scope.ScopeCreated{Title: "Tasks", CanonicalAlias: "tasks"},
	)

	_, err := scope.Apply(created, &domain.Event{Version: 2}, &scope.ScopeAliasAdded{Name: "extra"})
	require.NoError(t, err)
	assert.False(t, created.HasAlias("extra"), "Apply must copy, not mutate")
}

func TestDecideRename(t *testing.T) {
	state := foldScope(t, "scope-1",
		&scope.ScopeCreated{Title: "Tasks", CanonicalAlias: "tasks"},
	)

	title, err := scope.NewTitle("Chores")
	require.NoError(t, err)

	payloads, err := scope.DecideRename(state, scope.RenameScope{ScopeID: "scope-1", Title: title})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, "Chores", payloads[0].(*scope.ScopeTitleChanged).Title)

	t.Run("same title is a no-op", func(t *testing.T) {
		same, err := scope.NewTitle("Tasks")
		require.NoError(t, err)
		payloads, err := scope.DecideRename(state, scope.RenameScope{ScopeID: "scope-1", Title: same})
		require.NoError(t, err)
		assert.Empty(t, payloads)
	})

	t.Run("archived scope rejects mutation", func(t *testing.T) {
		archived := foldScope(t, "scope-1",
			&scope.ScopeCreated{Title: "Tasks", CanonicalAlias: "tasks"},
			&scope.ScopeArchived{},
		)
		_, err := scope.DecideRename(archived, scope.RenameScope{ScopeID: "scope-1", Title: title})
		assert.Equal(t, domain.ReasonArchived, domain.ReasonOf(err))
	})
}

func TestDecideMoveRejectsSelfParent(t *testing.T) {
	state := foldScope(t, "scope-1",
		&scope.ScopeCreated{Title: "Tasks", CanonicalAlias: "tasks"},
	)

	_, err := scope.DecideMove(state, scope.MoveScope{ScopeID: "scope-1", ParentID: "scope-1"})
	assert.Equal(t, domain.ReasonCycle, domain.ReasonOf(err))
}

func TestDecideRemoveAlias(t *testing.T) {
	state := foldScope(t, "scope-1",
		&scope.ScopeCreated{Title: "Tasks", CanonicalAlias: "tasks"},
		&scope.ScopeAliasAdded{Name: "extra"},
	)

	t.Run("canonical cannot be removed", func(t *testing.T) {
		_, err := scope.DecideRemoveAlias(state, scope.RemoveAlias{ScopeID: "scope-1", Name: "tasks"})
		assert.Equal(t, domain.ReasonCanonicalAlias, domain.ReasonOf(err))
	})

	t.Run("custom alias removes", func(t *testing.T) {
		payloads, err := scope.DecideRemoveAlias(state, scope.RemoveAlias{ScopeID: "scope-1", Name: "extra"})
		require.NoError(t, err)
		require.Len(t, payloads, 1)
	})

	t.Run("unknown alias", func(t *testing.T) {
		_, err := scope.DecideRemoveAlias(state, scope.RemoveAlias{ScopeID: "scope-1", Name: "nope"})
		assert.Equal(t, domain.ReasonNotFound, domain.ReasonOf(err))
	})
}

func TestDecideCreateGeneratesCanonicalAlias(t *testing.T) {
	title, err := scope.NewTitle("Tasks")
	require.NoError(t, err)

	payloads, err := scope.DecideCreate(scope.CreateScope{
		ScopeID: "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Title:   title,
	})
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	created := payloads[0].(*scope.ScopeCreated)
	assert.Equal(t, scope.GenerateCanonicalAlias("01ARZ3NDEKTSV4RRFFQ69G5FAV"), created.CanonicalAlias)
}
