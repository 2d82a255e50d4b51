package eventsourcing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/eventsourcing"
	"github.com/kamiazya/scopes/pkg/scope"
)

func newSerializer(t *testing.T) (*eventsourcing.TypeRegistry, *eventsourcing.JSONSerializer) {
	t.Helper()
	registry := eventsourcing.NewTypeRegistry()
	scope.RegisterEvents(registry)
	return registry, eventsourcing.NewJSONSerializer(registry)
}

func TestSerializeRoundTrip(t *testing.T) {
	_, serializer := newSerializer(t)

	payloads := []eventsourcing.Payload{
		&scope.ScopeCreated{
			Title:          "Tasks",
			Description:    "all the chores",
			ParentID:       "01ARZ3NDEKTSV4RRFFQ69G5FAV",
			CanonicalAlias: "quiet-river-x7k2",
			Aspects:        map[string][]string{"priority": {"high"}},
		},
		&scope.ScopeTitleChanged{OldTitle: "Tasks", Title: "Chores"},
		&scope.ScopeParentChanged{OldParentID: "a", ParentID: "b"},
		&scope.ScopeArchived{},
		&scope.ScopeAliasAdded{Name: "chores"},
		&scope.ScopeCanonicalAliasChanged{OldName: "a", Name: "b"},
		&scope.ScopeAspectSet{Key: "priority", Values: []string{"high", "urgent"}},
		&scope.ScopeSyncSuperseded{SupersededEventID: "e1", WinningEventID: "e2", RemoteDevice: "laptop", Strategy: "last-write-wins"},
		&scope.AspectDefined{Key: "priority", ValueType: "ordinal", AllowedValues: []string{"low", "high"}},
		&scope.ContextViewCreated{Key: "urgent", Name: "Urgent", Filter: `priority = high`},
	}

	for _, payload := range payloads {
		t.Run(payload.EventType(), func(t *testing.T) {
			data, err := serializer.Serialize(payload)
			require.NoError(t, err)

			decoded, err := serializer.Deserialize(payload.EventType(), data)
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestDeserializeUnknownType(t *testing.T) {
	_, serializer := newSerializer(t)

	_, err := serializer.Deserialize("scope.invented.v9", []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrUnknownEventType)
	assert.Equal(t, domain.KindIntegrity, domain.KindOf(err))
}

func TestDeserializeCorruptPayload(t *testing.T) {
	_, serializer := newSerializer(t)

	_, err := serializer.Deserialize(scope.EventScopeCreated, []byte(`{not json`))
	assert.ErrorIs(t, err, domain.ErrCorruptedStream)
	assert.Equal(t, domain.ReasonCorruptPayload, domain.ReasonOf(err))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := eventsourcing.NewTypeRegistry()
	registry.Register(func() eventsourcing.Payload { return &scope.ScopeCreated{} })

	assert.Panics(t, func() {
		registry.Register(func() eventsourcing.Payload { return &scope.ScopeCreated{} })
	})
}

func TestRegistryTypes(t *testing.T) {
	registry, _ := newSerializer(t)
	types := registry.Types()
	assert.Contains(t, types, scope.EventScopeCreated)
	assert.Contains(t, types, scope.EventContextViewDeleted)
	assert.True(t, registry.Known(scope.EventScopeDeleted))
	assert.False(t, registry.Known("scope.invented.v9"))
}
