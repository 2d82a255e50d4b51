package scope

import (
	"github.com/kamiazya/scopes/pkg/eventsourcing"
)

// Aggregate type names.
const (
	AggregateScope       = "Scope"
	AggregateAspectDef   = "AspectDefinition"
	AggregateContextView = "ContextView"
)

// Stable event type identifiers. These are wire contracts: never renumber
// or reuse one.
const (
	EventScopeCreated            = "scope.created.v1"
	EventScopeTitleChanged       = "scope.title_changed.v1"
	EventScopeDescriptionChanged = "scope.description_changed.v1"
	EventScopeParentChanged      = "scope.parent_changed.v1"
	EventScopeArchived           = "scope.archived.v1"
	EventScopeRestored           = "scope.restored.v1"
	EventScopeDeleted            = "scope.deleted.v1"
	EventScopeAliasAdded         = "scope.alias_added.v1"
	EventScopeAliasRemoved       = "scope.alias_removed.v1"
	EventScopeCanonicalChanged   = "scope.canonical_alias_changed.v1"
	EventScopeAspectSet          = "scope.aspect_set.v1"
	EventScopeAspectUnset        = "scope.aspect_unset.v1"
	EventScopeSyncSuperseded     = "scope.sync_superseded.v1"

	EventAspectDefined     = "aspect_definition.created.v1"
	EventAspectDefUpdated  = "aspect_definition.updated.v1"
	EventAspectDefDeleted  = "aspect_definition.deleted.v1"

	EventContextViewCreated = "context_view.created.v1"
	EventContextViewUpdated = "context_view.updated.v1"
	EventContextViewDeleted = "context_view.deleted.v1"
)

// ScopeCreated records the birth of a scope. CanonicalAlias is always set:
// when the caller supplies none it is generated from the scope ID.
type ScopeCreated struct {
	Title          string              `json:"title"`
	Description    string              `json:"description,omitempty"`
	ParentID       string              `json:"parent_id,omitempty"`
	CanonicalAlias string              `json:"canonical_alias"`
	Aspects        map[string][]string `json:"aspects,omitempty"`
}

func (ScopeCreated) EventType() string { return EventScopeCreated }

type ScopeTitleChanged struct {
	OldTitle string `json:"old_title"`
	Title    string `json:"title"`
}

func (ScopeTitleChanged) EventType() string { return EventScopeTitleChanged }

type ScopeDescriptionChanged struct {
	Description string `json:"description"`
}

func (ScopeDescriptionChanged) EventType() string { return EventScopeDescriptionChanged }

type ScopeParentChanged struct {
	OldParentID string `json:"old_parent_id,omitempty"`
	ParentID    string `json:"parent_id,omitempty"`
}

func (ScopeParentChanged) EventType() string { return EventScopeParentChanged }

type ScopeArchived struct{}

func (ScopeArchived) EventType() string { return EventScopeArchived }

type ScopeRestored struct{}

func (ScopeRestored) EventType() string { return EventScopeRestored }

// ScopeDeleted is a tombstone; the stream stays, later replays fold it in.
type ScopeDeleted struct{}

func (ScopeDeleted) EventType() string { return EventScopeDeleted }

type ScopeAliasAdded struct {
	Name string `json:"name"`
}

func (ScopeAliasAdded) EventType() string { return EventScopeAliasAdded }

type ScopeAliasRemoved struct {
	Name string `json:"name"`
}

func (ScopeAliasRemoved) EventType() string { return EventScopeAliasRemoved }

type ScopeCanonicalAliasChanged struct {
	OldName string `json:"old_name"`
	Name    string `json:"name"`
}

func (ScopeCanonicalAliasChanged) EventType() string { return EventScopeCanonicalChanged }

type ScopeAspectSet struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

func (ScopeAspectSet) EventType() string { return EventScopeAspectSet }

type ScopeAspectUnset struct {
	Key string `json:"key"`
}

func (ScopeAspectUnset) EventType() string { return EventScopeAspectUnset }

// ScopeSyncSuperseded is the compensating event appended by conflict
// resolution. It marks a stored event as shadowed by another without ever
// rewriting history.
type ScopeSyncSuperseded struct {
	SupersededEventID string `json:"superseded_event_id"`
	WinningEventID    string `json:"winning_event_id"`
	RemoteDevice      string `json:"remote_device"`
	Strategy          string `json:"strategy"`
}

func (ScopeSyncSuperseded) EventType() string { return EventScopeSyncSuperseded }

// AspectDefined declares an aspect key.
type AspectDefined struct {
	Key           string   `json:"key"`
	ValueType     string   `json:"value_type"`
	AllowMultiple bool     `json:"allow_multiple"`
	AllowedValues []string `json:"allowed_values,omitempty"`
	Description   string   `json:"description,omitempty"`
}

func (AspectDefined) EventType() string { return EventAspectDefined }

type AspectDefUpdated struct {
	AllowMultiple bool     `json:"allow_multiple"`
	AllowedValues []string `json:"allowed_values,omitempty"`
	Description   string   `json:"description,omitempty"`
}

func (AspectDefUpdated) EventType() string { return EventAspectDefUpdated }

type AspectDefDeleted struct{}

func (AspectDefDeleted) EventType() string { return EventAspectDefDeleted }

type ContextViewCreated struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Filter      string `json:"filter"`
	Description string `json:"description,omitempty"`
}

func (ContextViewCreated) EventType() string { return EventContextViewCreated }

type ContextViewUpdated struct {
	Name        string `json:"name"`
	Filter      string `json:"filter"`
	Description string `json:"description,omitempty"`
}

func (ContextViewUpdated) EventType() string { return EventContextViewUpdated }

type ContextViewDeleted struct{}

func (ContextViewDeleted) EventType() string { return EventContextViewDeleted }

// RegisterEvents registers every payload type. Call once at wiring time;
// replaying a log with an unregistered type is an integrity error.
func RegisterEvents(registry *eventsourcing.TypeRegistry) {
	registry.Register(func() eventsourcing.Payload { return &ScopeCreated{} })
	registry.Register(func() eventsourcing.Payload { return &ScopeTitleChanged{} })
	registry.Register(func() eventsourcing.Payload { return &ScopeDescriptionChanged{} })
	registry.Register(func() eventsourcing.Payload { return &ScopeParentChanged{} })
	registry.Register(func() eventsourcing.Payload { return &ScopeArchived{} })
	registry.Register(func() eventsourcing.Payload { return &ScopeRestored{} })
	registry.Register(func() eventsourcing.Payload { return &ScopeDeleted{} })
	registry.Register(func() eventsourcing.Payload { return &ScopeAliasAdded{} })
	registry.Register(func() eventsourcing.Payload { return &ScopeAliasRemoved{} })
	registry.Register(func() eventsourcing.Payload { return &ScopeCanonicalAliasChanged{} })
	registry.Register(func() eventsourcing.Payload { return &ScopeAspectSet{} })
	registry.Register(func() eventsourcing.Payload { return &ScopeAspectUnset{} })
	registry.Register(func() eventsourcing.Payload { return &ScopeSyncSuperseded{} })
	registry.Register(func() eventsourcing.Payload { return &AspectDefined{} })
	registry.Register(func() eventsourcing.Payload { return &AspectDefUpdated{} })
	registry.Register(func() eventsourcing.Payload { return &AspectDefDeleted{} })
	registry.Register(func() eventsourcing.Payload { return &ContextViewCreated{} })
	registry.Register(func() eventsourcing.Payload { return &ContextViewUpdated{} })
	registry.Register(func() eventsourcing.Payload { return &ContextViewDeleted{} })
}
