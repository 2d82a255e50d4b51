package scope

import (
	"fmt"
	"time"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/eventsourcing"
)

// Scope is the reconstituted aggregate state. It is only ever produced by
// folding events; commands never mutate it directly.
type Scope struct {
	ID             string
	Title          string
	Description    string
	ParentID       string
	CanonicalAlias string
	Aliases        []string // custom aliases, canonical excluded
	Aspects        map[string][]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Archived       bool
	Deleted        bool
}

// NewScope returns the empty state the replayer folds into.
func NewScope(id string) *Scope {
	return &Scope{ID: id, Aspects: make(map[string][]string)}
}

// Exists reports whether the scope has been created and not tombstoned.
func (s *Scope) Exists() bool {
	return !s.CreatedAt.IsZero() && !s.Deleted
}

// Live reports whether the scope participates in uniqueness and usage
// rules: created, not deleted, not archived.
func (s *Scope) Live() bool {
	return s.Exists() && !s.Archived
}

// AllAliases returns the canonical alias followed by custom aliases.
func (s *Scope) AllAliases() []string {
	out := make([]string, 0, len(s.Aliases)+1)
	if s.CanonicalAlias != "" {
		out = append(out, s.CanonicalAlias)
	}
	return append(out, s.Aliases...)
}

// HasAlias reports whether the scope carries the alias (canonical or custom).
func (s *Scope) HasAlias(name string) bool {
	if s.CanonicalAlias == name {
		return true
	}
	for _, a := range s.Aliases {
		if a == name {
			return true
		}
	}
	return false
}

// Apply folds one event into the state. It is the single transition
// function shared by replay, projections and tests.
func Apply(s *Scope, event *domain.Event, payload eventsourcing.Payload) (*Scope, error) {
	next := s.clone()
	next.UpdatedAt = event.OccurredAt

	switch p := payload.(type) {
	case *ScopeCreated:
		next.Title = p.Title
		next.Description = p.Description
		next.ParentID = p.ParentID
		next.CanonicalAlias = p.CanonicalAlias
		next.CreatedAt = event.OccurredAt
		for k, vs := range p.Aspects {
			next.Aspects[k] = append([]string(nil), vs...)
		}

	case *ScopeTitleChanged:
		next.Title = p.Title

	case *ScopeDescriptionChanged:
		next.Description = p.Description

	case *ScopeParentChanged:
		next.ParentID = p.ParentID

	case *ScopeArchived:
		next.Archived = true

	case *ScopeRestored:
		next.Archived = false

	case *ScopeDeleted:
		next.Deleted = true

	case *ScopeAliasAdded:
		next.Aliases = append(next.Aliases, p.Name)

	case *ScopeAliasRemoved:
		kept := next.Aliases[:0]
		for _, a := range next.Aliases {
			if a != p.Name {
				kept = append(kept, a)
			}
		}
		next.Aliases = kept

	case *ScopeCanonicalAliasChanged:
		next.CanonicalAlias = p.Name
		kept := next.Aliases[:0]
		for _, a := range next.Aliases {
			if a != p.Name {
				kept = append(kept, a)
			}
		}
		next.Aliases = kept
		// The old canonical name survives as a custom alias so existing
		// references keep resolving.
		if p.OldName != "" && !next.HasAlias(p.OldName) {
			next.Aliases = append(next.Aliases, p.OldName)
		}

	case *ScopeAspectSet:
		next.Aspects[p.Key] = append([]string(nil), p.Values...)

	case *ScopeAspectUnset:
		delete(next.Aspects, p.Key)

	case *ScopeSyncSuperseded:
		// Bookkeeping only: the superseded event's effect was already
		// folded; projections and sync record the supersession.

	default:
		return nil, fmt.Errorf("payload %T does not apply to a Scope", payload)
	}

	return next, nil
}

func (s *Scope) clone() *Scope {
	out := *s
	out.Aliases = append([]string(nil), s.Aliases...)
	out.Aspects = make(map[string][]string, len(s.Aspects))
	for k, vs := range s.Aspects {
		out.Aspects[k] = append([]string(nil), vs...)
	}
	return &out
}

// AspectDefState is the reconstituted aspect-definition aggregate.
type AspectDefState struct {
	ID         string
	Definition AspectDefinition
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Deleted    bool
}

// NewAspectDefState returns the empty state for the replayer.
func NewAspectDefState(id string) *AspectDefState {
	return &AspectDefState{ID: id}
}

// ApplyAspectDef folds one event into aspect-definition state.
func ApplyAspectDef(s *AspectDefState, event *domain.Event, payload eventsourcing.Payload) (*AspectDefState, error) {
	next := *s
	next.Definition.AllowedValues = append([]string(nil), s.Definition.AllowedValues...)
	next.UpdatedAt = event.OccurredAt

	switch p := payload.(type) {
	case *AspectDefined:
		next.Definition = AspectDefinition{
			Key:           p.Key,
			Type:          AspectType(p.ValueType),
			AllowMultiple: p.AllowMultiple,
			AllowedValues: append([]string(nil), p.AllowedValues...),
			Description:   p.Description,
		}
		next.CreatedAt = event.OccurredAt

	case *AspectDefUpdated:
		next.Definition.AllowMultiple = p.AllowMultiple
		next.Definition.AllowedValues = append([]string(nil), p.AllowedValues...)
		next.Definition.Description = p.Description

	case *AspectDefDeleted:
		next.Deleted = true

	default:
		return nil, fmt.Errorf("payload %T does not apply to an AspectDefinition", payload)
	}

	return &next, nil
}

// ContextViewState is the reconstituted context-view aggregate.
type ContextViewState struct {
	ID        string
	View      ContextView
	CreatedAt time.Time
	UpdatedAt time.Time
	Deleted   bool
}

// NewContextViewState returns the empty state for the replayer.
func NewContextViewState(id string) *ContextViewState {
	return &ContextViewState{ID: id}
}

// ApplyContextView folds one event into context-view state.
func ApplyContextView(s *ContextViewState, event *domain.Event, payload eventsourcing.Payload) (*ContextViewState, error) {
	next := *s
	next.UpdatedAt = event.OccurredAt

	switch p := payload.(type) {
	case *ContextViewCreated:
		next.View = ContextView{Key: p.Key, Name: p.Name, Filter: p.Filter, Description: p.Description}
		next.CreatedAt = event.OccurredAt

	case *ContextViewUpdated:
		next.View.Name = p.Name
		next.View.Filter = p.Filter
		next.View.Description = p.Description

	case *ContextViewDeleted:
		next.Deleted = true

	default:
		return nil, fmt.Errorf("payload %T does not apply to a ContextView", payload)
	}

	return &next, nil
}
