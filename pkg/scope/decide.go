package scope

import (
	"fmt"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/eventsourcing"
)

// Commands carry already-parsed value types; raw input is validated at the
// edge (NewTitle, NewAliasName, ...). Decide functions are pure: they see
// only the aggregate's own state. Rules that span aggregates (sibling
// titles, alias uniqueness, depth, cycles) belong to the command pipeline's
// validator.

// CreateScope creates a new scope, optionally under a parent.
type CreateScope struct {
	ScopeID        string
	Title          Title
	Description    string
	ParentID       string
	CanonicalAlias string              // empty: generate from ScopeID
	Aspects        map[string][]string // pre-validated against definitions
}

// DecideCreate produces the creation event. state is nil-checked by the
// caller: creation targets an aggregate with no stream yet.
func DecideCreate(cmd CreateScope) ([]eventsourcing.Payload, error) {
	alias := cmd.CanonicalAlias
	if alias == "" {
		alias = GenerateCanonicalAlias(cmd.ScopeID)
	}

	return []eventsourcing.Payload{&ScopeCreated{
		Title:          cmd.Title.String(),
		Description:    cmd.Description,
		ParentID:       cmd.ParentID,
		CanonicalAlias: alias,
		Aspects:        cmd.Aspects,
	}}, nil
}

func requireLive(s *Scope) error {
	if s == nil || !s.Exists() {
		return domain.RuleError(domain.ReasonNotFound, "scope does not exist")
	}
	if s.Archived {
		return domain.RuleError(domain.ReasonArchived, "scope is archived; restore it first").
			With("scope_id", s.ID)
	}
	return nil
}

// RenameScope changes the title.
type RenameScope struct {
	ScopeID string
	Title   Title
}

func DecideRename(s *Scope, cmd RenameScope) ([]eventsourcing.Payload, error) {
	if err := requireLive(s); err != nil {
		return nil, err
	}
	if s.Title == cmd.Title.String() {
		return nil, nil // no-op, no event
	}
	return []eventsourcing.Payload{&ScopeTitleChanged{
		OldTitle: s.Title,
		Title:    cmd.Title.String(),
	}}, nil
}

// UpdateDescription replaces the description; empty clears it.
type UpdateDescription struct {
	ScopeID     string
	Description string
}

func DecideUpdateDescription(s *Scope, cmd UpdateDescription) ([]eventsourcing.Payload, error) {
	if err := requireLive(s); err != nil {
		return nil, err
	}
	if s.Description == cmd.Description {
		return nil, nil
	}
	return []eventsourcing.Payload{&ScopeDescriptionChanged{Description: cmd.Description}}, nil
}

// MoveScope reparents a scope. Empty ParentID moves it to the root.
type MoveScope struct {
	ScopeID  string
	ParentID string
}

func DecideMove(s *Scope, cmd MoveScope) ([]eventsourcing.Payload, error) {
	if err := requireLive(s); err != nil {
		return nil, err
	}
	if cmd.ParentID == s.ID {
		return nil, domain.RuleError(domain.ReasonCycle, "a scope cannot be its own parent").
			With("scope_id", s.ID)
	}
	if s.ParentID == cmd.ParentID {
		return nil, nil
	}
	return []eventsourcing.Payload{&ScopeParentChanged{
		OldParentID: s.ParentID,
		ParentID:    cmd.ParentID,
	}}, nil
}

// ArchiveScope soft-hides a scope. Archived scopes keep their aliases but
// leave the live uniqueness domain.
type ArchiveScope struct {
	ScopeID string
}

func DecideArchive(s *Scope, cmd ArchiveScope) ([]eventsourcing.Payload, error) {
	if s == nil || !s.Exists() {
		return nil, domain.RuleError(domain.ReasonNotFound, "scope does not exist")
	}
	if s.Archived {
		return nil, nil
	}
	return []eventsourcing.Payload{&ScopeArchived{}}, nil
}

// RestoreScope brings an archived scope back.
type RestoreScope struct {
	ScopeID string
}

func DecideRestore(s *Scope, cmd RestoreScope) ([]eventsourcing.Payload, error) {
	if s == nil || !s.Exists() {
		return nil, domain.RuleError(domain.ReasonNotFound, "scope does not exist")
	}
	if !s.Archived {
		return nil, nil
	}
	return []eventsourcing.Payload{&ScopeRestored{}}, nil
}

// DeleteScope tombstones a scope. The event stream remains.
type DeleteScope struct {
	ScopeID string
}

func DecideDelete(s *Scope, cmd DeleteScope) ([]eventsourcing.Payload, error) {
	if s == nil || !s.Exists() {
		return nil, domain.RuleError(domain.ReasonNotFound, "scope does not exist")
	}
	return []eventsourcing.Payload{&ScopeDeleted{}}, nil
}

// AddAlias attaches a custom alias.
type AddAlias struct {
	ScopeID string
	Name    string
}

func DecideAddAlias(s *Scope, cmd AddAlias) ([]eventsourcing.Payload, error) {
	if err := requireLive(s); err != nil {
		return nil, err
	}
	if s.HasAlias(cmd.Name) {
		return nil, nil
	}
	return []eventsourcing.Payload{&ScopeAliasAdded{Name: cmd.Name}}, nil
}

// RemoveAlias detaches a custom alias. The canonical alias cannot be
// removed, only replaced.
type RemoveAlias struct {
	ScopeID string
	Name    string
}

func DecideRemoveAlias(s *Scope, cmd RemoveAlias) ([]eventsourcing.Payload, error) {
	if err := requireLive(s); err != nil {
		return nil, err
	}
	if cmd.Name == s.CanonicalAlias {
		return nil, domain.RuleError(domain.ReasonCanonicalAlias,
			"the canonical alias cannot be removed; set a new one instead").
			With("alias", cmd.Name)
	}
	if !s.HasAlias(cmd.Name) {
		return nil, domain.RuleError(domain.ReasonNotFound,
			fmt.Sprintf("scope has no alias %q", cmd.Name))
	}
	return []eventsourcing.Payload{&ScopeAliasRemoved{Name: cmd.Name}}, nil
}

// SetCanonicalAlias replaces the canonical alias. The previous canonical
// name is kept as a custom alias.
type SetCanonicalAlias struct {
	ScopeID string
	Name    string
}

func DecideSetCanonicalAlias(s *Scope, cmd SetCanonicalAlias) ([]eventsourcing.Payload, error) {
	if err := requireLive(s); err != nil {
		return nil, err
	}
	if s.CanonicalAlias == cmd.Name {
		return nil, nil
	}
	return []eventsourcing.Payload{&ScopeCanonicalAliasChanged{
		OldName: s.CanonicalAlias,
		Name:    cmd.Name,
	}}, nil
}

// SetAspect sets an aspect's values, replacing previous ones. Values are
// validated against the definition by the pipeline before deciding.
type SetAspect struct {
	ScopeID string
	Key     string
	Values  []string
}

func DecideSetAspect(s *Scope, cmd SetAspect) ([]eventsourcing.Payload, error) {
	if err := requireLive(s); err != nil {
		return nil, err
	}
	return []eventsourcing.Payload{&ScopeAspectSet{Key: cmd.Key, Values: cmd.Values}}, nil
}

// UnsetAspect removes an aspect from the scope.
type UnsetAspect struct {
	ScopeID string
	Key     string
}

func DecideUnsetAspect(s *Scope, cmd UnsetAspect) ([]eventsourcing.Payload, error) {
	if err := requireLive(s); err != nil {
		return nil, err
	}
	if _, ok := s.Aspects[cmd.Key]; !ok {
		return nil, nil
	}
	return []eventsourcing.Payload{&ScopeAspectUnset{Key: cmd.Key}}, nil
}

// DefineAspect declares a new aspect definition aggregate.
type DefineAspect struct {
	DefinitionID string
	Definition   AspectDefinition
}

func DecideDefineAspect(cmd DefineAspect) ([]eventsourcing.Payload, error) {
	if cmd.Definition.Type == AspectOrdinal && len(cmd.Definition.AllowedValues) == 0 {
		return nil, domain.InputError(domain.ReasonInvalidAspectValue,
			"ordinal aspects require at least one allowed value")
	}
	return []eventsourcing.Payload{&AspectDefined{
		Key:           cmd.Definition.Key,
		ValueType:     string(cmd.Definition.Type),
		AllowMultiple: cmd.Definition.AllowMultiple,
		AllowedValues: cmd.Definition.AllowedValues,
		Description:   cmd.Definition.Description,
	}}, nil
}

// UpdateAspectDefinition changes constraints of an existing definition.
// The key and value type are immutable.
type UpdateAspectDefinition struct {
	DefinitionID  string
	AllowMultiple bool
	AllowedValues []string
	Description   string
}

func DecideUpdateAspectDef(s *AspectDefState, cmd UpdateAspectDefinition) ([]eventsourcing.Payload, error) {
	if s == nil || s.CreatedAt.IsZero() || s.Deleted {
		return nil, domain.RuleError(domain.ReasonNotFound, "aspect definition does not exist")
	}
	if s.Definition.Type == AspectOrdinal && len(cmd.AllowedValues) == 0 {
		return nil, domain.InputError(domain.ReasonInvalidAspectValue,
			"ordinal aspects require at least one allowed value")
	}
	return []eventsourcing.Payload{&AspectDefUpdated{
		AllowMultiple: cmd.AllowMultiple,
		AllowedValues: cmd.AllowedValues,
		Description:   cmd.Description,
	}}, nil
}

// DeleteAspectDefinition removes a definition. The pipeline refuses it
// while any live scope still uses the key.
type DeleteAspectDefinition struct {
	DefinitionID string
}

func DecideDeleteAspectDef(s *AspectDefState, cmd DeleteAspectDefinition) ([]eventsourcing.Payload, error) {
	if s == nil || s.CreatedAt.IsZero() || s.Deleted {
		return nil, domain.RuleError(domain.ReasonNotFound, "aspect definition does not exist")
	}
	return []eventsourcing.Payload{&AspectDefDeleted{}}, nil
}

// CreateContextView saves a named filter.
type CreateContextView struct {
	ViewID      string
	Key         string
	Name        string
	Filter      *FilterExpr
	Description string
}

func DecideCreateContextView(cmd CreateContextView) ([]eventsourcing.Payload, error) {
	return []eventsourcing.Payload{&ContextViewCreated{
		Key:         cmd.Key,
		Name:        cmd.Name,
		Filter:      cmd.Filter.String(),
		Description: cmd.Description,
	}}, nil
}

// UpdateContextView replaces name, filter and description.
type UpdateContextView struct {
	ViewID      string
	Name        string
	Filter      *FilterExpr
	Description string
}

func DecideUpdateContextView(s *ContextViewState, cmd UpdateContextView) ([]eventsourcing.Payload, error) {
	if s == nil || s.CreatedAt.IsZero() || s.Deleted {
		return nil, domain.RuleError(domain.ReasonNotFound, "context view does not exist")
	}
	return []eventsourcing.Payload{&ContextViewUpdated{
		Name:        cmd.Name,
		Filter:      cmd.Filter.String(),
		Description: cmd.Description,
	}}, nil
}

// DeleteContextView removes a saved filter.
type DeleteContextView struct {
	ViewID string
}

func DecideDeleteContextView(s *ContextViewState, cmd DeleteContextView) ([]eventsourcing.Payload, error) {
	if s == nil || s.CreatedAt.IsZero() || s.Deleted {
		return nil, domain.RuleError(domain.ReasonNotFound, "context view does not exist")
	}
	return []eventsourcing.Payload{&ContextViewDeleted{}}, nil
}
