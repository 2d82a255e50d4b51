// Package projection maintains the read models derived from the event log:
// the scope tree, the alias index, aspect usage counts and context views.
// The store is memory-resident and rebuilt deterministically from the log;
// the subscriber records the position it has reached in a checkpoint.
package projection

import (
	"context"
	"sort"
	"sync"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/eventsourcing"
	"github.com/kamiazya/scopes/pkg/scope"
	"github.com/kamiazya/scopes/pkg/store"
)

// ScopeView is the read-side representation of a scope.
type ScopeView struct {
	*scope.Scope
	Version uint64
}

// ContextViewEntry is the read-side representation of a saved context view.
type ContextViewEntry struct {
	ID   string
	View scope.ContextView
}

// Store is the projection store. All methods are safe for concurrent use;
// Apply and Rebuild serialize against readers with a single RW lock.
type Store struct {
	serializer eventsourcing.Serializer

	mu sync.RWMutex

	position uint64

	scopes     map[string]*ScopeView
	aliasIndex map[string]string   // alias name -> scope id
	children   map[string][]string // parent id -> child ids in creation order
	roots      []string
	aspectUse  map[string]int // aspect key -> live scopes using it
	depthCache map[string]int // scope id -> depth from root

	aspectDefs   map[string]scope.AspectDefinition // key -> definition (live)
	defIDByKey   map[string]string                 // key -> aggregate id
	defKeyByID   map[string]string
	contextViews map[string]*ContextViewEntry // view key -> entry
	viewKeyByID  map[string]string

	superseded map[string]string // superseded event id -> winning event id
}

// NewStore creates an empty projection store.
func NewStore(serializer eventsourcing.Serializer) *Store {
	s := &Store{serializer: serializer}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.position = 0
	s.scopes = make(map[string]*ScopeView)
	s.aliasIndex = make(map[string]string)
	s.children = make(map[string][]string)
	s.roots = nil
	s.aspectUse = make(map[string]int)
	s.depthCache = make(map[string]int)
	s.aspectDefs = make(map[string]scope.AspectDefinition)
	s.defIDByKey = make(map[string]string)
	s.defKeyByID = make(map[string]string)
	s.contextViews = make(map[string]*ContextViewEntry)
	s.viewKeyByID = make(map[string]string)
	s.superseded = make(map[string]string)
}

// Position returns the sequence number of the last applied event.
func (s *Store) Position() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

// Apply folds one stored event into the read models. Events at or below the
// current position are ignored, which makes Apply idempotent and lets the
// synchronous pipeline update and the subscriber overlap safely.
func (s *Store) Apply(event *domain.Event) error {
	payload, err := s.serializer.Deserialize(event.EventType, event.Payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Sequence <= s.position {
		return nil
	}

	if err := s.applyLocked(event, payload); err != nil {
		return err
	}
	s.position = event.Sequence
	return nil
}

func (s *Store) applyLocked(event *domain.Event, payload eventsourcing.Payload) error {
	switch event.AggregateType {
	case scope.AggregateScope:
		return s.applyScope(event, payload)
	case scope.AggregateAspectDef:
		return s.applyAspectDef(event, payload)
	case scope.AggregateContextView:
		return s.applyContextView(event, payload)
	}
	return domain.IntegrityError(domain.ReasonUnknownEventType,
		"event aggregate type is not projected", domain.ErrUnknownEventType).
		With("aggregate_type", event.AggregateType)
}

func (s *Store) applyScope(event *domain.Event, payload eventsourcing.Payload) error {
	view := s.scopes[event.AggregateID]

	prev := (*scope.Scope)(nil)
	if view != nil {
		prev = view.Scope
	} else {
		prev = scope.NewScope(event.AggregateID)
	}

	next, err := scope.Apply(prev, event, payload)
	if err != nil {
		return err
	}

	s.scopes[event.AggregateID] = &ScopeView{Scope: next, Version: event.Version}

	switch p := payload.(type) {
	case *scope.ScopeCreated:
		s.aliasIndex[p.CanonicalAlias] = next.ID
		s.attachChild(p.ParentID, next.ID)
		for key := range next.Aspects {
			s.aspectUse[key]++
		}

	case *scope.ScopeParentChanged:
		s.detachChild(p.OldParentID, next.ID)
		s.attachChild(p.ParentID, next.ID)
		// Reparenting changes depths across the whole subtree.
		s.depthCache = make(map[string]int)

	case *scope.ScopeArchived:
		for key := range next.Aspects {
			s.decUsage(key)
		}

	case *scope.ScopeRestored:
		for key := range next.Aspects {
			s.aspectUse[key]++
		}

	case *scope.ScopeDeleted:
		for _, name := range next.AllAliases() {
			if s.aliasIndex[name] == next.ID {
				delete(s.aliasIndex, name)
			}
		}
		if !prev.Archived {
			for key := range next.Aspects {
				s.decUsage(key)
			}
		}
		s.detachChild(next.ParentID, next.ID)
		delete(s.depthCache, next.ID)

	case *scope.ScopeAliasAdded:
		s.aliasIndex[p.Name] = next.ID

	case *scope.ScopeAliasRemoved:
		if s.aliasIndex[p.Name] == next.ID {
			delete(s.aliasIndex, p.Name)
		}

	case *scope.ScopeCanonicalAliasChanged:
		s.aliasIndex[p.Name] = next.ID

	case *scope.ScopeAspectSet:
		if _, had := prev.Aspects[p.Key]; !had && next.Live() {
			s.aspectUse[p.Key]++
		}

	case *scope.ScopeAspectUnset:
		if _, had := prev.Aspects[p.Key]; had && prev.Live() {
			s.decUsage(p.Key)
		}

	case *scope.ScopeSyncSuperseded:
		s.superseded[p.SupersededEventID] = p.WinningEventID
	}

	return nil
}

func (s *Store) applyAspectDef(event *domain.Event, payload eventsourcing.Payload) error {
	switch p := payload.(type) {
	case *scope.AspectDefined:
		def := scope.AspectDefinition{
			Key:           p.Key,
			Type:          scope.AspectType(p.ValueType),
			AllowMultiple: p.AllowMultiple,
			AllowedValues: append([]string(nil), p.AllowedValues...),
			Description:   p.Description,
		}
		s.aspectDefs[p.Key] = def
		s.defIDByKey[p.Key] = event.AggregateID
		s.defKeyByID[event.AggregateID] = p.Key

	case *scope.AspectDefUpdated:
		key, ok := s.defKeyByID[event.AggregateID]
		if !ok {
			return nil
		}
		def := s.aspectDefs[key]
		def.AllowMultiple = p.AllowMultiple
		def.AllowedValues = append([]string(nil), p.AllowedValues...)
		def.Description = p.Description
		s.aspectDefs[key] = def

	case *scope.AspectDefDeleted:
		key, ok := s.defKeyByID[event.AggregateID]
		if !ok {
			return nil
		}
		delete(s.aspectDefs, key)
		delete(s.defIDByKey, key)
	}
	return nil
}

func (s *Store) applyContextView(event *domain.Event, payload eventsourcing.Payload) error {
	switch p := payload.(type) {
	case *scope.ContextViewCreated:
		s.contextViews[p.Key] = &ContextViewEntry{
			ID:   event.AggregateID,
			View: scope.ContextView{Key: p.Key, Name: p.Name, Filter: p.Filter, Description: p.Description},
		}
		s.viewKeyByID[event.AggregateID] = p.Key

	case *scope.ContextViewUpdated:
		key, ok := s.viewKeyByID[event.AggregateID]
		if !ok {
			return nil
		}
		entry := s.contextViews[key]
		entry.View.Name = p.Name
		entry.View.Filter = p.Filter
		entry.View.Description = p.Description

	case *scope.ContextViewDeleted:
		key, ok := s.viewKeyByID[event.AggregateID]
		if !ok {
			return nil
		}
		delete(s.contextViews, key)
	}
	return nil
}

func (s *Store) attachChild(parentID, childID string) {
	if parentID == "" {
		s.roots = append(s.roots, childID)
		return
	}
	s.children[parentID] = append(s.children[parentID], childID)
}

func (s *Store) detachChild(parentID, childID string) {
	list := s.roots
	if parentID != "" {
		list = s.children[parentID]
	}
	kept := list[:0]
	for _, id := range list {
		if id != childID {
			kept = append(kept, id)
		}
	}
	if parentID == "" {
		s.roots = kept
	} else {
		s.children[parentID] = kept
	}
}

func (s *Store) decUsage(key string) {
	if s.aspectUse[key] > 1 {
		s.aspectUse[key]--
	} else {
		delete(s.aspectUse, key)
	}
}

// Rebuild discards all read models and replays the full log. It is
// deterministic and idempotent: rebuilding twice yields identical state.
func (s *Store) Rebuild(ctx context.Context, events store.EventStore) error {
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()

	cursor := uint64(0)
	const batchSize = 512
	for {
		batch, err := events.EventsSince(ctx, cursor, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, event := range batch {
			if err := s.Apply(event); err != nil {
				return err
			}
			cursor = event.Sequence
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}

// ScopeByID returns a scope view, including archived and deleted ones.
func (s *Store) ScopeByID(id string) (*ScopeView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scopes[id]
	return v, ok
}

// ScopeIDByAlias resolves an alias to a scope id.
func (s *Store) ScopeIDByAlias(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.aliasIndex[name]
	return id, ok
}

// Children returns a page of a parent's children in creation order and the
// total count. Deleted children never appear.
func (s *Store) Children(parentID string, offset, limit int) ([]*ScopeView, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.roots
	if parentID != "" {
		ids = s.children[parentID]
	}
	views := make([]*ScopeView, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.scopes[id]; ok && v.Exists() {
			views = append(views, v)
		}
	}
	return page(views, offset, limit), len(views)
}

// ChildCount returns the number of live children under a parent.
func (s *Store) ChildCount(parentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.roots
	if parentID != "" {
		ids = s.children[parentID]
	}
	n := 0
	for _, id := range ids {
		if v, ok := s.scopes[id]; ok && v.Live() {
			n++
		}
	}
	return n
}

// ListScopes returns a page over all existing scopes ordered by id and the
// total count.
func (s *Store) ListScopes(offset, limit int) ([]*ScopeView, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]*ScopeView, 0, len(s.scopes))
	for _, v := range s.scopes {
		if v.Exists() {
			views = append(views, v)
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return page(views, offset, limit), len(views)
}

// Depth returns a scope's depth from the root (root scopes have depth 1).
// Unknown ids report depth 0.
func (s *Store) Depth(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depthLocked(id, make(map[string]bool))
}

func (s *Store) depthLocked(id string, visiting map[string]bool) int {
	if id == "" {
		return 0
	}
	if d, ok := s.depthCache[id]; ok {
		return d
	}
	if visiting[id] {
		// A cycle can only appear transiently while conflicting sync
		// writes settle; report the path length so far instead of hanging.
		return 0
	}
	visiting[id] = true

	v, ok := s.scopes[id]
	if !ok || !v.Exists() {
		return 0
	}
	d := s.depthLocked(v.ParentID, visiting) + 1
	s.depthCache[id] = d
	return d
}

// ParentChain returns the ids from a scope up to its root, starting with
// the scope itself.
func (s *Store) ParentChain(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chain []string
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		seen[id] = true
		chain = append(chain, id)
		v, ok := s.scopes[id]
		if !ok {
			break
		}
		id = v.ParentID
	}
	return chain
}

// AspectUsage returns how many live scopes use an aspect key.
func (s *Store) AspectUsage(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aspectUse[key]
}

// AspectDefinitionByKey returns a live aspect definition.
func (s *Store) AspectDefinitionByKey(key string) (scope.AspectDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.aspectDefs[key]
	return def, ok
}

// AspectDefinitionID returns the aggregate id behind an aspect key.
func (s *Store) AspectDefinitionID(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.defIDByKey[key]
	return id, ok
}

// ListAspectDefinitions returns all live definitions ordered by key.
func (s *Store) ListAspectDefinitions() []scope.AspectDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]scope.AspectDefinition, 0, len(s.aspectDefs))
	for _, def := range s.aspectDefs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ContextViewByKey returns a saved context view.
func (s *Store) ContextViewByKey(key string) (*ContextViewEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.contextViews[key]
	return entry, ok
}

// ListContextViews returns all saved views ordered by key.
func (s *Store) ListContextViews() []*ContextViewEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ContextViewEntry, 0, len(s.contextViews))
	for _, entry := range s.contextViews {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].View.Key < out[j].View.Key })
	return out
}

// EvaluateContext lists the live scopes matching a saved context view's
// filter, ordered by id.
func (s *Store) EvaluateContext(viewKey string, offset, limit int) ([]*ScopeView, int, error) {
	s.mu.RLock()
	entry, ok := s.contextViews[viewKey]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, domain.RuleError(domain.ReasonNotFound,
			"context view does not exist").With("key", viewKey)
	}

	filter, err := scope.ParseFilter(entry.View.Filter)
	if err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	lookup := func(key string) (scope.AspectDefinition, bool) {
		def, ok := s.aspectDefs[key]
		return def, ok
	}

	var matched []*ScopeView
	for _, v := range s.scopes {
		if v.Live() && filter.Matches(v.Aspects, lookup) {
			matched = append(matched, v)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return page(matched, offset, limit), len(matched), nil
}

// SupersededBy reports whether an event was shadowed by conflict resolution.
func (s *Store) SupersededBy(eventID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	winner, ok := s.superseded[eventID]
	return winner, ok
}

func page(views []*ScopeView, offset, limit int) []*ScopeView {
	if offset >= len(views) {
		return nil
	}
	views = views[offset:]
	if limit > 0 && limit < len(views) {
		views = views[:limit]
	}
	return views
}
