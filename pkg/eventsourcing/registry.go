// Package eventsourcing provides the replay machinery: the event type
// registry, the payload serializer, and the aggregate repository that folds
// event streams back into state.
package eventsourcing

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kamiazya/scopes/pkg/domain"
)

// Payload is a typed event payload. The type identifier is stable across
// releases and discriminates the payload on the wire (e.g. "scope.created.v1").
type Payload interface {
	EventType() string
}

// TypeRegistry is an injective mapping between payload types and their
// stable event-type identifiers. Reading an event whose type is not
// registered surfaces a typed integrity error, never a silent skip.
type TypeRegistry struct {
	mu        sync.RWMutex
	factories map[string]func() Payload
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{factories: make(map[string]func() Payload)}
}

// Register adds a payload factory under its type identifier.
// Registering the same identifier twice panics: registration happens at
// wiring time and a duplicate means two payload types share an identifier.
func (r *TypeRegistry) Register(factory func() Payload) {
	proto := factory()
	typeID := proto.EventType()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typeID]; exists {
		panic(fmt.Sprintf("event type already registered: %s", typeID))
	}
	r.factories[typeID] = factory
}

// New returns a fresh zero payload for the given type identifier.
func (r *TypeRegistry) New(typeID string) (Payload, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeID]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.IntegrityError(
			domain.ReasonUnknownEventType,
			fmt.Sprintf("no payload registered for event type %q", typeID),
			domain.ErrUnknownEventType,
		)
	}
	return factory(), nil
}

// Known reports whether a type identifier is registered.
func (r *TypeRegistry) Known(typeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeID]
	return ok
}

// Types returns the registered type identifiers, sorted.
func (r *TypeRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
