// Package resolve turns user-facing references — a 26-char ULID or an alias
// name — into aggregate ids.
package resolve

import (
	"fmt"
	"strings"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/idgen"
	"github.com/kamiazya/scopes/pkg/projection"
)

// Resolver resolves references against the alias index.
type Resolver struct {
	projections *projection.Store
}

// New creates a resolver over the projection store.
func New(projections *projection.Store) *Resolver {
	return &Resolver{projections: projections}
}

// Resolve maps a reference to a scope id. A reference with ULID shape is
// looked up as an id first; if no such scope exists it falls back to the
// alias index, since nothing stops a user naming an alias like a ULID.
func (r *Resolver) Resolve(reference string) (string, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", domain.InputError(domain.ReasonMalformedReference, "reference must not be empty")
	}

	if idgen.IsULID(ref) {
		if _, ok := r.projections.ScopeByID(ref); ok {
			return ref, nil
		}
	}

	if id, ok := r.projections.ScopeIDByAlias(strings.ToLower(ref)); ok {
		return id, nil
	}

	return "", domain.RuleError(domain.ReasonNotFound,
		fmt.Sprintf("nothing resolves %q", ref)).
		With("reference", ref)
}
