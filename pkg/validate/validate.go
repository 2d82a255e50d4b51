// Package validate holds the cross-aggregate rules: uniqueness and
// hierarchy checks evaluated against projection snapshots. Every function
// is pure over the snapshot it is handed; the command pipeline serializes
// calls so the snapshot cannot shift mid-check.
package validate

import (
	"fmt"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/projection"
	"github.com/kamiazya/scopes/pkg/scope"
)

// UniqueSiblingTitle rejects a title already used by a live sibling under
// the same parent. Comparison is on the normalized (case-folded) form.
// excluding names the scope being updated, so renaming to the same title
// passes.
func UniqueSiblingTitle(snap *projection.Store, parentID string, title scope.Title, excluding string) error {
	normalized := scope.NormalizeTitle(title.String())

	siblings, _ := snap.Children(parentID, 0, 0)
	for _, sibling := range siblings {
		if sibling.ID == excluding || !sibling.Live() {
			continue
		}
		if scope.NormalizeTitle(sibling.Title) == normalized {
			return domain.RuleError(domain.ReasonDuplicateSiblingTitle,
				fmt.Sprintf("a sibling is already titled %q", title.String())).
				With("parent_id", parentID).
				With("conflicting_scope", sibling.ID)
		}
	}
	return nil
}

// DepthWithinLimit checks the attempted depth (parent depth + 1) against
// the configured maximum. nil means unlimited.
func DepthWithinLimit(parentDepth int, maxDepth *int) error {
	if maxDepth == nil {
		return nil
	}
	attempted := parentDepth + 1
	if attempted > *maxDepth {
		return domain.RuleError(domain.ReasonDepthExceeded,
			fmt.Sprintf("scope would sit at depth %d, limit is %d", attempted, *maxDepth)).
			With("attempted_depth", attempted).
			With("max_depth", *maxDepth)
	}
	return nil
}

// ChildrenWithinLimit checks a parent's live child count against the
// configured maximum. nil means unlimited.
func ChildrenWithinLimit(childCount int, maxChildren *int) error {
	if maxChildren == nil {
		return nil
	}
	if childCount+1 > *maxChildren {
		return domain.RuleError(domain.ReasonChildrenExceeded,
			fmt.Sprintf("parent already has %d children, limit is %d", childCount, *maxChildren)).
			With("children", childCount).
			With("max_children", *maxChildren)
	}
	return nil
}

// AliasGloballyUnique rejects an alias owned by any other scope. Archived
// scopes keep their aliases reserved so restoring them cannot fail.
func AliasGloballyUnique(snap *projection.Store, name string, excluding string) error {
	owner, taken := snap.ScopeIDByAlias(name)
	if taken && owner != excluding {
		return domain.RuleError(domain.ReasonAliasTaken,
			fmt.Sprintf("alias %q is already in use", name)).
			With("alias", name).
			With("owner", owner)
	}
	return nil
}

// NoCycle rejects a reparenting that would make a scope its own ancestor.
// The check walks candidateParent's chain toward the root looking for the
// child.
func NoCycle(snap *projection.Store, candidateParent, childID string) error {
	if candidateParent == "" {
		return nil
	}
	for _, ancestor := range snap.ParentChain(candidateParent) {
		if ancestor == childID {
			return domain.RuleError(domain.ReasonCycle,
				"the new parent is a descendant of the scope being moved").
				With("scope_id", childID).
				With("parent_id", candidateParent)
		}
	}
	return nil
}

// SubtreeWithinDepth checks that after reparenting, the deepest descendant
// of the moved scope still fits the depth limit.
func SubtreeWithinDepth(snap *projection.Store, scopeID string, newParentDepth int, maxDepth *int) error {
	if maxDepth == nil {
		return nil
	}
	height := subtreeHeight(snap, scopeID)
	attempted := newParentDepth + height
	if attempted > *maxDepth {
		return domain.RuleError(domain.ReasonDepthExceeded,
			fmt.Sprintf("moving the subtree would reach depth %d, limit is %d", attempted, *maxDepth)).
			With("attempted_depth", attempted).
			With("max_depth", *maxDepth)
	}
	return nil
}

func subtreeHeight(snap *projection.Store, id string) int {
	children, _ := snap.Children(id, 0, 0)
	max := 0
	for _, child := range children {
		if h := subtreeHeight(snap, child.ID); h > max {
			max = h
		}
	}
	return max + 1
}

// AspectNotInUse blocks deleting an aspect definition while live scopes
// still reference its key. Archived scopes do not count.
func AspectNotInUse(snap *projection.Store, key string) error {
	if n := snap.AspectUsage(key); n > 0 {
		return domain.RuleError(domain.ReasonAspectInUse,
			fmt.Sprintf("aspect %q is used by %d live scopes", key, n)).
			With("key", key).
			With("usage", n)
	}
	return nil
}
