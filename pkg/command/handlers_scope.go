package command

import (
	"context"
	"fmt"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/scope"
	"github.com/kamiazya/scopes/pkg/validate"
)

func (p *Pipeline) createScope(ctx context.Context, cmd scope.CreateScope) (*Result, error) {
	if cmd.Title.IsZero() {
		return nil, domain.InputError(domain.ReasonBlankTitle, "title must not be blank")
	}
	if cmd.ScopeID == "" {
		cmd.ScopeID = p.ids.New()
	}
	if cmd.CanonicalAlias == "" {
		cmd.CanonicalAlias = scope.GenerateCanonicalAlias(cmd.ScopeID)
	} else {
		name, err := scope.NewAliasName(cmd.CanonicalAlias)
		if err != nil {
			return nil, err
		}
		cmd.CanonicalAlias = name
	}

	return p.run(ctx, cmd.ScopeID, func(ctx context.Context) (*Result, error) {
		parentDepth := 0
		if cmd.ParentID != "" {
			parent, ok := p.projections.ScopeByID(cmd.ParentID)
			if !ok || !parent.Live() {
				return nil, domain.RuleError(domain.ReasonNotFound,
					fmt.Sprintf("parent scope %s does not exist", cmd.ParentID)).
					With("parent_id", cmd.ParentID)
			}
			parentDepth = p.projections.Depth(cmd.ParentID)
		}

		if err := validate.DepthWithinLimit(parentDepth, p.cfg.MaxDepth); err != nil {
			return nil, err
		}
		if err := validate.ChildrenWithinLimit(p.projections.ChildCount(cmd.ParentID), p.cfg.MaxChildren); err != nil {
			return nil, err
		}
		if err := validate.UniqueSiblingTitle(p.projections, cmd.ParentID, cmd.Title, ""); err != nil {
			return nil, err
		}
		if err := validate.AliasGloballyUnique(p.projections, cmd.CanonicalAlias, ""); err != nil {
			return nil, err
		}
		if err := p.validateAspects(cmd.Aspects); err != nil {
			return nil, err
		}

		payloads, err := scope.DecideCreate(cmd)
		if err != nil {
			return nil, err
		}

		constraints := []domain.UniqueConstraint{
			domain.Claim(indexAlias, cmd.CanonicalAlias),
			domain.Claim(indexSiblingTitle, titleClaim(cmd.ParentID, cmd.Title.String())),
		}
		return p.commit(ctx, scope.AggregateScope, cmd.ScopeID, 0, payloads, constraints)
	})
}

func (p *Pipeline) validateAspects(aspects map[string][]string) error {
	for key, values := range aspects {
		def, ok := p.projections.AspectDefinitionByKey(key)
		if !ok {
			return domain.RuleError(domain.ReasonAspectUndefined,
				fmt.Sprintf("aspect %q is not defined", key)).With("key", key)
		}
		if err := def.ValidateValues(values); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) renameScope(ctx context.Context, cmd scope.RenameScope) (*Result, error) {
	if cmd.Title.IsZero() {
		return nil, domain.InputError(domain.ReasonBlankTitle, "title must not be blank")
	}

	return p.run(ctx, cmd.ScopeID, func(ctx context.Context) (*Result, error) {
		state, version, err := p.scopes.Load(ctx, cmd.ScopeID)
		if err != nil {
			return nil, err
		}

		if err := validate.UniqueSiblingTitle(p.projections, state.ParentID, cmd.Title, cmd.ScopeID); err != nil {
			return nil, err
		}

		payloads, err := scope.DecideRename(state, cmd)
		if err != nil {
			return nil, err
		}

		constraints := []domain.UniqueConstraint{
			domain.Release(indexSiblingTitle, titleClaim(state.ParentID, state.Title)),
			domain.Claim(indexSiblingTitle, titleClaim(state.ParentID, cmd.Title.String())),
		}
		return p.commit(ctx, scope.AggregateScope, cmd.ScopeID, version, payloads, constraints)
	})
}

func (p *Pipeline) updateDescription(ctx context.Context, cmd scope.UpdateDescription) (*Result, error) {
	return p.run(ctx, cmd.ScopeID, func(ctx context.Context) (*Result, error) {
		state, version, err := p.scopes.Load(ctx, cmd.ScopeID)
		if err != nil {
			return nil, err
		}
		payloads, err := scope.DecideUpdateDescription(state, cmd)
		if err != nil {
			return nil, err
		}
		return p.commit(ctx, scope.AggregateScope, cmd.ScopeID, version, payloads, nil)
	})
}

func (p *Pipeline) moveScope(ctx context.Context, cmd scope.MoveScope) (*Result, error) {
	return p.run(ctx, cmd.ScopeID, func(ctx context.Context) (*Result, error) {
		state, version, err := p.scopes.Load(ctx, cmd.ScopeID)
		if err != nil {
			return nil, err
		}

		newParentDepth := 0
		if cmd.ParentID != "" {
			parent, ok := p.projections.ScopeByID(cmd.ParentID)
			if !ok || !parent.Live() {
				return nil, domain.RuleError(domain.ReasonNotFound,
					fmt.Sprintf("parent scope %s does not exist", cmd.ParentID)).
					With("parent_id", cmd.ParentID)
			}
			if err := validate.NoCycle(p.projections, cmd.ParentID, cmd.ScopeID); err != nil {
				return nil, err
			}
			newParentDepth = p.projections.Depth(cmd.ParentID)
		}

		if cmd.ParentID != state.ParentID {
			if err := validate.SubtreeWithinDepth(p.projections, cmd.ScopeID, newParentDepth, p.cfg.MaxDepth); err != nil {
				return nil, err
			}
			if err := validate.ChildrenWithinLimit(p.projections.ChildCount(cmd.ParentID), p.cfg.MaxChildren); err != nil {
				return nil, err
			}
			title, err := scope.NewTitle(state.Title)
			if err != nil {
				return nil, err
			}
			if err := validate.UniqueSiblingTitle(p.projections, cmd.ParentID, title, cmd.ScopeID); err != nil {
				return nil, err
			}
		}

		payloads, err := scope.DecideMove(state, cmd)
		if err != nil {
			return nil, err
		}

		constraints := []domain.UniqueConstraint{
			domain.Release(indexSiblingTitle, titleClaim(state.ParentID, state.Title)),
			domain.Claim(indexSiblingTitle, titleClaim(cmd.ParentID, state.Title)),
		}
		return p.commit(ctx, scope.AggregateScope, cmd.ScopeID, version, payloads, constraints)
	})
}

func (p *Pipeline) archiveScope(ctx context.Context, cmd scope.ArchiveScope) (*Result, error) {
	return p.run(ctx, cmd.ScopeID, func(ctx context.Context) (*Result, error) {
		state, version, err := p.scopes.Load(ctx, cmd.ScopeID)
		if err != nil {
			return nil, err
		}
		payloads, err := scope.DecideArchive(state, cmd)
		if err != nil {
			return nil, err
		}

		// Archived scopes leave the live-title domain; siblings may take
		// the name. Aliases stay reserved so restore cannot break them.
		constraints := []domain.UniqueConstraint{
			domain.Release(indexSiblingTitle, titleClaim(state.ParentID, state.Title)),
		}
		return p.commit(ctx, scope.AggregateScope, cmd.ScopeID, version, payloads, constraints)
	})
}

func (p *Pipeline) restoreScope(ctx context.Context, cmd scope.RestoreScope) (*Result, error) {
	return p.run(ctx, cmd.ScopeID, func(ctx context.Context) (*Result, error) {
		state, version, err := p.scopes.Load(ctx, cmd.ScopeID)
		if err != nil {
			return nil, err
		}

		title, err := scope.NewTitle(state.Title)
		if err != nil {
			return nil, err
		}
		if state.Archived {
			if err := validate.UniqueSiblingTitle(p.projections, state.ParentID, title, cmd.ScopeID); err != nil {
				return nil, err
			}
		}

		payloads, err := scope.DecideRestore(state, cmd)
		if err != nil {
			return nil, err
		}

		constraints := []domain.UniqueConstraint{
			domain.Claim(indexSiblingTitle, titleClaim(state.ParentID, state.Title)),
		}
		return p.commit(ctx, scope.AggregateScope, cmd.ScopeID, version, payloads, constraints)
	})
}

func (p *Pipeline) deleteScope(ctx context.Context, cmd scope.DeleteScope) (*Result, error) {
	return p.run(ctx, cmd.ScopeID, func(ctx context.Context) (*Result, error) {
		state, version, err := p.scopes.Load(ctx, cmd.ScopeID)
		if err != nil {
			return nil, err
		}

		if n := p.projections.ChildCount(cmd.ScopeID); n > 0 {
			return nil, domain.RuleError(domain.ReasonChildrenExceeded,
				fmt.Sprintf("scope still has %d children; delete or move them first", n)).
				With("children", n)
		}

		payloads, err := scope.DecideDelete(state, cmd)
		if err != nil {
			return nil, err
		}

		var constraints []domain.UniqueConstraint
		if !state.Archived {
			constraints = append(constraints,
				domain.Release(indexSiblingTitle, titleClaim(state.ParentID, state.Title)))
		}
		for _, name := range state.AllAliases() {
			constraints = append(constraints, domain.Release(indexAlias, name))
		}
		return p.commit(ctx, scope.AggregateScope, cmd.ScopeID, version, payloads, constraints)
	})
}

func (p *Pipeline) addAlias(ctx context.Context, cmd scope.AddAlias) (*Result, error) {
	name, err := scope.NewAliasName(cmd.Name)
	if err != nil {
		return nil, err
	}
	cmd.Name = name

	return p.run(ctx, cmd.ScopeID, func(ctx context.Context) (*Result, error) {
		state, version, err := p.scopes.Load(ctx, cmd.ScopeID)
		if err != nil {
			return nil, err
		}
		if err := validate.AliasGloballyUnique(p.projections, cmd.Name, cmd.ScopeID); err != nil {
			return nil, err
		}
		payloads, err := scope.DecideAddAlias(state, cmd)
		if err != nil {
			return nil, err
		}
		constraints := []domain.UniqueConstraint{domain.Claim(indexAlias, cmd.Name)}
		return p.commit(ctx, scope.AggregateScope, cmd.ScopeID, version, payloads, constraints)
	})
}

func (p *Pipeline) removeAlias(ctx context.Context, cmd scope.RemoveAlias) (*Result, error) {
	name, err := scope.NewAliasName(cmd.Name)
	if err != nil {
		return nil, err
	}
	cmd.Name = name

	return p.run(ctx, cmd.ScopeID, func(ctx context.Context) (*Result, error) {
		state, version, err := p.scopes.Load(ctx, cmd.ScopeID)
		if err != nil {
			return nil, err
		}
		payloads, err := scope.DecideRemoveAlias(state, cmd)
		if err != nil {
			return nil, err
		}
		constraints := []domain.UniqueConstraint{domain.Release(indexAlias, cmd.Name)}
		return p.commit(ctx, scope.AggregateScope, cmd.ScopeID, version, payloads, constraints)
	})
}

func (p *Pipeline) setCanonicalAlias(ctx context.Context, cmd scope.SetCanonicalAlias) (*Result, error) {
	name, err := scope.NewAliasName(cmd.Name)
	if err != nil {
		return nil, err
	}
	cmd.Name = name

	return p.run(ctx, cmd.ScopeID, func(ctx context.Context) (*Result, error) {
		state, version, err := p.scopes.Load(ctx, cmd.ScopeID)
		if err != nil {
			return nil, err
		}
		if err := validate.AliasGloballyUnique(p.projections, cmd.Name, cmd.ScopeID); err != nil {
			return nil, err
		}
		payloads, err := scope.DecideSetCanonicalAlias(state, cmd)
		if err != nil {
			return nil, err
		}
		constraints := []domain.UniqueConstraint{domain.Claim(indexAlias, cmd.Name)}
		return p.commit(ctx, scope.AggregateScope, cmd.ScopeID, version, payloads, constraints)
	})
}

func (p *Pipeline) setAspect(ctx context.Context, cmd scope.SetAspect) (*Result, error) {
	key, err := scope.NewAspectKey(cmd.Key)
	if err != nil {
		return nil, err
	}
	cmd.Key = key

	return p.run(ctx, cmd.ScopeID, func(ctx context.Context) (*Result, error) {
		state, version, err := p.scopes.Load(ctx, cmd.ScopeID)
		if err != nil {
			return nil, err
		}
		if err := p.validateAspects(map[string][]string{cmd.Key: cmd.Values}); err != nil {
			return nil, err
		}
		payloads, err := scope.DecideSetAspect(state, cmd)
		if err != nil {
			return nil, err
		}
		return p.commit(ctx, scope.AggregateScope, cmd.ScopeID, version, payloads, nil)
	})
}

func (p *Pipeline) unsetAspect(ctx context.Context, cmd scope.UnsetAspect) (*Result, error) {
	key, err := scope.NewAspectKey(cmd.Key)
	if err != nil {
		return nil, err
	}
	cmd.Key = key

	return p.run(ctx, cmd.ScopeID, func(ctx context.Context) (*Result, error) {
		state, version, err := p.scopes.Load(ctx, cmd.ScopeID)
		if err != nil {
			return nil, err
		}
		payloads, err := scope.DecideUnsetAspect(state, cmd)
		if err != nil {
			return nil, err
		}
		return p.commit(ctx, scope.AggregateScope, cmd.ScopeID, version, payloads, nil)
	})
}

// LoadScope replays a scope aggregate outside a command; query adapters use
// it for consistency checks against the projections.
func (p *Pipeline) LoadScope(ctx context.Context, id string) (*scope.Scope, uint64, error) {
	return p.scopes.Load(ctx, id)
}
