package command

import (
	"context"
	"fmt"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/idgen"
	"github.com/kamiazya/scopes/pkg/scope"
	"github.com/kamiazya/scopes/pkg/validate"
)

// Handlers for the catalog aggregates: aspect definitions and context
// views. Their ids may be given as the aggregate ULID or as the
// user-facing key; keys resolve through the projections.

func (p *Pipeline) defineAspect(ctx context.Context, cmd scope.DefineAspect) (*Result, error) {
	key, err := scope.NewAspectKey(cmd.Definition.Key)
	if err != nil {
		return nil, err
	}
	cmd.Definition.Key = key

	if _, err := scope.ParseAspectType(string(cmd.Definition.Type)); err != nil {
		return nil, err
	}
	if cmd.DefinitionID == "" {
		cmd.DefinitionID = p.ids.New()
	}

	return p.run(ctx, cmd.DefinitionID, func(ctx context.Context) (*Result, error) {
		if _, exists := p.projections.AspectDefinitionByKey(key); exists {
			return nil, domain.RuleError(domain.ReasonAspectKeyTaken,
				fmt.Sprintf("aspect %q is already defined", key)).With("key", key)
		}

		payloads, err := scope.DecideDefineAspect(cmd)
		if err != nil {
			return nil, err
		}

		constraints := []domain.UniqueConstraint{domain.Claim(indexAspectKey, key)}
		return p.commit(ctx, scope.AggregateAspectDef, cmd.DefinitionID, 0, payloads, constraints)
	})
}

func (p *Pipeline) resolveAspectDefID(reference string) (string, error) {
	if idgen.IsULID(reference) {
		return reference, nil
	}
	key, err := scope.NewAspectKey(reference)
	if err != nil {
		return "", err
	}
	id, ok := p.projections.AspectDefinitionID(key)
	if !ok {
		return "", domain.RuleError(domain.ReasonNotFound,
			fmt.Sprintf("aspect %q is not defined", key)).With("key", key)
	}
	return id, nil
}

func (p *Pipeline) updateAspectDef(ctx context.Context, cmd scope.UpdateAspectDefinition) (*Result, error) {
	id, err := p.resolveAspectDefID(cmd.DefinitionID)
	if err != nil {
		return nil, err
	}
	cmd.DefinitionID = id

	return p.run(ctx, id, func(ctx context.Context) (*Result, error) {
		state, version, err := p.aspects.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		payloads, err := scope.DecideUpdateAspectDef(state, cmd)
		if err != nil {
			return nil, err
		}
		return p.commit(ctx, scope.AggregateAspectDef, id, version, payloads, nil)
	})
}

func (p *Pipeline) deleteAspectDef(ctx context.Context, cmd scope.DeleteAspectDefinition) (*Result, error) {
	id, err := p.resolveAspectDefID(cmd.DefinitionID)
	if err != nil {
		return nil, err
	}
	cmd.DefinitionID = id

	return p.run(ctx, id, func(ctx context.Context) (*Result, error) {
		state, version, err := p.aspects.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := validate.AspectNotInUse(p.projections, state.Definition.Key); err != nil {
			return nil, err
		}
		payloads, err := scope.DecideDeleteAspectDef(state, cmd)
		if err != nil {
			return nil, err
		}
		constraints := []domain.UniqueConstraint{domain.Release(indexAspectKey, state.Definition.Key)}
		return p.commit(ctx, scope.AggregateAspectDef, id, version, payloads, constraints)
	})
}

func (p *Pipeline) defLookup() scope.DefinitionLookup {
	return func(key string) (scope.AspectDefinition, bool) {
		return p.projections.AspectDefinitionByKey(key)
	}
}

func (p *Pipeline) createContextView(ctx context.Context, cmd scope.CreateContextView) (*Result, error) {
	key, err := scope.NewAspectKey(cmd.Key)
	if err != nil {
		return nil, err
	}
	cmd.Key = key

	if cmd.Name == "" {
		return nil, domain.InputError(domain.ReasonBlankTitle, "context view name must not be blank")
	}
	if cmd.Filter == nil {
		return nil, domain.InputError(domain.ReasonInvalidFilter, "context view requires a filter")
	}
	if cmd.ViewID == "" {
		cmd.ViewID = p.ids.New()
	}

	return p.run(ctx, cmd.ViewID, func(ctx context.Context) (*Result, error) {
		if _, exists := p.projections.ContextViewByKey(key); exists {
			return nil, domain.RuleError(domain.ReasonContextKeyTaken,
				fmt.Sprintf("context view %q already exists", key)).With("key", key)
		}
		if err := cmd.Filter.Check(p.defLookup()); err != nil {
			return nil, err
		}

		payloads, err := scope.DecideCreateContextView(cmd)
		if err != nil {
			return nil, err
		}

		constraints := []domain.UniqueConstraint{domain.Claim(indexContextKey, key)}
		return p.commit(ctx, scope.AggregateContextView, cmd.ViewID, 0, payloads, constraints)
	})
}

func (p *Pipeline) resolveContextViewID(reference string) (string, error) {
	if idgen.IsULID(reference) {
		return reference, nil
	}
	key, err := scope.NewAspectKey(reference)
	if err != nil {
		return "", err
	}
	entry, ok := p.projections.ContextViewByKey(key)
	if !ok {
		return "", domain.RuleError(domain.ReasonNotFound,
			fmt.Sprintf("context view %q does not exist", key)).With("key", key)
	}
	return entry.ID, nil
}

func (p *Pipeline) updateContextView(ctx context.Context, cmd scope.UpdateContextView) (*Result, error) {
	id, err := p.resolveContextViewID(cmd.ViewID)
	if err != nil {
		return nil, err
	}
	cmd.ViewID = id

	if cmd.Name == "" {
		return nil, domain.InputError(domain.ReasonBlankTitle, "context view name must not be blank")
	}
	if cmd.Filter == nil {
		return nil, domain.InputError(domain.ReasonInvalidFilter, "context view requires a filter")
	}

	return p.run(ctx, id, func(ctx context.Context) (*Result, error) {
		if err := cmd.Filter.Check(p.defLookup()); err != nil {
			return nil, err
		}
		state, version, err := p.views.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		payloads, err := scope.DecideUpdateContextView(state, cmd)
		if err != nil {
			return nil, err
		}
		return p.commit(ctx, scope.AggregateContextView, id, version, payloads, nil)
	})
}

func (p *Pipeline) deleteContextView(ctx context.Context, cmd scope.DeleteContextView) (*Result, error) {
	id, err := p.resolveContextViewID(cmd.ViewID)
	if err != nil {
		return nil, err
	}
	cmd.ViewID = id

	return p.run(ctx, id, func(ctx context.Context) (*Result, error) {
		state, version, err := p.views.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		payloads, err := scope.DecideDeleteContextView(state, cmd)
		if err != nil {
			return nil, err
		}
		constraints := []domain.UniqueConstraint{domain.Release(indexContextKey, state.View.Key)}
		return p.commit(ctx, scope.AggregateContextView, id, version, payloads, constraints)
	})
}
