package actions

import (
	"context"

	"github.com/ghxstship/orangeseadragon-sub009/internal/expressions"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// UpdateFieldAction implements "update_field": patch one field of the
// triggering entity and refresh the entity held in the execution context.
type UpdateFieldAction struct {
	entities EntityStore
}

// NewUpdateFieldAction creates the action.
func NewUpdateFieldAction(entities EntityStore) *UpdateFieldAction {
	return &UpdateFieldAction{entities: entities}
}

func (a *UpdateFieldAction) Name() string { return "update_field" }

func (a *UpdateFieldAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Set one field on the triggering entity.",
		Required:    []string{"field"},
		Optional:    []string{"value"},
	}
}

func (a *UpdateFieldAction) Validate(params map[string]any) error {
	_, err := requireString(a.Name(), params, "field")
	return err
}

func (a *UpdateFieldAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	field, err := requireString(a.Name(), input.Params, "field")
	if err != nil {
		return nil, err
	}
	if !input.Execution.HasEntity() {
		return nil, schema.NewError(schema.ErrCodeEntity, "update_field: execution has no entity")
	}
	if a.entities == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "update_field: no entity store configured")
	}

	value := schema.CloneValue(input.Params["value"])
	if err := a.entities.Patch(ctx, input.Execution.EntityType, input.Execution.EntityID,
		map[string]any{field: value}); err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			return nil, schema.NewErrorf(schema.ErrCodeEntity, "update_field: %s %s not found",
				input.Execution.EntityType, input.Execution.EntityID).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeEntity, "update_field: %v", err).WithCause(err)
	}

	var previous any
	if entity := expressions.Entity(input.Context); entity != nil {
		previous = entity[field]
		entity[field] = schema.CloneValue(value)
	}
	return output(map[string]any{
		"field":    field,
		"value":    value,
		"previous": previous,
	}), nil
}
