package actions

import (
	"context"
	"strings"

	"github.com/ghxstship/orangeseadragon-sub009/internal/expressions"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

const defaultMaxLoopItems = 1000

// ForEachAction implements "for_each": run another action once per element
// of a collection. Each iteration sees the element under itemVariable and
// its position under "index"; the inner params are resolved per iteration.
type ForEachAction struct {
	registry ActionRegistry
	maxItems int
}

// NewForEachAction creates the action. Inner actions are looked up in reg.
func NewForEachAction(reg ActionRegistry, maxItems int) *ForEachAction {
	if maxItems <= 0 {
		maxItems = defaultMaxLoopItems
	}
	return &ForEachAction{registry: reg, maxItems: maxItems}
}

func (a *ForEachAction) Name() string { return "for_each" }

func (a *ForEachAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Run an action once for each element of a collection.",
		Required:    []string{"collection", "action"},
		Optional:    []string{"itemVariable", "params"},
	}
}

func (a *ForEachAction) ResolvesOwnParams() bool { return true }

func (a *ForEachAction) Validate(params map[string]any) error {
	if params["collection"] == nil {
		return schema.NewError(schema.ErrCodeValidation, "for_each: collection is required")
	}
	action, err := requireString(a.Name(), params, "action")
	if err != nil {
		return err
	}
	if action == a.Name() {
		return schema.NewError(schema.ErrCodeValidation, "for_each: cannot nest for_each")
	}
	return nil
}

func (a *ForEachAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	inner, err := a.registry.Get(strings.TrimSpace(stringParam(input.Params, "action", "")))
	if err != nil {
		return nil, err
	}

	collection := expressions.ResolveValue(input.Params["collection"], input.Context)
	var items []any
	switch c := collection.(type) {
	case nil:
	case []any:
		items = c
	default:
		return nil, stepFailed(a.Name(), "collection resolved to %T, want a list", collection)
	}
	if len(items) > a.maxItems {
		return nil, stepFailed(a.Name(), "collection has %d items, limit is %d", len(items), a.maxItems)
	}

	itemVar := stringParam(input.Params, "itemVariable", "item")
	if itemVar == "" {
		itemVar = "item"
	}
	_, innerResolves := inner.(SelfResolving)
	rawParams := mapParam(input.Params, "params")

	results := make([]any, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "for_each: stopped at item %d: %v", i, err).WithCause(err)
		}
		iterCtx := expressions.WithVar(expressions.WithVar(input.Context, itemVar, item), "index", i)
		params := schema.CloneMap(rawParams)
		if params == nil {
			params = map[string]any{}
		}
		if !innerResolves {
			params = expressions.ResolveParams(params, iterCtx)
		}
		out, err := inner.Execute(ctx, ActionInput{Params: params, Context: iterCtx, Execution: input.Execution})
		if err != nil {
			code := schema.ErrorCode(err)
			return nil, schema.NewErrorf(code, "for_each: item %d: %v", i, err).WithCause(err)
		}
		var data any
		if out != nil {
			data = out.Data
		}
		results = append(results, data)
	}
	return output(map[string]any{"count": len(results), "results": results}), nil
}
