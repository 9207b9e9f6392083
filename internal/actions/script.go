package actions

import (
	"context"

	"github.com/ghxstship/orangeseadragon-sub009/internal/expressions"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// ScriptAction implements "run_script": evaluate an expr, CEL or jq program
// against the execution context. The program's value becomes result.
type ScriptAction struct {
	engines *expressions.Engines
}

// NewScriptAction creates the action.
func NewScriptAction(engines *expressions.Engines) *ScriptAction {
	return &ScriptAction{engines: engines}
}

func (a *ScriptAction) Name() string { return "run_script" }

func (a *ScriptAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Evaluate an expression against the execution context.",
		Required:    []string{"language", "source"},
	}
}

// ResolvesOwnParams keeps {{...}} inside source from being rendered before
// the program sees it.
func (a *ScriptAction) ResolvesOwnParams() bool { return true }

func (a *ScriptAction) Validate(params map[string]any) error {
	source, err := requireString(a.Name(), params, "source")
	if err != nil {
		return err
	}
	if a.engines == nil {
		return nil
	}
	return a.engines.Check(stringParam(params, "language", "expr"), source)
}

func (a *ScriptAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if a.engines == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "run_script: no expression engines configured")
	}
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	language := stringParam(input.Params, "language", "expr")
	engine, err := a.engines.Get(language)
	if err != nil {
		return nil, err
	}
	result, err := engine.Evaluate(ctx, stringParam(input.Params, "source", ""), input.Context)
	if err != nil {
		return nil, err
	}
	return output(map[string]any{"language": language, "result": result}), nil
}
