package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// celMapVars are declared as map(string, dyn); celStringVars as string.
// ctx exposes the whole execution context, including step_<i>_output keys.
var (
	celMapVars    = []string{KeyEntity, KeyTriggerData, KeyWorkflow, "ctx"}
	celStringVars = []string{KeyEntityType, KeyEntityID, KeyNow}
)

// CELEngine evaluates Common Expression Language programs. Unlike expr, CEL
// checks variable names at compile time, so a typo fails in Check.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine with the execution context variables
// declared.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	var opts []cel.EnvOption
	for _, v := range celMapVars {
		opts = append(opts, cel.Variable(v, mapType))
	}
	for _, v := range celStringVars {
		opts = append(opts, cel.Variable(v, cel.StringType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	e := &CELEngine{env: env}
	e.cache = newProgramCache(e.compile)
	return e, nil
}

func (e *CELEngine) Name() string { return "cel" }

func (e *CELEngine) Check(expression string) error {
	if expression == "" {
		return emptySource("cel")
	}
	_, err := e.cache.get(expression)
	return err
}

func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptySource("cel")
	}
	prg, err := e.cache.get(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.ContextEval(ctx, celActivation(data))
	if err != nil {
		return nil, evalError("cel", expression, err)
	}
	return out.Value(), nil
}

func (e *CELEngine) compile(src string) (cel.Program, error) {
	ast, issues := e.env.Compile(src)
	if err := issues.Err(); err != nil {
		return nil, compileError("cel", src, err)
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, compileError("cel", src, err)
	}
	return prg, nil
}

// celActivation fills every declared variable so missing keys evaluate to
// empty values rather than "no such attribute" errors.
func celActivation(data map[string]any) map[string]any {
	act := make(map[string]any, len(celMapVars)+len(celStringVars))
	for _, k := range celMapVars {
		if k == "ctx" {
			continue
		}
		if m, ok := data[k].(map[string]any); ok {
			act[k] = m
		} else {
			act[k] = map[string]any{}
		}
	}
	for _, k := range celStringVars {
		s, _ := data[k].(string)
		act[k] = s
	}
	if data == nil {
		data = map[string]any{}
	}
	act["ctx"] = data
	return act
}

var _ Engine = (*CELEngine)(nil)
