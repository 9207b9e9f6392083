package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine evaluates expr-lang expressions. Context keys are top-level
// variables, so `entity.amount > 1000 && trigger_data.source == "api"` works
// directly against an execution context. Unknown variables are nil.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

// NewExprEngine creates an expr engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache(func(src string) (*vm.Program, error) {
		prg, err := expr.Compile(src, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, compileError("expr", src, err)
		}
		return prg, nil
	})}
}

func (e *ExprEngine) Name() string { return "expr" }

func (e *ExprEngine) Check(expression string) error {
	if expression == "" {
		return emptySource("expr")
	}
	_, err := e.cache.get(expression)
	return err
}

func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptySource("expr")
	}
	prg, err := e.cache.get(expression)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, evalError("expr", expression, err)
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
