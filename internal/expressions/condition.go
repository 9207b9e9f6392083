package expressions

import (
	"context"
	"fmt"
	"strings"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Condition is the parsed configuration of a condition step. Either
// Expression is set, or Field/Operator/Value are.
type Condition struct {
	Field      Ref
	Operator   string
	Value      any
	Expression string
}

// ConditionFromConfig reads a condition from step config.
func ConditionFromConfig(cfg map[string]any) Condition {
	c := Condition{Value: cfg["value"]}
	if f, ok := cfg["field"].(string); ok {
		c.Field = ParseRef(f)
	}
	if op, ok := cfg["operator"].(string); ok {
		c.Operator = op
	}
	if expr, ok := cfg["expression"].(string); ok {
		c.Expression = strings.TrimSpace(expr)
	}
	return c
}

// Outcome records how a condition was decided.
type Outcome struct {
	Result       bool   `json:"result"`
	Operator     string `json:"operator,omitempty"`
	Field        string `json:"field,omitempty"`
	FieldFound   bool   `json:"fieldFound"`
	FieldValue   any    `json:"fieldValue,omitempty"`
	CompareValue any    `json:"compareValue,omitempty"`
	Expression   string `json:"expression,omitempty"`
}

// ToMap renders the outcome as a step output.
func (o Outcome) ToMap() map[string]any {
	m := map[string]any{"result": o.Result, "fieldFound": o.FieldFound}
	if o.Expression != "" {
		m["expression"] = o.Expression
		return m
	}
	m["operator"] = o.Operator
	m["field"] = o.Field
	m["fieldValue"] = o.FieldValue
	m["compareValue"] = o.CompareValue
	return m
}

// Evaluator decides conditions. Expression-mode conditions are delegated to
// the configured engine (expr-lang by default).
type Evaluator struct {
	engine Engine
}

// NewEvaluator creates an evaluator. A nil engine uses expr-lang.
func NewEvaluator(engine Engine) *Evaluator {
	if engine == nil {
		engine = NewExprEngine()
	}
	return &Evaluator{engine: engine}
}

// Evaluate decides c against data. Every successful evaluation yields exactly
// one boolean; errors are unknown operators or failing expressions.
func (e *Evaluator) Evaluate(ctx context.Context, c Condition, data map[string]any) (Outcome, error) {
	if c.Expression != "" {
		out, err := e.engine.Evaluate(ctx, c.Expression, data)
		if err != nil {
			return Outcome{}, err
		}
		b, ok := out.(bool)
		if !ok {
			return Outcome{}, schema.NewErrorf(schema.ErrCodeStepFailed,
				"condition expression %q returned %T, want bool", c.Expression, out)
		}
		return Outcome{Result: b, Expression: c.Expression, FieldFound: true}, nil
	}

	op, err := ParseOperator(c.Operator)
	if err != nil {
		return Outcome{}, err
	}
	field := c.Field.Resolve(data)
	compare := ResolveValue(c.Value, data)
	result, err := Compare(op, field.Value, compare)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Result:       result,
		Operator:     string(op),
		Field:        describeRef(c.Field),
		FieldFound:   field.Found,
		FieldValue:   field.Value,
		CompareValue: compare,
	}, nil
}

func describeRef(r Ref) string {
	if r.IsPath() {
		return r.Path()
	}
	return fmt.Sprint(r.Raw)
}
