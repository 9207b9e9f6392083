// Package compiler validates authored graphs and lowers them to the linear,
// jump-indexed step list the interpreter runs.
package compiler

import (
	"errors"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// ActionLookup reports whether an action name is registered.
type ActionLookup interface {
	Has(name string) bool
}

// LiteralChecker is an optional ActionLookup extension that validates the
// params of actions receiving them unrendered, such as run_script. Those
// params are final when the workflow is saved, so they can be checked then.
type LiteralChecker interface {
	CheckLiteral(name string, params map[string]any) error
}

// Compiler turns graphs into steps. The zero value skips action existence
// checks.
type Compiler struct {
	actions ActionLookup
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithActions enables checking action names against a registry.
func WithActions(lookup ActionLookup) Option {
	return func(c *Compiler) { c.actions = lookup }
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is a successful compilation.
type Result struct {
	Steps []schema.Step `json:"steps"`
	// Order lists the reachable node ids in execution order.
	Order []string `json:"order"`
	// NodeSteps maps node ids to the steps they produced.
	NodeSteps map[string][]int         `json:"nodeSteps"`
	Warnings  []schema.ValidationError `json:"warnings,omitempty"`
}

// Validate checks g and reports every problem found. It never lowers.
func (c *Compiler) Validate(g *schema.Graph) *schema.ValidationResult {
	result, _ := c.analyze(g)
	return result
}

// Compile validates g and lowers it. On failure the error is a
// *schema.FlowError whose details carry the full validation result; a
// cycle reachable from the trigger yields CYCLE_DETECTED.
func (c *Compiler) Compile(g *schema.Graph) (*Result, error) {
	result, a := c.analyze(g)
	if !result.Valid() {
		return nil, resultError(result)
	}
	out := lower(a)
	out.Warnings = result.Warnings
	return out, nil
}

// CompileDefinition produces the steps for def: its graph when present,
// otherwise its hand-written step list after normalisation.
func (c *Compiler) CompileDefinition(def *schema.WorkflowDefinition) ([]schema.Step, *schema.ValidationResult, error) {
	if def == nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if def.Graph != nil {
		result, a := c.analyze(def.Graph)
		if !result.Valid() {
			return nil, result, resultError(result)
		}
		return lower(a).Steps, result, nil
	}
	steps, result := c.Normalize(def.Steps)
	if !result.Valid() {
		return nil, result, resultError(result)
	}
	return steps, result, nil
}

func (c *Compiler) checkLiteral(name string, params map[string]any) error {
	lc, ok := c.actions.(LiteralChecker)
	if !ok || name == "" {
		return nil
	}
	err := lc.CheckLiteral(name, params)
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return errors.New(fe.Message)
	}
	return err
}

func resultError(r *schema.ValidationResult) error {
	err := r.ToError()
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		return err
	}
	for _, e := range r.Errors {
		if e.Code == schema.ErrCodeCycleDetected {
			fe.Code = schema.ErrCodeCycleDetected
			break
		}
	}
	return fe
}
