package compiler

import (
	"fmt"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Defaults returns a copy of steps with unset jumps filled. Jumps are
// forward-only, so zero can never be a valid target and means "unset":
// Next and OnTrue default to the following step, OnFalse to halt. A jump
// equal to len(steps) also halts. Nothing else is checked.
func Defaults(steps []schema.Step) []schema.Step {
	out := make([]schema.Step, len(steps))
	for i, st := range steps {
		st.Config = schema.CloneMap(st.Config)
		if st.Retry != nil {
			r := *st.Retry
			st.Retry = &r
		}
		st.Index = i

		follow := i + 1
		if follow == len(steps) {
			follow = schema.StepEnd
		}
		if st.Next == 0 {
			st.Next = follow
		}
		if st.Type == schema.StepCondition {
			if st.OnTrue == 0 {
				st.OnTrue = follow
			}
			if st.OnFalse == 0 {
				st.OnFalse = schema.StepEnd
			}
		}
		for _, jump := range []*int{&st.Next, &st.OnTrue, &st.OnFalse} {
			if *jump == len(steps) {
				*jump = schema.StepEnd
			}
		}
		out[i] = st
	}
	return out
}

// ValidJump reports whether jump is a legal target for step i of n.
func ValidJump(i, jump, n int) bool {
	return jump == schema.StepEnd || (jump > i && jump < n)
}

// Normalize fills defaults into a hand-written step list and checks it.
func (c *Compiler) Normalize(steps []schema.Step) ([]schema.Step, *schema.ValidationResult) {
	result := &schema.ValidationResult{}
	if len(steps) == 0 {
		result.AddError("", schema.ErrCodeValidation, "workflow has no steps")
		return nil, result
	}

	out := Defaults(steps)
	for i, st := range out {
		ref := stepRef(i, st)
		check := func(name string, jump int) {
			if !ValidJump(i, jump, len(out)) {
				result.AddError(ref, schema.ErrCodeValidation,
					fmt.Sprintf("step %d: %s jump %d must point forward", i, name, jump))
			}
		}
		check("next", st.Next)
		if st.Type == schema.StepCondition {
			check("onTrue", st.OnTrue)
			check("onFalse", st.OnFalse)
		}

		switch st.Type {
		case schema.StepCondition, schema.StepBranch:
		case schema.StepAction:
			name := st.ConfigString("action")
			if name == "" {
				result.AddError(ref, schema.ErrCodeValidation, fmt.Sprintf("step %d: action is required", i))
			} else if c.actions != nil && !c.actions.Has(name) {
				result.AddError(ref, schema.ErrCodeUnknownAction, fmt.Sprintf("step %d: unknown action %q", i, name))
			} else if params, _ := st.Config["params"].(map[string]any); c.actions != nil {
				if err := c.checkLiteral(name, params); err != nil {
					result.AddError(ref, schema.ErrCodeValidation, fmt.Sprintf("step %d: %v", i, err))
				}
			}
		case schema.StepWait:
			if st.ConfigString("for") == "" {
				result.AddError(ref, schema.ErrCodeValidation, fmt.Sprintf("step %d: wait requires \"for\"", i))
			}
		default:
			result.AddError(ref, schema.ErrCodeValidation, fmt.Sprintf("step %d: unknown step type %q", i, st.Type))
		}
		for _, msg := range st.Retry.Problems() {
			result.AddError(ref, schema.ErrCodeValidation, fmt.Sprintf("step %d: %s", i, msg))
		}
		if st.TimeoutMs < 0 {
			result.AddError(ref, schema.ErrCodeValidation, fmt.Sprintf("step %d: timeout must not be negative", i))
		}
	}
	if !result.Valid() {
		return nil, result
	}
	return out, result
}

func stepRef(i int, st schema.Step) string {
	if st.NodeID != "" {
		return st.NodeID
	}
	return fmt.Sprintf("step-%d", i)
}
