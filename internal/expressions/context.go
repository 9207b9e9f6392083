package expressions

import (
	"time"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Context keys exposed to conditions and action params.
const (
	KeyWorkflow    = "workflow"
	KeyEntityType  = "entity_type"
	KeyEntityID    = "entity_id"
	KeyTriggerData = "trigger_data"
	KeyNow         = "now"
	KeyEntity      = "entity"
)

// ContextInput is everything needed to rebuild an execution context. The
// context itself is never persisted.
type ContextInput struct {
	Workflow    map[string]any
	EntityType  string
	EntityID    string
	TriggerData map[string]any
	Now         time.Time
	// Entity is nil when the run has no entity or it was not loaded.
	Entity      map[string]any
	StepOutputs map[int]any
}

// BuildContext assembles the evaluation context. All inputs are deep-copied
// so handlers cannot mutate persisted state through the context.
func BuildContext(in ContextInput) map[string]any {
	ctx := map[string]any{
		KeyWorkflow:    schema.CloneMap(in.Workflow),
		KeyEntityType:  in.EntityType,
		KeyEntityID:    in.EntityID,
		KeyTriggerData: schema.CloneMap(in.TriggerData),
		KeyNow:         in.Now.UTC().Format(time.RFC3339),
	}
	if ctx[KeyWorkflow] == nil {
		ctx[KeyWorkflow] = map[string]any{}
	}
	if ctx[KeyTriggerData] == nil {
		ctx[KeyTriggerData] = map[string]any{}
	}
	if in.Entity != nil {
		ctx[KeyEntity] = schema.CloneMap(in.Entity)
	}
	for i, out := range in.StepOutputs {
		ctx[schema.StepOutputKey(i)] = schema.CloneValue(out)
	}
	return ctx
}

// SetStepOutput exposes a step's output to later steps.
func SetStepOutput(ctx map[string]any, index int, output any) {
	ctx[schema.StepOutputKey(index)] = schema.CloneValue(output)
}

// Entity returns the entity map from ctx, or nil.
func Entity(ctx map[string]any) map[string]any {
	e, _ := ctx[KeyEntity].(map[string]any)
	return e
}

// WithVar returns a shallow copy of ctx with one extra variable.
func WithVar(ctx map[string]any, name string, value any) map[string]any {
	out := make(map[string]any, len(ctx)+1)
	for k, v := range ctx {
		out[k] = v
	}
	out[name] = value
	return out
}
