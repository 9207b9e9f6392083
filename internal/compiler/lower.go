package compiler

import (
	"time"

	"github.com/spf13/cast"

	"github.com/ghxstship/orangeseadragon-sub009/internal/registry"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Action names the lowering dispatches to.
const (
	actionSendNotification = "send_notification"
	actionUpdateField      = "update_field"
	actionCreateApproval   = "create_approval"
	actionHTTPRequest      = "http_request"
	actionRunScript        = "run_script"
	actionForEach          = "for_each"
)

// Wait kinds carried in a wait step's "for" config.
const (
	WaitApproval = "approval"
	WaitDelay    = "delay"
)

// typedActions maps node types whose action is fixed by the type.
var typedActions = map[schema.CanvasNodeType]string{
	schema.NodeNotification: actionSendNotification,
	schema.NodeUpdateField:  actionUpdateField,
	schema.NodeApproval:     actionCreateApproval,
	schema.NodeHTTP:         actionHTTPRequest,
	schema.NodeScript:       actionRunScript,
	schema.NodeLoop:         actionForEach,
}

var unitDurations = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

// DelayDuration converts a delay node's duration and unit to a time span.
// Unknown units count as hours.
func DelayDuration(duration any, unit string) time.Duration {
	n := cast.ToFloat64(duration)
	if n <= 0 {
		return 0
	}
	per, ok := unitDurations[unit]
	if !ok {
		per = time.Hour
	}
	return time.Duration(n * float64(per))
}

// lower emits steps for the analysed graph. Nodes are laid out in
// topological order, so every jump it produces points forward.
func lower(a *analysis) *Result {
	res := &Result{
		Order:     a.order,
		NodeSteps: make(map[string][]int, len(a.order)),
	}

	// Pass 1: allocate indices.
	entry := make(map[string]int, len(a.order))
	for _, id := range a.order {
		n := &a.graph.Nodes[a.index[id]]
		steps := nodeSteps(n)
		if len(steps) == 0 {
			entry[id] = schema.StepEnd
			continue
		}
		entry[id] = len(res.Steps)
		for _, st := range steps {
			st.Index = len(res.Steps)
			res.NodeSteps[id] = append(res.NodeSteps[id], st.Index)
			res.Steps = append(res.Steps, st)
		}
	}

	target := func(id string) int {
		if idx, ok := entry[id]; ok {
			return idx
		}
		return schema.StepEnd
	}

	// Pass 2: fill jumps from the edges.
	for _, id := range a.order {
		indices := res.NodeSteps[id]
		if len(indices) == 0 {
			continue
		}
		next := schema.StepEnd
		onTrue, onFalse := schema.StepEnd, schema.StepEnd
		for _, e := range a.out[id] {
			switch e.EffectiveHandle() {
			case schema.HandleTrue:
				onTrue = target(e.Target)
			case schema.HandleFalse:
				onFalse = target(e.Target)
			default:
				next = target(e.Target)
			}
		}

		// Chained steps of one node run in sequence; the last one continues
		// along the node's outgoing edge.
		for i, idx := range indices {
			st := &res.Steps[idx]
			if i < len(indices)-1 {
				st.Next = indices[i+1]
				continue
			}
			if st.Type == schema.StepCondition {
				st.OnTrue, st.OnFalse = onTrue, onFalse
				st.Next = schema.StepEnd
			} else {
				st.Next = next
			}
		}
	}
	return res
}

// nodeSteps returns the unindexed steps a node lowers to.
func nodeSteps(n *schema.CanvasNode) []schema.Step {
	base := schema.Step{
		NodeID: n.ID,
		Label:  nodeLabel(n),
	}
	// Steps that do work carry the node's timeout and retry policy.
	guarded := base
	guarded.TimeoutMs = n.EffectiveTimeoutMs()
	if n.Retry != nil {
		r := *n.Retry
		if r.Backoff == "" {
			r.Backoff = schema.BackoffFixed
		}
		guarded.Retry = &r
	}
	action := func(name string, params map[string]any) schema.Step {
		st := guarded
		st.Type = schema.StepAction
		st.Config = map[string]any{"action": name, "params": params}
		return st
	}
	wait := func(cfg map[string]any) schema.Step {
		st := base
		st.Type = schema.StepWait
		st.Config = cfg
		return st
	}

	switch n.Type {
	case schema.NodeTrigger, schema.NodeEnd:
		return nil

	case schema.NodeCondition:
		st := guarded
		st.Type = schema.StepCondition
		st.Config = schema.CloneMap(n.Config)
		return []schema.Step{st}

	case schema.NodeAction:
		name, _ := n.Config["action"].(string)
		return []schema.Step{action(name, nodeParams(n))}

	case schema.NodeApproval:
		return []schema.Step{
			action(actionCreateApproval, configParams(n)),
			wait(map[string]any{"for": WaitApproval}),
		}

	case schema.NodeDelay:
		unit, _ := n.Config["unit"].(string)
		d := DelayDuration(n.Config["duration"], unit)
		return []schema.Step{wait(map[string]any{
			"for":        WaitDelay,
			"durationMs": d.Milliseconds(),
			"duration":   schema.CloneValue(n.Config["duration"]),
			"unit":       unit,
		})}

	case schema.NodeWait:
		return []schema.Step{wait(map[string]any{"for": n.Config["for"]})}

	case schema.NodeBranch:
		st := base
		st.Type = schema.StepBranch
		return []schema.Step{st}
	}

	if name, ok := typedActions[n.Type]; ok {
		return []schema.Step{action(name, configParams(n))}
	}
	return nil
}

// nodeParams returns the params the node's action step receives: the
// params map of a generic action node, or the whole config of a typed one.
func nodeParams(n *schema.CanvasNode) map[string]any {
	if n.Type != schema.NodeAction {
		return configParams(n)
	}
	params, _ := schema.CloneValue(n.Config["params"]).(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	return params
}

func configParams(n *schema.CanvasNode) map[string]any {
	params := schema.CloneMap(n.Config)
	if params == nil {
		params = map[string]any{}
	}
	return params
}

func nodeLabel(n *schema.CanvasNode) string {
	if n.Label != "" {
		return n.Label
	}
	if spec, ok := registry.Lookup(n.Type); ok {
		return spec.Label
	}
	return string(n.Type)
}
