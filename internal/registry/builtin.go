package registry

import (
	"github.com/ghxstship/orangeseadragon-sub009/internal/expressions"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

var (
	oneOutput   = []schema.Handle{schema.HandleOutput}
	boolOutputs = []schema.Handle{schema.HandleTrue, schema.HandleFalse}
)

func minOf(v float64) *float64 { return &v }

func builtinSpecs() []*Spec {
	return []*Spec{
		{
			Type: schema.NodeTrigger, Label: "Trigger", Icon: "zap", ColorClass: "bg-amber-500",
			Category: CategoryTrigger, Outputs: oneOutput, HasInput: false,
			DefaultConfig: map[string]any{"event": "manual"},
			Fields: []FieldSpec{
				{Key: "event", Label: "Event", Kind: FieldEnum, Required: true,
					Options: []string{"manual", "entity_created", "entity_updated", "schedule"}},
				{Key: "cron", Label: "Schedule", Kind: FieldString,
					Help: "cron expression, used when event is schedule"},
			},
		},
		{
			Type: schema.NodeCondition, Label: "Condition", Icon: "git-branch", ColorClass: "bg-violet-500",
			Category: CategoryLogic, Outputs: boolOutputs, HasInput: true,
			DefaultConfig: map[string]any{"field": "", "operator": "eq", "value": ""},
			Fields: []FieldSpec{
				{Key: "field", Label: "Field", Kind: FieldString, Help: "{{path}} or entity.<field>"},
				{Key: "operator", Label: "Operator", Kind: FieldEnum, Required: true, Options: expressions.OperatorNames()},
				{Key: "value", Label: "Value", Kind: FieldAny},
				{Key: "expression", Label: "Expression", Kind: FieldText,
					Help: "boolean expression evaluated instead of field/operator/value"},
			},
		},
		{
			Type: schema.NodeAction, Label: "Action", Icon: "play", ColorClass: "bg-blue-500",
			Category: CategoryAction, Outputs: oneOutput, HasInput: true,
			DefaultConfig: map[string]any{"action": "", "params": map[string]any{}},
			Fields: []FieldSpec{
				{Key: "action", Label: "Action", Kind: FieldString, Required: true},
				{Key: "params", Label: "Parameters", Kind: FieldMap},
			},
		},
		{
			Type: schema.NodeNotification, Label: "Send notification", Icon: "bell", ColorClass: "bg-sky-500",
			Category: CategoryAction, Outputs: oneOutput, HasInput: true,
			DefaultConfig: map[string]any{"recipients": []any{"assigned_to"}, "title": "", "message": ""},
			Fields: []FieldSpec{
				{Key: "recipients", Label: "Recipients", Kind: FieldList, Required: true,
					Help: "assigned_to, created_by or user UUIDs"},
				{Key: "title", Label: "Title", Kind: FieldString, Required: true},
				{Key: "message", Label: "Message", Kind: FieldText},
			},
		},
		{
			Type: schema.NodeUpdateField, Label: "Update field", Icon: "edit", ColorClass: "bg-cyan-600",
			Category: CategoryAction, Outputs: oneOutput, HasInput: true,
			DefaultConfig: map[string]any{"field": "", "value": ""},
			Fields: []FieldSpec{
				{Key: "field", Label: "Field", Kind: FieldString, Required: true},
				{Key: "value", Label: "Value", Kind: FieldAny},
			},
		},
		{
			Type: schema.NodeApproval, Label: "Approval", Icon: "check-circle", ColorClass: "bg-emerald-500",
			Category: CategoryFlow, Outputs: oneOutput, HasInput: true,
			DefaultConfig: map[string]any{"approvers": []any{}, "requiredApprovals": 1, "rule": "any"},
			Fields: []FieldSpec{
				{Key: "approvers", Label: "Approvers", Kind: FieldList, Required: true},
				{Key: "requiredApprovals", Label: "Required approvals", Kind: FieldInteger, Min: minOf(1)},
				{Key: "rule", Label: "Rule", Kind: FieldEnum, Options: []string{"any", "all"}},
			},
		},
		{
			Type: schema.NodeDelay, Label: "Delay", Icon: "clock", ColorClass: "bg-orange-500",
			Category: CategoryFlow, Outputs: oneOutput, HasInput: true,
			DefaultConfig: map[string]any{"duration": 1, "unit": "hours"},
			Fields: []FieldSpec{
				{Key: "duration", Label: "Duration", Kind: FieldNumber, Required: true, Min: minOf(0)},
				{Key: "unit", Label: "Unit", Kind: FieldEnum, Required: true,
					Options: []string{"seconds", "minutes", "hours", "days"}},
			},
		},
		{
			Type: schema.NodeWait, Label: "Wait for event", Icon: "pause-circle", ColorClass: "bg-yellow-500",
			Category: CategoryFlow, Outputs: oneOutput, HasInput: true,
			DefaultConfig: map[string]any{"for": "event"},
			Fields: []FieldSpec{
				{Key: "for", Label: "Waiting for", Kind: FieldString, Required: true},
			},
		},
		{
			Type: schema.NodeHTTP, Label: "HTTP request", Icon: "globe", ColorClass: "bg-indigo-500",
			Category: CategoryIntegration, Outputs: oneOutput, HasInput: true,
			DefaultConfig: map[string]any{"url": "", "method": "GET", "headers": map[string]any{}, "body": ""},
			Fields: []FieldSpec{
				{Key: "url", Label: "URL", Kind: FieldString, Required: true},
				{Key: "method", Label: "Method", Kind: FieldEnum, Required: true,
					Options: []string{"GET", "POST", "PUT", "PATCH", "DELETE"}},
				{Key: "headers", Label: "Headers", Kind: FieldMap},
				{Key: "body", Label: "Body", Kind: FieldAny},
			},
		},
		{
			Type: schema.NodeScript, Label: "Script", Icon: "code", ColorClass: "bg-slate-600",
			Category: CategoryIntegration, Outputs: oneOutput, HasInput: true,
			DefaultConfig: map[string]any{"language": "expr", "source": ""},
			Fields: []FieldSpec{
				{Key: "language", Label: "Language", Kind: FieldEnum, Required: true, Options: []string{"expr", "cel", "jq"}},
				{Key: "source", Label: "Source", Kind: FieldText, Required: true},
			},
		},
		{
			Type: schema.NodeLoop, Label: "For each", Icon: "repeat", ColorClass: "bg-pink-500",
			Category: CategoryFlow, Outputs: oneOutput, HasInput: true,
			DefaultConfig: map[string]any{"collection": "", "itemVariable": "item", "action": "", "params": map[string]any{}},
			Fields: []FieldSpec{
				{Key: "collection", Label: "Collection", Kind: FieldString, Required: true},
				{Key: "itemVariable", Label: "Item variable", Kind: FieldString, Required: true},
				{Key: "action", Label: "Action", Kind: FieldString, Required: true},
				{Key: "params", Label: "Parameters", Kind: FieldMap},
			},
		},
		{
			Type: schema.NodeBranch, Label: "Branch", Icon: "git-merge", ColorClass: "bg-purple-400",
			Category: CategoryLogic, Outputs: oneOutput, HasInput: true,
			DefaultConfig: map[string]any{},
		},
		{
			Type: schema.NodeEnd, Label: "End", Icon: "flag", ColorClass: "bg-gray-500",
			Category: CategoryFlow, HasInput: true,
			DefaultConfig: map[string]any{},
		},
	}
}
