package actions

import (
	"context"
	"time"

	"github.com/ghxstship/orangeseadragon-sub009/internal/expressions"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// ApprovalAction implements "create_approval". The step that follows it is a
// wait for "approval"; resuming that wait carries the decision.
type ApprovalAction struct {
	approvals ApprovalService
	now       func() time.Time
}

// NewApprovalAction creates the action. A nil clock uses time.Now.
func NewApprovalAction(approvals ApprovalService, now func() time.Time) *ApprovalAction {
	if now == nil {
		now = time.Now
	}
	return &ApprovalAction{approvals: approvals, now: now}
}

func (a *ApprovalAction) Name() string { return "create_approval" }

func (a *ApprovalAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Open an approval request for entity aliases or user ids.",
		Required:    []string{"approvers"},
		Optional:    []string{"requiredApprovals", "rule", "title"},
	}
}

func (a *ApprovalAction) Validate(params map[string]any) error {
	if len(listParam(params, "approvers")) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "create_approval: approvers is required")
	}
	if n := intParam(params, "requiredApprovals", 1); n < 1 {
		return schema.NewErrorf(schema.ErrCodeValidation, "create_approval: requiredApprovals must be at least 1, got %d", n)
	}
	switch stringParam(params, "rule", ApprovalRuleAny) {
	case "", ApprovalRuleAny, ApprovalRuleAll:
		return nil
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "create_approval: rule must be %q or %q",
			ApprovalRuleAny, ApprovalRuleAll)
	}
}

func (a *ApprovalAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	if a.approvals == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "create_approval: no approval service configured")
	}

	approvers := ResolveRecipients(listParam(input.Params, "approvers"), expressions.Entity(input.Context))
	if len(approvers.IDs) == 0 {
		return nil, stepFailed(a.Name(), "no approvers resolved from %v", approvers.Unresolved)
	}

	rule := stringParam(input.Params, "rule", ApprovalRuleAny)
	if rule == "" {
		rule = ApprovalRuleAny
	}
	required := intParam(input.Params, "requiredApprovals", 1)
	if rule == ApprovalRuleAll {
		required = len(approvers.IDs)
	}
	if required > len(approvers.IDs) {
		return nil, stepFailed(a.Name(), "requiredApprovals %d exceeds %d resolved approvers",
			required, len(approvers.IDs))
	}

	req := ApprovalRequest{
		ExecutionID:       input.Execution.ExecutionID,
		WorkflowID:        input.Execution.WorkflowID,
		StepIndex:         input.Execution.StepIndex,
		EntityType:        input.Execution.EntityType,
		EntityID:          input.Execution.EntityID,
		Title:             stringParam(input.Params, "title", ""),
		Approvers:         approvers.IDs,
		RequiredApprovals: required,
		Rule:              rule,
		CreatedAt:         a.now().UTC(),
	}
	id, err := a.approvals.Create(ctx, req)
	if err != nil {
		return nil, stepFailed(a.Name(), "create approval: %v", err).WithCause(unavailable(err))
	}

	list := make([]any, len(approvers.IDs))
	for i, ap := range approvers.IDs {
		list[i] = ap
	}
	return output(map[string]any{
		"approvalId":        id,
		"approvers":         list,
		"requiredApprovals": required,
		"rule":              rule,
	}), nil
}
