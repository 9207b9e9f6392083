package actions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ghxstship/orangeseadragon-sub009/internal/expressions"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// NotificationAction implements "send_notification": one notification per
// resolved recipient.
type NotificationAction struct {
	sink NotificationSink
	now  func() time.Time
}

// NewNotificationAction creates the action. A nil clock uses time.Now.
func NewNotificationAction(sink NotificationSink, now func() time.Time) *NotificationAction {
	if now == nil {
		now = time.Now
	}
	return &NotificationAction{sink: sink, now: now}
}

func (a *NotificationAction) Name() string { return "send_notification" }

func (a *NotificationAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Send an in-app notification to entity aliases or user ids.",
		Required:    []string{"recipients", "title"},
		Optional:    []string{"message"},
	}
}

func (a *NotificationAction) Validate(params map[string]any) error {
	if len(listParam(params, "recipients")) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "send_notification: recipients is required")
	}
	_, err := requireString(a.Name(), params, "title")
	return err
}

func (a *NotificationAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	if a.sink == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "send_notification: no notification sink configured")
	}

	recipients := ResolveRecipients(listParam(input.Params, "recipients"), expressions.Entity(input.Context))
	if len(recipients.IDs) == 0 {
		return nil, stepFailed(a.Name(), "no recipients resolved from %v", recipients.Unresolved)
	}

	// Title and message were interpolated when params were resolved; a
	// template that is still present here was built at runtime.
	title := expressions.Interpolate(stringParam(input.Params, "title", ""), input.Context)
	message := expressions.Interpolate(stringParam(input.Params, "message", ""), input.Context)

	created := a.now().UTC()
	batch := make([]Notification, len(recipients.IDs))
	ids := make([]any, len(recipients.IDs))
	for i, recipient := range recipients.IDs {
		batch[i] = Notification{
			ID:          uuid.NewString(),
			RecipientID: recipient,
			Title:       title,
			Message:     message,
			EntityType:  input.Execution.EntityType,
			EntityID:    input.Execution.EntityID,
			ExecutionID: input.Execution.ExecutionID,
			WorkflowID:  input.Execution.WorkflowID,
			CreatedAt:   created,
		}
		ids[i] = batch[i].ID
	}
	if err := a.sink.Insert(ctx, batch); err != nil {
		return nil, stepFailed(a.Name(), "insert notifications: %v", err).WithCause(unavailable(err))
	}

	recipientList := make([]any, len(recipients.IDs))
	for i, id := range recipients.IDs {
		recipientList[i] = id
	}
	out := map[string]any{
		"sent":            len(batch),
		"recipients":      recipientList,
		"notificationIds": ids,
		"title":           title,
	}
	if len(recipients.Unresolved) > 0 {
		unresolved := make([]any, len(recipients.Unresolved))
		for i, u := range recipients.Unresolved {
			unresolved[i] = u
		}
		out["unresolved"] = unresolved
	}
	return output(out), nil
}
