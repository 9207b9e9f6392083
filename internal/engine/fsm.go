package engine

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// EventAppender records execution events. Satisfied by the store and by the
// recorder that also publishes to the live hub.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *schema.ExecutionEvent) error
}

// statusNew is the pseudo-state of an execution that has not been created.
const statusNew schema.ExecutionStatus = ""

// ValidExecutionTransitions defines the allowed execution status changes.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	statusNew:                 {schema.ExecutionRunning},
	schema.ExecutionRunning:   {schema.ExecutionWaiting, schema.ExecutionCompleted, schema.ExecutionFailed},
	schema.ExecutionWaiting:   {schema.ExecutionRunning, schema.ExecutionCompleted, schema.ExecutionFailed},
	schema.ExecutionCompleted: {},
	schema.ExecutionFailed:    {},
}

// ExecutionFSM validates execution status transitions and emits the
// matching event for each one. Persisting the new status is the caller's job.
type ExecutionFSM struct {
	appender EventAppender
}

// NewExecutionFSM creates an FSM that emits events via the given appender.
func NewExecutionFSM(appender EventAppender) *ExecutionFSM {
	return &ExecutionFSM{appender: appender}
}

// Check returns INVALID_TRANSITION when from → to is not allowed.
func (f *ExecutionFSM) Check(executionID string, from, to schema.ExecutionStatus) error {
	if slices.Contains(ValidExecutionTransitions[from], to) {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid execution transition: %s -> %s", displayStatus(from), to).
		WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
}

// Transition validates from → to and appends the corresponding event.
func (f *ExecutionFSM) Transition(ctx context.Context, executionID string, from, to schema.ExecutionStatus, payload map[string]any) error {
	if err := f.Check(executionID, from, to); err != nil {
		return err
	}
	event := &schema.ExecutionEvent{
		ExecutionID: executionID,
		Type:        transitionEventType(from, to),
	}
	if len(payload) > 0 {
		raw, err := json.Marshal(payload)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeInternal, "encode event payload: %s", err.Error())
		}
		event.Payload = raw
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit execution event: %s", err.Error()).WithCause(err)
	}
	return nil
}

func transitionEventType(from, to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionRunning:
		if from == schema.ExecutionWaiting {
			return schema.EventExecutionResumed
		}
		return schema.EventExecutionStarted
	case schema.ExecutionWaiting:
		return schema.EventExecutionWaiting
	case schema.ExecutionCompleted:
		return schema.EventExecutionCompleted
	default:
		return schema.EventExecutionFailed
	}
}

func displayStatus(s schema.ExecutionStatus) string {
	if s == statusNew {
		return "new"
	}
	return string(s)
}
