package schema

import (
	"encoding/json"
	"time"
)

// Event type constants for the execution event log.
const (
	EventExecutionStarted   = "execution.started"
	EventExecutionWaiting   = "execution.waiting"
	EventExecutionResumed   = "execution.resumed"
	EventExecutionCompleted = "execution.completed"
	EventExecutionFailed    = "execution.failed"

	EventStepCompleted = "step.completed"
	EventStepFailed    = "step.failed"
	EventStepRetrying  = "step.retrying"
)

// ExecutionEvent is one entry of an execution's append-only audit log.
type ExecutionEvent struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"executionId"`
	Type        string          `json:"type"`
	StepIndex   *int            `json:"stepIndex,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}
