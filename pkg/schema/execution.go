package schema

import (
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// StepStatus is the outcome recorded for an executed step.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// WorkflowExecution is one run of a definition against a trigger/entity.
// Version is the optimistic concurrency token owned by the store.
type WorkflowExecution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflowId"`
	WorkflowVersion int             `json:"workflowVersion"`
	OrganizationID  string          `json:"organizationId,omitempty"`
	EntityType      string          `json:"entityType,omitempty"`
	EntityID        string          `json:"entityId,omitempty"`
	Status          ExecutionStatus `json:"status"`
	CurrentStep     int             `json:"currentStep"`
	StepResults     []StepResult    `json:"stepResults"`
	TriggerData     map[string]any  `json:"triggerData,omitempty"`
	WaitingFor      string          `json:"waitingFor,omitempty"`
	ResumeAt        *time.Time      `json:"resumeAt,omitempty"`
	Error           string          `json:"error,omitempty"`
	Version         int             `json:"version"`
	StartedAt       time.Time       `json:"startedAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// HasFailedStep reports whether any recorded step failed.
func (e *WorkflowExecution) HasFailedStep() bool {
	for _, r := range e.StepResults {
		if r.Status == StepStatusFailed {
			return true
		}
	}
	return false
}

// OnceKey is the uniqueness key used for run-once-per-entity workflows.
func OnceKey(workflowID, entityType, entityID string) string {
	return fmt.Sprintf("%s:%s:%s", workflowID, entityType, entityID)
}

// StepResult is the append-only record of one executed step.
type StepResult struct {
	StepIndex   int        `json:"stepIndex"`
	NodeID      string     `json:"nodeId,omitempty"`
	Type        StepType   `json:"type"`
	Status      StepStatus `json:"status"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorCode   string     `json:"errorCode,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	CompletedAt time.Time  `json:"completedAt"`
}

// StepOutputKey is the context key under which step i's output is exposed.
func StepOutputKey(i int) string {
	return fmt.Sprintf("step_%d_output", i)
}
