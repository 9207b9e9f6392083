package engine

import "github.com/ghxstship/orangeseadragon-sub009/pkg/schema"

// WaitingResponse is returned for an execution that suspended.
type WaitingResponse struct {
	ExecutionID string                 `json:"executionId"`
	Status      schema.ExecutionStatus `json:"status"`
	CurrentStep int                    `json:"currentStep"`
	WaitingFor  string                 `json:"waitingFor"`
}

// FinishedResponse is returned for an execution that completed or failed.
type FinishedResponse struct {
	ExecutionID   string                 `json:"executionId"`
	Status        schema.ExecutionStatus `json:"status"`
	StepsExecuted int                    `json:"stepsExecuted"`
	StepResults   []schema.StepResult    `json:"stepResults"`
	Error         string                 `json:"error,omitempty"`
}

// Summarize renders the trigger/resume response body for exec. The bool is
// true when the execution is waiting.
func Summarize(exec *schema.WorkflowExecution) (any, bool) {
	if exec.Status == schema.ExecutionWaiting {
		return WaitingResponse{
			ExecutionID: exec.ID,
			Status:      exec.Status,
			CurrentStep: exec.CurrentStep,
			WaitingFor:  exec.WaitingFor,
		}, true
	}
	results := exec.StepResults
	if results == nil {
		results = []schema.StepResult{}
	}
	return FinishedResponse{
		ExecutionID:   exec.ID,
		Status:        exec.Status,
		StepsExecuted: len(results),
		StepResults:   results,
		Error:         exec.Error,
	}, false
}
