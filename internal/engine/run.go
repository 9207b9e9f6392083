package engine

import (
	"context"
	"time"

	"github.com/ghxstship/orangeseadragon-sub009/internal/compiler"
	"github.com/ghxstship/orangeseadragon-sub009/internal/expressions"
	"github.com/ghxstship/orangeseadragon-sub009/internal/logging"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// run is the in-memory state of one interpreter call.
type run struct {
	def   *schema.WorkflowDefinition
	steps []schema.Step
	exec  *schema.WorkflowExecution
	data  map[string]any
}

// waitSpec is how a wait step suspends the execution.
type waitSpec struct {
	For      string
	ResumeAt *time.Time
}

// drive runs exec from CurrentStep until a wait, a halt or a failure, and
// persists the outcome.
func (i *Interpreter) drive(ctx context.Context, op string, def *schema.WorkflowDefinition, steps []schema.Step, exec *schema.WorkflowExecution) (_ *schema.WorkflowExecution, err error) {
	ctx, span := i.tel.startRun(ctx, op, exec)
	defer func() { i.tel.endRun(ctx, span, exec.Status, err) }()

	r := &run{def: def, steps: steps, exec: exec}
	if err := i.buildContext(ctx, r); err != nil {
		exec.Error = err.Error()
		return i.finish(ctx, r, exec.CurrentStep)
	}

	idx := exec.CurrentStep
	for idx != schema.StepEnd {
		if ctx.Err() != nil {
			exec.Error = "execution interrupted: " + ctx.Err().Error()
			return i.finish(context.WithoutCancel(ctx), r, idx)
		}
		if idx < 0 || idx >= len(steps) {
			exec.Error = schema.NewErrorf(schema.ErrCodeValidation, "step index %d is out of range", idx).Error()
			return i.finish(ctx, r, idx)
		}

		st := &steps[idx]
		res, next, wait := i.execute(ctx, r, st)
		exec.StepResults = append(exec.StepResults, res)
		i.stepEvent(ctx, &res)

		if res.Status == schema.StepStatusFailed {
			exec.Error = res.Error
			return i.finish(ctx, r, idx)
		}
		expressions.SetStepOutput(r.data, idx, res.Output)

		if next != schema.StepEnd && !compiler.ValidJump(idx, next, len(steps)) {
			exec.Error = schema.NewErrorf(schema.ErrCodeValidation,
				"step %s jumps to %d; jumps must point forward", stepLabel(st), next).Error()
			return i.finish(ctx, r, idx)
		}
		if wait != nil {
			return i.suspend(ctx, r, next, wait)
		}
		idx = next
	}
	return i.finish(ctx, r, schema.StepEnd)
}

// buildContext rebuilds the evaluation context from persisted state and a
// fresh read of the entity.
func (i *Interpreter) buildContext(ctx context.Context, r *run) error {
	exec := r.exec
	var entity map[string]any
	if i.entities != nil && exec.EntityType != "" && exec.EntityID != "" {
		e, err := i.entities.Get(ctx, exec.EntityType, exec.EntityID)
		switch {
		case err == nil:
			entity = e
		case schema.IsCode(err, schema.ErrCodeNotFound):
			i.logger.WarnContext(ctx, "entity not found; running without it",
				"entity_type", exec.EntityType, "entity_id", exec.EntityID)
		default:
			return schema.NewErrorf(schema.ErrCodeEntity, "load %s %q: %v", exec.EntityType, exec.EntityID, err).WithCause(err)
		}
	}

	outputs := make(map[int]any, len(exec.StepResults))
	for _, res := range exec.StepResults {
		if res.Status == schema.StepStatusCompleted {
			outputs[res.StepIndex] = res.Output
		}
	}
	r.data = expressions.BuildContext(expressions.ContextInput{
		Workflow:    workflowInfo(r.def),
		EntityType:  exec.EntityType,
		EntityID:    exec.EntityID,
		TriggerData: exec.TriggerData,
		Now:         i.cfg.Now(),
		Entity:      entity,
		StepOutputs: outputs,
	})
	return nil
}

// suspend persists a wait. The write is version-checked; its error is
// returned unchanged.
func (i *Interpreter) suspend(ctx context.Context, r *run, next int, wait *waitSpec) (*schema.WorkflowExecution, error) {
	exec := r.exec
	if err := i.fsm.Check(exec.ID, exec.Status, schema.ExecutionWaiting); err != nil {
		return nil, err
	}
	exec.Status = schema.ExecutionWaiting
	exec.CurrentStep = next
	exec.WaitingFor = wait.For
	exec.ResumeAt = wait.ResumeAt
	if err := i.store.UpdateExecution(ctx, exec); err != nil {
		i.logger.ErrorContext(ctx, "persist wait failed", "error", err)
		return nil, err
	}

	payload := map[string]any{"waitingFor": wait.For, "currentStep": next}
	if wait.ResumeAt != nil {
		payload["resumeAt"] = wait.ResumeAt.Format(time.RFC3339Nano)
	}
	i.transitioned(ctx, exec, schema.ExecutionRunning, schema.ExecutionWaiting, payload)
	i.logger.InfoContext(ctx, "execution waiting", "waiting_for", wait.For, "next_step", next)
	return exec, nil
}

// finish persists the terminal status: completed unless a step failed or the
// run was aborted.
func (i *Interpreter) finish(ctx context.Context, r *run, at int) (*schema.WorkflowExecution, error) {
	exec := r.exec
	to := schema.ExecutionCompleted
	if exec.HasFailedStep() || exec.Error != "" {
		to = schema.ExecutionFailed
	}
	from := exec.Status
	if err := i.fsm.Check(exec.ID, from, to); err != nil {
		return nil, err
	}
	now := i.cfg.Now()
	exec.Status = to
	exec.CurrentStep = at
	exec.WaitingFor = ""
	exec.ResumeAt = nil
	exec.CompletedAt = &now
	if err := i.store.UpdateExecution(ctx, exec); err != nil {
		i.logger.ErrorContext(ctx, "persist outcome failed", "status", string(to), "error", err)
		return nil, err
	}

	payload := map[string]any{"stepsExecuted": len(exec.StepResults)}
	if exec.Error != "" {
		payload["error"] = exec.Error
	}
	i.transitioned(ctx, exec, from, to, payload)
	if to == schema.ExecutionFailed {
		i.logger.WarnContext(ctx, "execution failed", "error", exec.Error)
	} else {
		i.logger.InfoContext(ctx, "execution completed", "steps", len(exec.StepResults))
	}
	return exec, nil
}

// stepEvent records a step outcome in the event log.
func (i *Interpreter) stepEvent(ctx context.Context, res *schema.StepResult) {
	typ := schema.EventStepCompleted
	payload := map[string]any{"type": string(res.Type), "attempts": res.Attempts}
	if res.NodeID != "" {
		payload["nodeId"] = res.NodeID
	}
	if res.Status == schema.StepStatusFailed {
		typ = schema.EventStepFailed
		payload["error"] = res.Error
		payload["errorCode"] = res.ErrorCode
	}
	i.events.record(logging.WithStepIndex(ctx, res.StepIndex), typ, res.StepIndex, payload)
}
