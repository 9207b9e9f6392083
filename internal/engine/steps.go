package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/ghxstship/orangeseadragon-sub009/internal/actions"
	"github.com/ghxstship/orangeseadragon-sub009/internal/compiler"
	"github.com/ghxstship/orangeseadragon-sub009/internal/expressions"
	"github.com/ghxstship/orangeseadragon-sub009/internal/logging"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// stepOutcome is what a handler decided: its output, where to go next and
// whether to suspend.
type stepOutcome struct {
	output any
	next   int
	wait   *waitSpec
}

// stepHandler runs one step against data, the attempt's private copy of the
// execution context.
type stepHandler func(ctx context.Context, r *run, st *schema.Step, data map[string]any) (stepOutcome, error)

func (i *Interpreter) stepHandlers() map[schema.StepType]stepHandler {
	return map[schema.StepType]stepHandler{
		schema.StepCondition: i.runCondition,
		schema.StepAction:    i.runAction,
		schema.StepWait:      i.runWait,
		schema.StepBranch:    i.runBranch,
	}
}

// execute runs st with its timeout and retry policy and returns its result.
func (i *Interpreter) execute(ctx context.Context, r *run, st *schema.Step) (schema.StepResult, int, *waitSpec) {
	ctx = logging.WithStepIndex(ctx, st.Index)
	ctx, span := i.tel.startStep(ctx, st)
	started := time.Now()

	res := schema.StepResult{
		StepIndex: st.Index,
		NodeID:    st.NodeID,
		Type:      st.Type,
	}
	fail := func(err error) (schema.StepResult, int, *waitSpec) {
		res.Status = schema.StepStatusFailed
		res.ErrorCode, res.Error = stepError(err)
		res.CompletedAt = i.cfg.Now()
		i.logger.WarnContext(ctx, "step failed", "type", string(st.Type), "code", res.ErrorCode, "error", res.Error)
		i.tel.endStep(ctx, span, st, &res, started)
		return res, schema.StepEnd, nil
	}

	h, ok := i.handlers[st.Type]
	if !ok {
		res.Attempts = 1
		return fail(schema.NewErrorf(schema.ErrCodeUnknownStepType, "unknown step type %q", st.Type).WithStep(st.Index))
	}

	maxAttempts := 1
	if st.Retry != nil && st.Retry.MaxAttempts > 1 {
		maxAttempts = st.Retry.MaxAttempts
	}
	var (
		out  stepOutcome
		data map[string]any
		err  error
	)
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		out, data, err = i.attempt(ctx, r, st, h)
		if err == nil || attempt >= maxAttempts || !IsRetryableError(err) {
			break
		}
		delay := ComputeBackoff(st.Retry, attempt)
		code, msg := stepError(err)
		i.tel.retries.Add(ctx, 1)
		i.events.record(ctx, schema.EventStepRetrying, st.Index, map[string]any{
			"attempt":   attempt,
			"errorCode": code,
			"error":     msg,
			"delayMs":   delay.Milliseconds(),
		})
		i.logger.InfoContext(ctx, "retrying step", "attempt", attempt, "delay", delay, "error", msg)
		if werr := WaitForBackoff(ctx, delay); werr != nil {
			err = werr
			break
		}
	}
	if err != nil {
		if res.Attempts > 1 {
			_, msg := stepError(err)
			err = schema.NewErrorf(schema.ErrCodeRetryExhausted,
				"step %s failed after %d attempts: %s", stepLabel(st), res.Attempts, msg).
				WithStep(st.Index).WithCause(err)
		}
		return fail(err)
	}

	r.data = data
	res.Status = schema.StepStatusCompleted
	res.Output = out.output
	res.CompletedAt = i.cfg.Now()
	i.tel.endStep(ctx, span, st, &res, started)
	return res, out.next, out.wait
}

// attempt runs one try of h under the step timeout. The handler works on a
// copy of the context; if it overruns it is abandoned and its copy dropped.
func (i *Interpreter) attempt(ctx context.Context, r *run, st *schema.Step, h stepHandler) (stepOutcome, map[string]any, error) {
	timeout := i.stepTimeout(st)
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out stepOutcome
		err error
	}
	data := schema.CloneMap(r.data)
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: schema.NewErrorf(schema.ErrCodeInternal, "step %s panicked: %v", stepLabel(st), p)}
			}
		}()
		out, err := h(sctx, r, st, data)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return stepOutcome{}, nil, timeoutError(st, timeout)
		}
		return res.out, data, res.err
	case <-sctx.Done():
		if ctx.Err() != nil {
			return stepOutcome{}, nil, ctx.Err()
		}
		return stepOutcome{}, nil, timeoutError(st, timeout)
	}
}

func timeoutError(st *schema.Step, d time.Duration) error {
	return schema.NewErrorf(schema.ErrCodeTimeout, "step %s timed out after %s", stepLabel(st), d).WithStep(st.Index)
}

func (i *Interpreter) stepTimeout(st *schema.Step) time.Duration {
	if st.TimeoutMs <= 0 && i.cfg.StepTimeout > 0 {
		return i.cfg.StepTimeout
	}
	return st.EffectiveTimeout()
}

func (i *Interpreter) runCondition(ctx context.Context, _ *run, st *schema.Step, data map[string]any) (stepOutcome, error) {
	outcome, err := i.evaluator.Evaluate(ctx, expressions.ConditionFromConfig(st.Config), data)
	if err != nil {
		return stepOutcome{}, err
	}
	next := st.OnFalse
	if outcome.Result {
		next = st.OnTrue
	}
	return stepOutcome{output: outcome.ToMap(), next: next}, nil
}

func (i *Interpreter) runAction(ctx context.Context, r *run, st *schema.Step, data map[string]any) (stepOutcome, error) {
	name := st.ConfigString("action")
	if name == "" {
		return stepOutcome{}, schema.NewErrorf(schema.ErrCodeValidation, "step %s has no action", stepLabel(st))
	}
	act, err := i.actions.Get(name)
	if err != nil {
		return stepOutcome{}, err
	}
	if err := i.breakers.Allow(name); err != nil {
		return stepOutcome{}, err
	}

	params, _ := st.Config["params"].(map[string]any)
	if sr, ok := act.(actions.SelfResolving); ok && sr.ResolvesOwnParams() {
		params = schema.CloneMap(params)
		if params == nil {
			params = map[string]any{}
		}
	} else {
		params = expressions.ResolveParams(params, data)
	}

	exec := r.exec
	out, err := act.Execute(ctx, actions.ActionInput{
		Params:  params,
		Context: data,
		Execution: actions.ExecutionRef{
			ExecutionID:    exec.ID,
			WorkflowID:     exec.WorkflowID,
			OrganizationID: exec.OrganizationID,
			EntityType:     exec.EntityType,
			EntityID:       exec.EntityID,
			StepIndex:      st.Index,
		},
	})
	if err != nil {
		if !countsTowardBreaker(err) {
			i.breakers.Release(name)
			return stepOutcome{}, err
		}
		if state := i.breakers.Failure(name); state == CircuitOpen {
			i.logger.WarnContext(ctx, "circuit opened", "action", name)
		}
		return stepOutcome{}, err
	}
	i.breakers.Success(name)

	output := map[string]any{}
	if out != nil && out.Data != nil {
		output = out.Data
	}
	return stepOutcome{output: output, next: st.Next}, nil
}

func (i *Interpreter) runWait(_ context.Context, _ *run, st *schema.Step, _ map[string]any) (stepOutcome, error) {
	waitFor := st.ConfigString("for")
	if waitFor == "" {
		return stepOutcome{}, schema.NewErrorf(schema.ErrCodeValidation, "wait step %s has no \"for\"", stepLabel(st))
	}
	wait := &waitSpec{For: waitFor}
	output := map[string]any{"waitingFor": waitFor}

	if waitFor == compiler.WaitDelay {
		d := time.Duration(cast.ToInt64(st.Config["durationMs"])) * time.Millisecond
		if d <= 0 {
			d = compiler.DelayDuration(st.Config["duration"], st.ConfigString("unit"))
		}
		at := i.cfg.Now().Add(d)
		wait.ResumeAt = &at
		output["resumeAt"] = at.Format(time.RFC3339Nano)
		output["durationMs"] = d.Milliseconds()
	}
	return stepOutcome{output: output, next: st.Next, wait: wait}, nil
}

func (i *Interpreter) runBranch(_ context.Context, _ *run, st *schema.Step, _ map[string]any) (stepOutcome, error) {
	return stepOutcome{output: map[string]any{}, next: st.Next}, nil
}

// CheckHandlers reports step types without a handler. Used at start-up.
func (i *Interpreter) CheckHandlers() error {
	for _, t := range schema.AllStepTypes() {
		if _, ok := i.handlers[t]; !ok {
			return fmt.Errorf("engine: no handler for step type %q", t)
		}
	}
	return nil
}
