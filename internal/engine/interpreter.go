// Package engine runs compiled workflows. The Interpreter drives an
// execution from its current step until it waits or finishes, persisting
// every suspension and outcome through a version-checked store write.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ghxstship/orangeseadragon-sub009/internal/actions"
	"github.com/ghxstship/orangeseadragon-sub009/internal/compiler"
	"github.com/ghxstship/orangeseadragon-sub009/internal/expressions"
	"github.com/ghxstship/orangeseadragon-sub009/internal/logging"
	"github.com/ghxstship/orangeseadragon-sub009/internal/store"
	"github.com/ghxstship/orangeseadragon-sub009/internal/streaming"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Store is the persistence the interpreter needs.
type Store interface {
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	GetDefinitionVersion(ctx context.Context, id string, version int) (*schema.WorkflowDefinition, error)
	store.ExecutionStore
	store.EventStore
}

// ActionSource resolves action names. Satisfied by *actions.Registry.
type ActionSource interface {
	Get(name string) (actions.Action, error)
}

// Deps are the interpreter's collaborators. Store and Actions are required.
type Deps struct {
	Store   Store
	Actions ActionSource
	// Entities is re-read on every call to rebuild the context. Nil runs
	// without entity data.
	Entities  actions.EntityStore
	Hub       streaming.EventHub
	Evaluator *expressions.Evaluator
	Logger    *slog.Logger
}

// Config tunes the interpreter.
type Config struct {
	// StepTimeout applies to steps without their own timeout. Zero means
	// the 30s default.
	StepTimeout time.Duration
	// CircuitBreaker is off when nil or when its threshold is zero.
	CircuitBreaker *CircuitBreakerConfig
	// SweepLimit bounds how many due delays one ResumeDue call handles.
	SweepLimit int
	Now        func() time.Time
}

// DefaultSweepLimit is the default batch size of a delay sweep.
const DefaultSweepLimit = 100

// Interpreter executes workflow definitions. It is safe for concurrent use;
// executions are isolated and the store serialises writers per execution.
type Interpreter struct {
	store     Store
	actions   ActionSource
	entities  actions.EntityStore
	compiler  *compiler.Compiler
	evaluator *expressions.Evaluator
	fsm       *ExecutionFSM
	breakers  *CircuitBreakers
	events    *recorder
	tel       *telemetry
	logger    *slog.Logger
	cfg       Config
	handlers  map[schema.StepType]stepHandler
}

// TriggerRequest starts an execution of a workflow's latest version.
type TriggerRequest struct {
	WorkflowID  string         `json:"workflowId"`
	EntityType  string         `json:"entityType,omitempty"`
	EntityID    string         `json:"entityId,omitempty"`
	TriggerData map[string]any `json:"triggerData,omitempty"`
}

// ResumeRequest continues a waiting execution.
type ResumeRequest struct {
	ExecutionID string         `json:"executionId"`
	Data        map[string]any `json:"data,omitempty"`
	// WaitingFor, when set, must match what the execution waits for.
	WaitingFor string `json:"waitingFor,omitempty"`
}

// New creates an Interpreter.
func New(deps Deps, cfg Config) (*Interpreter, error) {
	if deps.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine: store is required")
	}
	if deps.Actions == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine: action source is required")
	}
	if deps.Evaluator == nil {
		deps.Evaluator = expressions.NewEvaluator(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = DefaultSweepLimit
	}
	var cb CircuitBreakerConfig
	if cfg.CircuitBreaker != nil {
		cb = *cfg.CircuitBreaker
	}

	events := &recorder{store: deps.Store, hub: deps.Hub, logger: deps.Logger}
	i := &Interpreter{
		store:    deps.Store,
		actions:  deps.Actions,
		entities: deps.Entities,
		// Runtime compilation does not check action names: an unknown
		// action must surface as a failed step, not a rejected trigger.
		compiler:  compiler.New(),
		evaluator: deps.Evaluator,
		fsm:       NewExecutionFSM(events),
		breakers:  NewCircuitBreakers(cb),
		events:    events,
		tel:       newTelemetry(),
		logger:    deps.Logger,
		cfg:       cfg,
	}
	i.handlers = i.stepHandlers()
	return i, nil
}

// Breakers exposes the per-action circuit breakers.
func (i *Interpreter) Breakers() *CircuitBreakers { return i.breakers }

// Trigger creates an execution of the workflow's latest version and runs it
// until it waits or finishes. Store failures are returned as they are.
func (i *Interpreter) Trigger(ctx context.Context, req TriggerRequest) (*schema.WorkflowExecution, error) {
	if req.WorkflowID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflowId is required")
	}
	if (req.EntityType == "") != (req.EntityID == "") {
		return nil, schema.NewError(schema.ErrCodeValidation, "entityType and entityId must be given together")
	}
	def, err := i.store.GetDefinition(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q is not active", def.ID)
	}
	steps, err := i.program(def)
	if err != nil {
		return nil, err
	}

	exec := &schema.WorkflowExecution{
		ID:              uuid.NewString(),
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		OrganizationID:  def.OrganizationID,
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		Status:          schema.ExecutionRunning,
		StepResults:     []schema.StepResult{},
		TriggerData:     schema.CloneMap(req.TriggerData),
		StartedAt:       i.cfg.Now(),
	}
	if exec.TriggerData == nil {
		exec.TriggerData = map[string]any{}
	}
	var onceKey string
	if def.RunOncePerEntity && req.EntityID != "" {
		onceKey = schema.OnceKey(def.ID, req.EntityType, req.EntityID)
	}

	if err := i.fsm.Check(exec.ID, statusNew, schema.ExecutionRunning); err != nil {
		return nil, err
	}
	if err := i.store.CreateExecution(ctx, exec, onceKey); err != nil {
		return nil, err
	}

	ctx = logging.WithIDs(ctx, exec.ID, exec.WorkflowID)
	i.transitioned(ctx, exec, statusNew, schema.ExecutionRunning, map[string]any{
		"workflowVersion": exec.WorkflowVersion,
		"entityType":      exec.EntityType,
		"entityId":        exec.EntityID,
	})
	i.logger.InfoContext(ctx, "execution started", "version", exec.WorkflowVersion)

	return i.drive(ctx, "trigger", def, steps, exec)
}

// Resume continues a waiting execution from its current step. The claim is a
// compare-and-swap from waiting to running, so of several concurrent resumes
// exactly one proceeds and the rest get CONFLICT without running anything.
func (i *Interpreter) Resume(ctx context.Context, req ResumeRequest) (*schema.WorkflowExecution, error) {
	exec, err := i.store.GetExecution(ctx, req.ExecutionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != schema.ExecutionWaiting {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q is %s, not waiting", exec.ID, exec.Status)
	}
	if req.WaitingFor != "" && req.WaitingFor != exec.WaitingFor {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q waits for %q, not %q", exec.ID, exec.WaitingFor, req.WaitingFor)
	}
	def, err := i.store.GetDefinitionVersion(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		return nil, err
	}
	steps, err := i.program(def)
	if err != nil {
		return nil, err
	}
	if err := i.fsm.Check(exec.ID, schema.ExecutionWaiting, schema.ExecutionRunning); err != nil {
		return nil, err
	}

	waitingFor := exec.WaitingFor
	mergeResumeData(exec, req.Data, i.cfg.Now())
	exec.Status = schema.ExecutionRunning
	exec.WaitingFor = ""
	exec.ResumeAt = nil
	if err := i.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	ctx = logging.WithIDs(ctx, exec.ID, exec.WorkflowID)
	i.transitioned(ctx, exec, schema.ExecutionWaiting, schema.ExecutionRunning, map[string]any{
		"waitingFor": waitingFor,
	})
	i.logger.InfoContext(ctx, "execution resumed", "waiting_for", waitingFor, "step", exec.CurrentStep)

	return i.drive(ctx, "resume", def, steps, exec)
}

// Status returns the stored execution.
func (i *Interpreter) Status(ctx context.Context, id string) (*schema.WorkflowExecution, error) {
	return i.store.GetExecution(ctx, id)
}

// ForceFail marks a non-terminal execution failed, for operators clearing
// executions stuck waiting on something that will never arrive.
func (i *Interpreter) ForceFail(ctx context.Context, id, reason string) (*schema.WorkflowExecution, error) {
	exec, err := i.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	from := exec.Status
	if err := i.fsm.Check(exec.ID, from, schema.ExecutionFailed); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "failed by operator"
	}
	now := i.cfg.Now()
	exec.Status = schema.ExecutionFailed
	exec.Error = reason
	exec.WaitingFor = ""
	exec.ResumeAt = nil
	exec.CompletedAt = &now
	if err := i.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	ctx = logging.WithIDs(ctx, exec.ID, exec.WorkflowID)
	i.transitioned(ctx, exec, from, schema.ExecutionFailed, map[string]any{"error": reason, "forced": true})
	i.logger.WarnContext(ctx, "execution force-failed", "reason", reason)
	return exec, nil
}

// DueDelays lists executions waiting on a delay whose resume time has passed.
func (i *Interpreter) DueDelays(ctx context.Context, now time.Time) ([]*schema.WorkflowExecution, error) {
	due, err := i.store.ListExecutions(ctx, store.ExecutionFilter{
		Status:       schema.ExecutionWaiting,
		ResumeBefore: &now,
		Limit:        i.cfg.SweepLimit,
	})
	if err != nil {
		return nil, err
	}
	out := due[:0]
	for _, e := range due {
		if e.WaitingFor == compiler.WaitDelay {
			out = append(out, e)
		}
	}
	return out, nil
}

// ResumeDelay resumes one elapsed delay wait.
func (i *Interpreter) ResumeDelay(ctx context.Context, id string) (*schema.WorkflowExecution, error) {
	return i.Resume(ctx, ResumeRequest{
		ExecutionID: id,
		WaitingFor:  compiler.WaitDelay,
		Data:        map[string]any{"trigger": compiler.WaitDelay},
	})
}

// SweepReport summarises a ResumeDue pass.
type SweepReport struct {
	Resumed   []string `json:"resumed"`
	Conflicts int      `json:"conflicts"`
	Failed    []string `json:"failed,omitempty"`
}

// ResumeDue resumes every elapsed delay wait inline. Executions claimed by
// another worker meanwhile count as conflicts, not failures.
func (i *Interpreter) ResumeDue(ctx context.Context, now time.Time) (*SweepReport, error) {
	due, err := i.DueDelays(ctx, now)
	if err != nil {
		return nil, err
	}
	report := &SweepReport{Resumed: []string{}}
	for _, e := range due {
		_, err := i.ResumeDelay(ctx, e.ID)
		switch {
		case err == nil:
			report.Resumed = append(report.Resumed, e.ID)
		case schema.IsCode(err, schema.ErrCodeConflict):
			report.Conflicts++
		default:
			report.Failed = append(report.Failed, e.ID)
			i.logger.ErrorContext(logging.WithIDs(ctx, e.ID, e.WorkflowID), "delay resume failed", "error", err)
		}
	}
	return report, nil
}

// program compiles def for execution.
func (i *Interpreter) program(def *schema.WorkflowDefinition) ([]schema.Step, error) {
	if def.Graph != nil {
		res, err := i.compiler.Compile(def.Graph)
		if err != nil {
			return nil, err
		}
		return res.Steps, nil
	}
	if len(def.Steps) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q has no steps", def.ID)
	}
	return compiler.Defaults(def.Steps), nil
}

// transitioned records a persisted status change. The state is already
// stored, so an event failure is logged rather than returned.
func (i *Interpreter) transitioned(ctx context.Context, exec *schema.WorkflowExecution, from, to schema.ExecutionStatus, payload map[string]any) {
	if err := i.fsm.Transition(ctx, exec.ID, from, to, payload); err != nil {
		i.logger.WarnContext(ctx, "execution event not recorded", "from", string(from), "to", string(to), "error", err)
	}
}

// mergeResumeData attaches resume data to the wait step's result so the
// context can be rebuilt from persisted results alone.
func mergeResumeData(exec *schema.WorkflowExecution, data map[string]any, now time.Time) {
	if len(exec.StepResults) == 0 {
		return
	}
	last := &exec.StepResults[len(exec.StepResults)-1]
	if last.Type != schema.StepWait {
		return
	}
	out, _ := schema.CloneValue(last.Output).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	resume := schema.CloneMap(data)
	if resume == nil {
		resume = map[string]any{}
	}
	out["resumeData"] = resume
	out["resumedAt"] = now.Format(time.RFC3339)
	last.Output = out
}

// stepError maps a handler error to a result code and message.
func stepError(err error) (code, message string) {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Code, fe.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.ErrCodeTimeout, err.Error()
	}
	return schema.ErrCodeStepFailed, err.Error()
}

func workflowInfo(def *schema.WorkflowDefinition) map[string]any {
	info := map[string]any{
		"id":      def.ID,
		"name":    def.Name,
		"version": def.Version,
	}
	if def.OrganizationID != "" {
		info["organizationId"] = def.OrganizationID
	}
	return info
}

func stepLabel(st *schema.Step) string {
	if st.NodeID != "" {
		return fmt.Sprintf("%d (%s)", st.Index, st.NodeID)
	}
	return fmt.Sprint(st.Index)
}
