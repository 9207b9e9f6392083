package logging

import (
	"context"
	"log/slog"
)

// correlation identifies the execution, and optionally the step, a log line
// belongs to. It travels as a single context value and is copied on change.
type correlation struct {
	executionID string
	workflowID  string
	stepIndex   int
	hasStep     bool
}

type correlationKey struct{}

func from(ctx context.Context) correlation {
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

func with(ctx context.Context, set func(*correlation)) context.Context {
	c := from(ctx)
	set(&c)
	return context.WithValue(ctx, correlationKey{}, c)
}

// WithIDs tags ctx with an execution and its workflow.
func WithIDs(ctx context.Context, executionID, workflowID string) context.Context {
	return with(ctx, func(c *correlation) {
		c.executionID, c.workflowID = executionID, workflowID
	})
}

// WithExecutionID tags ctx with an execution only.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return with(ctx, func(c *correlation) { c.executionID = id })
}

// WithStepIndex tags ctx with the compiled step being run.
func WithStepIndex(ctx context.Context, index int) context.Context {
	return with(ctx, func(c *correlation) { c.stepIndex, c.hasStep = index, true })
}

func ExecutionID(ctx context.Context) string { return from(ctx).executionID }

func WorkflowID(ctx context.Context) string { return from(ctx).workflowID }

// StepIndex reports the step ctx was tagged with, if any.
func StepIndex(ctx context.Context) (int, bool) {
	c := from(ctx)
	return c.stepIndex, c.hasStep
}

func (c correlation) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 3)
	if c.executionID != "" {
		attrs = append(attrs, slog.String("execution_id", c.executionID))
	}
	if c.workflowID != "" {
		attrs = append(attrs, slog.String("workflow_id", c.workflowID))
	}
	if c.hasStep {
		attrs = append(attrs, slog.Int("step_index", c.stepIndex))
	}
	return attrs
}

// CorrelationHandler adds the ids carried by the record's context to every
// record, so `logger.InfoContext(ctx, ...)` is enough inside the engine.
type CorrelationHandler struct {
	slog.Handler
}

// NewCorrelationHandler wraps inner.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{Handler: inner}
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := from(ctx).attrs(); len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewCorrelationHandler(h.Handler.WithAttrs(attrs))
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return NewCorrelationHandler(h.Handler.WithGroup(name))
}
