package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

const instrumentationName = "github.com/ghxstship/orangeseadragon-sub009/internal/engine"

// telemetry holds the interpreter's spans and instruments. With no SDK
// installed the global providers are no-ops.
type telemetry struct {
	tracer       trace.Tracer
	steps        metric.Int64Counter
	stepDuration metric.Float64Histogram
	executions   metric.Int64Counter
	retries      metric.Int64Counter
}

func newTelemetry() *telemetry {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	t := &telemetry{tracer: otel.Tracer(instrumentationName)}
	var err error
	if t.steps, err = meter.Int64Counter("flowd.steps",
		metric.WithDescription("Executed workflow steps by type and status.")); err != nil {
		t.steps, _ = fallback.Int64Counter("flowd.steps")
	}
	if t.stepDuration, err = meter.Float64Histogram("flowd.step.duration",
		metric.WithDescription("Step handler latency."), metric.WithUnit("ms")); err != nil {
		t.stepDuration, _ = fallback.Float64Histogram("flowd.step.duration")
	}
	if t.executions, err = meter.Int64Counter("flowd.executions",
		metric.WithDescription("Execution outcomes by status.")); err != nil {
		t.executions, _ = fallback.Int64Counter("flowd.executions")
	}
	if t.retries, err = meter.Int64Counter("flowd.step.retries",
		metric.WithDescription("Step retry attempts.")); err != nil {
		t.retries, _ = fallback.Int64Counter("flowd.step.retries")
	}
	return t
}

func (t *telemetry) startRun(ctx context.Context, op string, exec *schema.WorkflowExecution) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "flowd."+op, trace.WithAttributes(
		attribute.String("flowd.execution_id", exec.ID),
		attribute.String("flowd.workflow_id", exec.WorkflowID),
		attribute.Int("flowd.workflow_version", exec.WorkflowVersion),
	))
}

func (t *telemetry) startStep(ctx context.Context, st *schema.Step) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "flowd.step."+string(st.Type), trace.WithAttributes(
		attribute.Int("flowd.step_index", st.Index),
		attribute.String("flowd.node_id", st.NodeID),
	))
}

func (t *telemetry) endStep(ctx context.Context, span trace.Span, st *schema.Step, res *schema.StepResult, started time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("type", string(st.Type)),
		attribute.String("status", string(res.Status)),
	)
	t.steps.Add(ctx, 1, attrs)
	t.stepDuration.Record(ctx, float64(time.Since(started).Microseconds())/1000, attrs)
	if res.Status == schema.StepStatusFailed {
		span.SetStatus(codes.Error, res.Error)
		span.SetAttributes(attribute.String("flowd.error_code", res.ErrorCode))
	}
	span.End()
}

func (t *telemetry) endRun(ctx context.Context, span trace.Span, status schema.ExecutionStatus, err error) {
	t.executions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	span.SetAttributes(attribute.String("flowd.status", string(status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
