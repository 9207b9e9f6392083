package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ghxstship/orangeseadragon-sub009/internal/logging"
	"github.com/ghxstship/orangeseadragon-sub009/internal/streaming"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// recorder appends events to the store and then publishes them to the live
// hub. The workflow id for the hub comes from the logging context.
type recorder struct {
	store  EventAppender
	hub    streaming.EventHub
	logger *slog.Logger
}

func (r *recorder) AppendEvent(ctx context.Context, event *schema.ExecutionEvent) error {
	if err := r.store.AppendEvent(ctx, event); err != nil {
		return err
	}
	if r.hub != nil {
		_ = r.hub.Publish(ctx, streaming.StreamEvent{WorkflowID: logging.WorkflowID(ctx), Event: *event})
	}
	return nil
}

// record appends a step-level event for the execution on ctx. Failures are
// logged; the event log never decides an execution's outcome.
func (r *recorder) record(ctx context.Context, typ string, stepIndex int, payload map[string]any) {
	event := &schema.ExecutionEvent{
		ExecutionID: logging.ExecutionID(ctx),
		Type:        typ,
		StepIndex:   &stepIndex,
	}
	if len(payload) > 0 {
		raw, err := json.Marshal(payload)
		if err == nil {
			event.Payload = raw
		}
	}
	if err := r.AppendEvent(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "step event not recorded", "type", typ, "error", err)
	}
}
