// Package streaming fans execution events out to live subscribers such as
// the SSE endpoint.
package streaming

import (
	"context"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// StreamEvent is an execution event tagged with the workflow it belongs to.
type StreamEvent struct {
	WorkflowID string                `json:"workflowId"`
	Event      schema.ExecutionEvent `json:"event"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Zero values match everything.
type EventFilter struct {
	ExecutionID string   `json:"executionId,omitempty"`
	WorkflowID  string   `json:"workflowId,omitempty"`
	EventTypes  []string `json:"eventTypes,omitempty"`
}

// EventHub provides pub/sub for execution events. Delivery is best effort;
// the persisted event log is the source of truth.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
