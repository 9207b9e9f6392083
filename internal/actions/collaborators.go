package actions

import (
	"context"
	"time"
)

// EntityStore reads and patches the business records workflows act on.
// Get returns a NOT_FOUND error when the entity does not exist.
type EntityStore interface {
	Get(ctx context.Context, entityType, entityID string) (map[string]any, error)
	Patch(ctx context.Context, entityType, entityID string, fields map[string]any) error
}

// Notification is one in-app message for one recipient.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	Title       string    `json:"title"`
	Message     string    `json:"message,omitempty"`
	EntityType  string    `json:"entityType,omitempty"`
	EntityID    string    `json:"entityId,omitempty"`
	ExecutionID string    `json:"executionId,omitempty"`
	WorkflowID  string    `json:"workflowId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NotificationSink persists notifications. Insert is all-or-nothing.
type NotificationSink interface {
	Insert(ctx context.Context, notifications []Notification) error
}

// Approval rules.
const (
	ApprovalRuleAny = "any"
	ApprovalRuleAll = "all"
)

// ApprovalRequest asks the approval service to open a request the
// execution will wait on.
type ApprovalRequest struct {
	ExecutionID       string    `json:"executionId"`
	WorkflowID        string    `json:"workflowId"`
	StepIndex         int       `json:"stepIndex"`
	EntityType        string    `json:"entityType,omitempty"`
	EntityID          string    `json:"entityId,omitempty"`
	Title             string    `json:"title,omitempty"`
	Approvers         []string  `json:"approvers"`
	RequiredApprovals int       `json:"requiredApprovals"`
	Rule              string    `json:"rule"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ApprovalService opens approval requests and returns their id.
type ApprovalService interface {
	Create(ctx context.Context, req ApprovalRequest) (string, error)
}
