package store

import (
	"context"
	"time"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	DefinitionStore
	ExecutionStore
	EventStore

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}

// DefinitionStore persists versioned workflow definitions. A stored
// (id, version) pair never changes; edits become a new version.
type DefinitionStore interface {
	// CreateDefinition stores version 1 of a new workflow. An empty ID is
	// filled with a UUID.
	CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	// SaveDefinitionVersion stores def as latest+1 and sets def.Version.
	SaveDefinitionVersion(ctx context.Context, def *schema.WorkflowDefinition) error
	// GetDefinition returns the latest version.
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	GetDefinitionVersion(ctx context.Context, id string, version int) (*schema.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error)
	ListDefinitionVersions(ctx context.Context, id string) ([]*schema.WorkflowDefinition, error)
	SetDefinitionActive(ctx context.Context, id string, active bool) error
}

// ExecutionStore persists executions with optimistic concurrency.
type ExecutionStore interface {
	// CreateExecution inserts exec with Version 1. A non-empty onceKey must be
	// unique across all executions; a duplicate yields CONFLICT.
	CreateExecution(ctx context.Context, exec *schema.WorkflowExecution, onceKey string) error
	GetExecution(ctx context.Context, id string) (*schema.WorkflowExecution, error)
	// UpdateExecution writes exec only if the stored version equals
	// exec.Version, then increments exec.Version. A stale version yields
	// CONFLICT and leaves the row untouched.
	UpdateExecution(ctx context.Context, exec *schema.WorkflowExecution) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error)
}

// EventStore is the append-only execution audit log.
type EventStore interface {
	AppendEvent(ctx context.Context, event *schema.ExecutionEvent) error
	// ListEvents returns events with ID > sinceID in append order.
	ListEvents(ctx context.Context, executionID string, sinceID int64) ([]*schema.ExecutionEvent, error)
}

// DefinitionFilter narrows ListDefinitions. Zero values match everything.
type DefinitionFilter struct {
	OrganizationID string
	EntityType     string
	ActiveOnly     bool
	Limit          int
}

// ExecutionFilter narrows ListExecutions. Zero values match everything.
type ExecutionFilter struct {
	WorkflowID string
	Status     schema.ExecutionStatus
	EntityType string
	EntityID   string
	// ResumeBefore matches executions whose ResumeAt is at or before it.
	ResumeBefore *time.Time
	// UpdatedBefore matches executions not touched since it.
	UpdatedBefore *time.Time
	Limit         int
}
