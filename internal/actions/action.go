package actions

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable marks a failure of the system an action talks to, as opposed
// to a problem with the execution's own data. Only these failures, and
// timeouts, count toward an action's circuit breaker.
var ErrUnavailable = errors.New("upstream unavailable")

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Action is an executable unit of work dispatched by an action step.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
	Validate(params map[string]any) error
}

// SelfResolving is implemented by actions that resolve their own params
// against the execution context. The interpreter passes their params through
// untouched.
type SelfResolving interface {
	ResolvesOwnParams() bool
}

// ActionRegistry manages lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(name string) (Action, error)
	List() []ActionInfo
}

// ActionSchema describes the params an action accepts.
type ActionSchema struct {
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required,omitempty"`
	Optional    []string `json:"optional,omitempty"`
}

// ExecutionRef identifies the execution and step an action runs for.
type ExecutionRef struct {
	ExecutionID    string `json:"executionId"`
	WorkflowID     string `json:"workflowId"`
	OrganizationID string `json:"organizationId,omitempty"`
	EntityType     string `json:"entityType,omitempty"`
	EntityID       string `json:"entityId,omitempty"`
	StepIndex      int    `json:"stepIndex"`
}

// HasEntity reports whether the run is bound to an entity.
func (r ExecutionRef) HasEntity() bool {
	return r.EntityType != "" && r.EntityID != ""
}

// ActionInput is the data provided to an action at execution time. Params are
// already resolved against Context unless the action is SelfResolving.
// Context is the live execution context; actions may update the entity in it.
type ActionInput struct {
	Params    map[string]any `json:"params"`
	Context   map[string]any `json:"-"`
	Execution ExecutionRef   `json:"execution"`
}

// ActionOutput is the result of an action execution. Data becomes the step
// output visible to later steps.
type ActionOutput struct {
	Data map[string]any `json:"data,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Required      []string `json:"required,omitempty"`
	Optional      []string `json:"optional,omitempty"`
	SelfResolving bool     `json:"selfResolving,omitempty"`
}

func output(data map[string]any) *ActionOutput {
	return &ActionOutput{Data: data}
}
