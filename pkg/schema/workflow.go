package schema

import "time"

// WorkflowDefinition is an authored automation. A given (ID, Version) pair is
// immutable; edits are stored as a new version.
type WorkflowDefinition struct {
	ID               string    `json:"id" yaml:"id"`
	OrganizationID   string    `json:"organizationId,omitempty" yaml:"organizationId,omitempty"`
	Name             string    `json:"name" yaml:"name"`
	EntityType       string    `json:"entityType,omitempty" yaml:"entityType,omitempty"`
	Version          int       `json:"version" yaml:"version"`
	Graph            *Graph    `json:"graph,omitempty" yaml:"graph,omitempty"`
	Steps            []Step    `json:"steps,omitempty" yaml:"steps,omitempty"`
	RunOncePerEntity bool      `json:"runOncePerEntity" yaml:"runOncePerEntity"`
	IsActive         bool      `json:"isActive" yaml:"isActive"`
	CreatedAt        time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt        time.Time `json:"updatedAt" yaml:"-"`
}

// StepType enumerates the kinds of compiled steps the interpreter runs.
type StepType string

const (
	StepCondition StepType = "condition"
	StepAction    StepType = "action"
	StepWait      StepType = "wait"
	StepBranch    StepType = "branch"
)

// AllStepTypes returns the closed set of step types.
func AllStepTypes() []StepType {
	return []StepType{StepCondition, StepAction, StepWait, StepBranch}
}

// StepEnd is the jump target that halts a run.
const StepEnd = -1

// Step is one unit of the compiled, linear workflow. Next, OnTrue and OnFalse
// are indices into the step list or StepEnd.
type Step struct {
	Index     int            `json:"index" yaml:"index"`
	NodeID    string         `json:"nodeId,omitempty" yaml:"nodeId,omitempty"`
	Type      StepType       `json:"type" yaml:"type"`
	Label     string         `json:"label,omitempty" yaml:"label,omitempty"`
	Config    map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	TimeoutMs int64          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry     *RetryPolicy   `json:"retryPolicy,omitempty" yaml:"retryPolicy,omitempty"`
	Next      int            `json:"next" yaml:"next"`
	OnTrue    int            `json:"onTrue" yaml:"onTrue"`
	OnFalse   int            `json:"onFalse" yaml:"onFalse"`
}

// EffectiveTimeout returns the step timeout, defaulting to 30s.
func (s *Step) EffectiveTimeout() time.Duration {
	ms := s.TimeoutMs
	if ms <= 0 {
		ms = DefaultStepTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// ConfigString returns a string config value or "".
func (s *Step) ConfigString(key string) string {
	if v, ok := s.Config[key].(string); ok {
		return v
	}
	return ""
}

// BackoffKind selects how retry delays grow.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// Valid reports whether b is a known backoff kind.
func (b BackoffKind) Valid() bool {
	return b == BackoffFixed || b == BackoffLinear || b == BackoffExponential
}

// RetryPolicy configures automatic retries for a node. MaxAttempts counts
// the first attempt.
type RetryPolicy struct {
	MaxAttempts    int         `json:"maxAttempts" yaml:"maxAttempts"`
	Backoff        BackoffKind `json:"backoff" yaml:"backoff"`
	InitialDelayMs int64       `json:"initialDelay" yaml:"initialDelay"`
	MaxDelayMs     int64       `json:"maxDelay,omitempty" yaml:"maxDelay,omitempty"`
}

// Problems lists what is wrong with the policy, or nil.
func (p *RetryPolicy) Problems() []string {
	if p == nil {
		return nil
	}
	var out []string
	if p.MaxAttempts < 1 {
		out = append(out, "retry: maxAttempts must be at least 1")
	}
	if p.Backoff != "" && !p.Backoff.Valid() {
		out = append(out, "retry: unknown backoff \""+string(p.Backoff)+"\"")
	}
	if p.InitialDelayMs < 0 {
		out = append(out, "retry: initialDelay must not be negative")
	}
	if p.MaxDelayMs < 0 || (p.MaxDelayMs > 0 && p.MaxDelayMs < p.InitialDelayMs) {
		out = append(out, "retry: maxDelay must be at least initialDelay")
	}
	return out
}
