package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghxstship/orangeseadragon-sub009/internal/actions"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Zero disables the breaker.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial call.
	Cooldown time.Duration
	// HalfOpenMax is the number of trial calls allowed while half-open.
	HalfOpenMax int
}

type breaker struct {
	state     CircuitState
	failures  int
	openedAt  time.Time
	trialsOut int
}

// CircuitBreakers tracks one breaker per action name. A failing external
// action stops being called for Cooldown after FailureThreshold consecutive
// failures; every execution that reaches it meanwhile fails with CIRCUIT_OPEN.
type CircuitBreakers struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   CircuitBreakerConfig
	now      func() time.Time
}

// NewCircuitBreakers creates a registry with the given config.
func NewCircuitBreakers(config CircuitBreakerConfig) *CircuitBreakers {
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &CircuitBreakers{
		breakers: make(map[string]*breaker),
		config:   config,
		now:      time.Now,
	}
}

// Allow returns nil when a call to action may proceed, or CIRCUIT_OPEN.
func (r *CircuitBreakers) Allow(action string) error {
	if r.config.FailureThreshold <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.get(action)
	r.advance(b)

	switch b.state {
	case CircuitOpen:
		remaining := r.config.Cooldown - r.now().Sub(b.openedAt)
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open for action %q after %d consecutive failures", action, b.failures).
			WithDetails(map[string]any{
				"action":             action,
				"failures":           b.failures,
				"cooldown_remaining": remaining.Round(time.Millisecond).String(),
			})
	case CircuitHalfOpen:
		if b.trialsOut >= r.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for action %q: trial call in progress", action)
		}
		b.trialsOut++
	}
	return nil
}

// Success closes the circuit for action.
func (r *CircuitBreakers) Success(action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.get(action)
	b.state, b.failures, b.trialsOut = CircuitClosed, 0, 0
}

// Failure counts a failed call and returns the resulting state. A failed
// trial call reopens the circuit immediately.
func (r *CircuitBreakers) Failure(action string) CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.get(action)
	b.failures++
	if b.state == CircuitHalfOpen || (r.config.FailureThreshold > 0 && b.failures >= r.config.FailureThreshold) {
		b.state = CircuitOpen
		b.openedAt = r.now()
		b.trialsOut = 0
	}
	return b.state
}

// Release gives back a half-open trial slot after a call that failed for a
// reason that says nothing about the action's health.
func (r *CircuitBreakers) Release(action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b := r.get(action); b.state == CircuitHalfOpen && b.trialsOut > 0 {
		b.trialsOut--
	}
}

// countsTowardBreaker reports whether err says the action's backend is
// unhealthy. Bad entity data, validation errors and unresolved recipients
// belong to one execution and must not trip the breaker for all of them.
func countsTowardBreaker(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, actions.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return schema.IsCode(err, schema.ErrCodeTimeout)
	}
}

// State returns the current state for action.
func (r *CircuitBreakers) State(action string) CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.get(action)
	r.advance(b)
	return b.state
}

// Stats reports every breaker that has recorded a call.
func (r *CircuitBreakers) Stats() map[string]map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]map[string]any, len(r.breakers))
	for name, b := range r.breakers {
		r.advance(b)
		out[name] = map[string]any{
			"state":    b.state.String(),
			"failures": b.failures,
		}
	}
	return out
}

func (r *CircuitBreakers) get(action string) *breaker {
	b, ok := r.breakers[action]
	if !ok {
		b = &breaker{}
		r.breakers[action] = b
	}
	return b
}

// advance moves an open breaker to half-open once the cooldown has passed.
func (r *CircuitBreakers) advance(b *breaker) {
	if b.state == CircuitOpen && r.now().Sub(b.openedAt) >= r.config.Cooldown {
		b.state = CircuitHalfOpen
		b.trialsOut = 0
	}
}
