package engine

import (
	"context"
	"errors"
	"time"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// nonRetryable are failures another attempt cannot fix.
var nonRetryable = map[string]bool{
	schema.ErrCodeUnknownStepType:   true,
	schema.ErrCodeUnknownOperator:   true,
	schema.ErrCodeUnknownAction:     true,
	schema.ErrCodeValidation:        true,
	schema.ErrCodeCircuitOpen:       true,
	schema.ErrCodeInvalidTransition: true,
}

// IsRetryableError classifies whether a failed attempt may be retried.
// Cancellation of the whole run is never retried; a step timeout is.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return !nonRetryable[fe.Code]
	}
	return true
}

// ComputeBackoff returns the delay after the given failed attempt (1-based):
// fixed waits InitialDelay, linear InitialDelay·attempt, exponential
// InitialDelay·2^(attempt-1). MaxDelay caps the result when set.
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.InitialDelayMs <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	base := time.Duration(policy.InitialDelayMs) * time.Millisecond
	limit := time.Duration(policy.MaxDelayMs) * time.Millisecond

	var delay time.Duration
	switch policy.Backoff {
	case schema.BackoffLinear:
		delay = base * time.Duration(attempt)
	case schema.BackoffExponential:
		delay = base
		for i := 1; i < attempt; i++ {
			delay *= 2
			if limit > 0 && delay >= limit {
				break
			}
			if delay > 24*time.Hour {
				delay = 24 * time.Hour
				break
			}
		}
	default:
		delay = base
	}
	if limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if ctx is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
