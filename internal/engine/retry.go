package engine

import (
	"context"
	"time"
)

// RetryPolicy controls how often a run is re-invoked after a retriable failure.
type RetryPolicy struct {
	MaxAttempts int           // total invocations, including the first
	Delay       time.Duration // backoff base
	MaxDelay    time.Duration // backoff cap; zero means uncapped
}

// DefaultRetryPolicy is used for zero-valued fields.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 4,
	Delay:       time.Second,
	MaxDelay:    30 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.Delay <= 0 {
		p.Delay = DefaultRetryPolicy.Delay
	}
	if p.MaxDelay < 0 {
		p.MaxDelay = 0
	}
	return p
}

// ComputeBackoff returns the delay before retry number attempt (0-based):
// base * 2^attempt, capped at MaxDelay.
func ComputeBackoff(p RetryPolicy, attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	delay := p.Delay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if the context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
