package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeBackoff_Exponential(t *testing.T) {
	p := RetryPolicy{Delay: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, ComputeBackoff(p, 0))
	assert.Equal(t, 200*time.Millisecond, ComputeBackoff(p, 1))
	assert.Equal(t, 800*time.Millisecond, ComputeBackoff(p, 3))
}

func TestComputeBackoff_Capped(t *testing.T) {
	p := RetryPolicy{Delay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, 4*time.Second, ComputeBackoff(p, 2))
	assert.Equal(t, 5*time.Second, ComputeBackoff(p, 3))
	assert.Equal(t, 5*time.Second, ComputeBackoff(p, 60))
}

func TestComputeBackoff_EmptyDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), ComputeBackoff(RetryPolicy{}, 3))
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, DefaultRetryPolicy.MaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultRetryPolicy.Delay, p.Delay)

	custom := RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}.withDefaults()
	assert.Equal(t, 2, custom.MaxAttempts)
	assert.Equal(t, time.Millisecond, custom.Delay)
}

func TestWaitForBackoff(t *testing.T) {
	assert.NoError(t, WaitForBackoff(context.Background(), 0))
	assert.NoError(t, WaitForBackoff(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForBackoff(ctx, time.Hour), context.Canceled)
}
