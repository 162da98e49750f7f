package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/pkg/schema"
)

// RuntimeConfig sizes the worker pool and the whole-run retry policy.
type RuntimeConfig struct {
	PoolSize int
	Retry    RetryPolicy
}

// Runtime owns retries: it invokes Engine.Execute for a trigger event and
// re-invokes it after a backoff while the failure is retriable. Memoized
// steps make each re-invocation resume where the previous one stopped.
type Runtime struct {
	engine *Engine
	pool   *WorkerPool
	retry  RetryPolicy
	logger *slog.Logger
}

// NewRuntime creates a Runtime over e.
func NewRuntime(e *Engine, cfg RuntimeConfig, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runtime{
		engine: e,
		pool:   NewWorkerPool(cfg.PoolSize, logger),
		retry:  cfg.Retry.withDefaults(),
		logger: logger,
	}
}

// Dispatch queues a run on the worker pool and returns once it has started.
// accepted is false when a run for the same trigger id is already in flight.
func (r *Runtime) Dispatch(ctx context.Context, ev schema.TriggerEvent) (accepted bool, err error) {
	if ev.WorkflowID == "" || ev.TriggerEventID == "" {
		return false, schema.NewError(schema.ErrCodeValidation, "trigger event needs workflowId and triggerEventId")
	}
	return r.pool.Submit(ctx, ev.TriggerEventID, func(runCtx context.Context) error {
		_, err := r.RunSync(runCtx, ev)
		return err
	})
}

// RunSync runs ev to completion on the calling goroutine, retrying
// retriable failures. Once attempts are exhausted the record is failed
// with RETRY_EXHAUSTED wrapping the last error.
func (r *Runtime) RunSync(ctx context.Context, ev schema.TriggerEvent) (*Result, error) {
	ctx = logging.WithWorkflowID(ctx, ev.WorkflowID)
	log := logging.LogWith(ctx, r.logger).With(slog.String("trigger_event_id", ev.TriggerEventID))

	var lastErr error
	for attempt := 0; attempt < r.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(r.retry, attempt-1)
			log.InfoContext(ctx, "retrying execution",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
			)
			if err := WaitForBackoff(ctx, delay); err != nil {
				return nil, err
			}
		}

		res, err := r.engine.Execute(ctx, ev)
		if err == nil {
			return res, nil
		}
		if !schema.IsRetryable(err) || ctx.Err() != nil {
			return res, err
		}
		lastErr = err
	}

	exhausted := schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"execution failed after %d attempts: %s", r.retry.MaxAttempts, lastErr.Error()).
		WithCause(lastErr).
		WithDetails(map[string]any{"attempts": r.retry.MaxAttempts})

	rec, err := r.engine.Fail(ctx, ev, exhausted)
	if err != nil {
		log.ErrorContext(ctx, "failed to record exhausted execution", slog.String("error", err.Error()))
		return nil, exhausted
	}
	return &Result{Record: rec}, exhausted
}

// InFlight reports whether a run for triggerEventID is queued or running here.
func (r *Runtime) InFlight(triggerEventID string) bool {
	return r.pool.InFlight(triggerEventID)
}

// Metrics returns worker pool counters.
func (r *Runtime) Metrics() PoolMetrics {
	return r.pool.Metrics()
}

// Shutdown stops accepting runs and waits for running ones until ctx expires.
func (r *Runtime) Shutdown(ctx context.Context) error {
	return r.pool.Shutdown(ctx)
}
