package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rendis/nodeflow/internal/logging"
)

// PoolMetrics tracks worker pool operational metrics.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Coalesced int64 `json:"coalesced"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool is a bounded goroutine pool for workflow runs. Work is keyed;
// submitting a key that is still in flight is coalesced into the running work.
type WorkerPool struct {
	sem      chan struct{}
	wg       sync.WaitGroup
	metrics  PoolMetrics
	mu       sync.Mutex
	inflight map[string]struct{}
	done     chan struct{}
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewWorkerPool creates a pool with the given max concurrency. Work runs
// under a pool-owned context, detached from the submitter's, so an HTTP
// request finishing does not cancel the run it started. Panics in work are
// recovered and logged to logger.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		sem:      make(chan struct{}, size),
		inflight: make(map[string]struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Submit starts fn for key. It blocks while the pool is at capacity and
// respects ctx while waiting. It returns false without starting anything
// when key is already in flight.
func (p *WorkerPool) Submit(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false, ErrPoolShutdown
	}
	if _, busy := p.inflight[key]; busy {
		p.mu.Unlock()
		atomic.AddInt64(&p.metrics.Coalesced, 1)
		return false, nil
	}
	p.inflight[key] = struct{}{}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.release(key)
		return false, ctx.Err()
	case <-p.done:
		p.release(key)
		return false, ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		p.release(key)
		return false, ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	runCtx := p.ctx
	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
				p.logger.Error("worker panic",
					slog.String("key", key),
					slog.String("panic", fmt.Sprint(r)),
					slog.String("stack", string(debug.Stack())),
				)
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.release(key)
			p.wg.Done()
		}()

		if err := fn(runCtx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
		} else {
			atomic.AddInt64(&p.metrics.Completed, 1)
		}
	}()

	return true, nil
}

// InFlight reports whether work for key is queued or running.
func (p *WorkerPool) InFlight(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[key]
	return ok
}

func (p *WorkerPool) release(key string) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting work and waits for running work. If ctx expires
// first, running work is cancelled and Shutdown still waits for it to return.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-finished
		return ctx.Err()
	}
}

// Metrics returns a snapshot of the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Coalesced: atomic.LoadInt64(&p.metrics.Coalesced),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
