// Package reaper fails execution records abandoned in RUNNING, e.g. by a
// crashed process whose run was never re-invoked.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Defaults used for zero Config fields.
const (
	DefaultSchedule   = "@every 5m"
	DefaultStaleAfter = time.Hour
)

// ErrAbandoned is the failure recorded on reaped executions.
var ErrAbandoned = errors.New("execution abandoned")

// ExecutionLister lists execution records. Satisfied by store.Store.
type ExecutionLister interface {
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*schema.ExecutionRecord, error)
}

// Finisher fails a RUNNING record by id. Satisfied by *engine.Engine.
type Finisher interface {
	FailExecution(ctx context.Context, executionID string, cause error) (*schema.ExecutionRecord, error)
}

// InFlightFunc reports whether this process is still working on a trigger id.
type InFlightFunc func(triggerEventID string) bool

// Config controls how often the reaper runs and what counts as stale.
type Config struct {
	Schedule   string        // cron spec or descriptor, e.g. "@every 5m"
	StaleAfter time.Duration // RUNNING longer than this is abandoned
	BatchSize  int           // records examined per sweep; 0 means no limit
}

// Reaper periodically fails stale RUNNING executions.
type Reaper struct {
	cfg      Config
	records  ExecutionLister
	finisher Finisher
	inFlight InFlightFunc
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a Reaper. inFlight may be nil when nothing runs in-process.
func New(cfg Config, records ExecutionLister, finisher Finisher, inFlight InFlightFunc, logger *slog.Logger) *Reaper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if inFlight == nil {
		inFlight = func(string) bool { return false }
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reaper{
		cfg:      cfg,
		records:  records,
		finisher: finisher,
		inFlight: inFlight,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep. Overlapping sweeps are skipped.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("reaper already started")
	}

	clog := cronLogger{r.logger}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if _, err := c.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.ErrorContext(ctx, "reaper sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid reaper schedule %q", r.cfg.Schedule).WithCause(err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("reaper started",
		slog.String("schedule", r.cfg.Schedule),
		slog.Duration("stale_after", r.cfg.StaleAfter),
	)
	return nil
}

// Stop halts scheduling and waits for a running sweep to return.
func (r *Reaper) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("reaper stopped")
}

// Sweep fails every RUNNING execution started before now-StaleAfter that
// is not in flight here. It returns the ids it failed.
func (r *Reaper) Sweep(ctx context.Context) ([]string, error) {
	status := schema.ExecutionRunning
	cutoff := r.now().Add(-r.cfg.StaleAfter)
	stale, err := r.records.ListExecutions(ctx, store.ExecutionFilter{
		Status:        &status,
		StartedBefore: &cutoff,
		Limit:         r.cfg.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	var reaped []string
	for _, rec := range stale {
		if r.inFlight(rec.TriggerEventID) {
			continue
		}
		_, err := r.finisher.FailExecution(ctx, rec.ID, ErrAbandoned)
		switch {
		case err == nil:
			reaped = append(reaped, rec.ID)
			r.logger.WarnContext(logging.WithExecutionID(ctx, rec.ID), "reaped abandoned execution",
				slog.String("workflow_id", rec.WorkflowID),
				slog.Time("started_at", rec.StartedAt),
			)
		case schema.HasCode(err, schema.ErrCodeInvalidTransition):
			// Finished between the list and the write.
		default:
			r.logger.ErrorContext(ctx, "failed to reap execution",
				slog.String("execution_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return reaped, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
