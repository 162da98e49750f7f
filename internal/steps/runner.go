// Package steps runs named side effects at most once per workflow run.
//
// A run may be invoked many times (crash recovery, retries after an upstream
// failure). Each named step records its JSON result under (runID, name) the
// first time it succeeds; later invocations replay the recorded result
// instead of calling the function again. Failures are never recorded.
package steps

import (
	"context"
	"log/slog"

	"github.com/rendis/nodeflow/internal/xjson"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Func is the side-effecting body of a step. Its result must be JSON-serializable.
type Func func(ctx context.Context) (any, error)

// Runner executes named steps for a single run.
type Runner interface {
	// Run executes fn unless a result for name is already recorded for this
	// run, and returns the recorded JSON.
	Run(ctx context.Context, name string, fn Func) (xjson.RawMessage, error)
	// RunID identifies the run whose results this runner records.
	RunID() string
}

// MemoStore persists step results. SaveStep must keep the first result stored
// for a key and return whichever result won.
type MemoStore interface {
	LoadStep(ctx context.Context, runID, name string) (xjson.RawMessage, bool, error)
	SaveStep(ctx context.Context, runID, name string, output xjson.RawMessage) (xjson.RawMessage, error)
}

// MemoRunner is the Runner backed by a MemoStore.
type MemoRunner struct {
	runID  string
	memo   MemoStore
	logger *slog.Logger
}

// NewRunner creates a runner for runID.
func NewRunner(runID string, memo MemoStore, logger *slog.Logger) *MemoRunner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &MemoRunner{runID: runID, memo: memo, logger: logger}
}

// RunID returns the run this runner records under.
func (r *MemoRunner) RunID() string {
	return r.runID
}

// Run implements Runner.
func (r *MemoRunner) Run(ctx context.Context, name string, fn Func) (xjson.RawMessage, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "step name is empty")
	}

	cached, ok, err := r.memo.LoadStep(ctx, r.runID, name)
	if err != nil {
		return nil, err
	}
	if ok {
		r.logger.DebugContext(ctx, "step replayed", slog.String("step", name))
		return cached, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := xjson.Marshal(result)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s returned a value that is not JSON-serializable", name).
			WithCause(err)
	}

	winner, err := r.memo.SaveStep(ctx, r.runID, name, raw)
	if err != nil {
		return nil, err
	}
	r.logger.DebugContext(ctx, "step completed", slog.String("step", name))
	return winner, nil
}

// Do runs a step through r and decodes its recorded result into T.
// On replay the decoded value is identical to what the first run returned.
func Do[T any](ctx context.Context, r Runner, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	raw, err := r.Run(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return out, err
	}
	if err := xjson.Unmarshal(raw, &out); err != nil {
		return out, schema.NewErrorf(schema.ErrCodeStore, "step %s: recorded result does not decode", name).
			WithCause(err)
	}
	return out, nil
}

var _ Runner = (*MemoRunner)(nil)
