package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/flowctx"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/steps"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(dir, "engine.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func saveWorkflow(t *testing.T, s *store.LibSQLStore, g schema.Graph) *schema.Workflow {
	t.Helper()
	wf := &schema.Workflow{ID: uuid.New().String(), Name: "test", OwnerID: "owner-1", Graph: g}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

func chain(ids ...string) []schema.Connection {
	var conns []schema.Connection
	for i := 1; i < len(ids); i++ {
		conns = append(conns, schema.Connection{SourceID: ids[i-1], TargetID: ids[i]})
	}
	return conns
}

// funcExecutor adapts a function to nodes.Executor.
type funcExecutor func(ctx context.Context, in nodes.Input) (flowctx.Context, error)

func (f funcExecutor) Execute(ctx context.Context, in nodes.Input) (flowctx.Context, error) {
	return f(ctx, in)
}

// stubExecutors routes node types to test executors and records call order.
type stubExecutors struct {
	mu    sync.Mutex
	table map[schema.NodeType]nodes.Executor
	calls []string
}

func newStubExecutors() *stubExecutors {
	return &stubExecutors{table: make(map[schema.NodeType]nodes.Executor)}
}

func (s *stubExecutors) set(t schema.NodeType, e funcExecutor) {
	s.table[t] = funcExecutor(func(ctx context.Context, in nodes.Input) (flowctx.Context, error) {
		s.mu.Lock()
		s.calls = append(s.calls, in.Node.ID)
		s.mu.Unlock()
		return e(ctx, in)
	})
}

func (s *stubExecutors) Get(t schema.NodeType) (nodes.Executor, error) {
	e, ok := s.table[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "no executor for node type %q", t)
	}
	return e, nil
}

func (s *stubExecutors) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func passThrough(_ context.Context, in nodes.Input) (flowctx.Context, error) {
	return in.Context, nil
}

// writeVar stores a constant under the node's variableName through a step.
func writeVar(effects *int) funcExecutor {
	return func(ctx context.Context, in nodes.Input) (flowctx.Context, error) {
		name, _ := in.Node.Data["variableName"].(string)
		v, err := steps.Do(ctx, in.Steps, in.Node.ID+"/effect", func(context.Context) (string, error) {
			*effects++
			return "value-of-" + in.Node.ID, nil
		})
		if err != nil {
			return flowctx.Context{}, err
		}
		return in.Context.With(name, v)
	}
}

func newTestEngine(t *testing.T, s *store.LibSQLStore, execs ExecutorSource, hub streaming.EventHub) *Engine {
	t.Helper()
	return New(DefaultConfig(), Deps{
		Workflows: s,
		Records:   s,
		Executors: execs,
		Memo:      s,
		Hub:       hub,
	})
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, schema.Code(err), err.Error())
}
