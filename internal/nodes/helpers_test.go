package nodes

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/flowctx"
	"github.com/rendis/nodeflow/internal/steps"
	"github.com/rendis/nodeflow/pkg/schema"
)

type statusRecord struct {
	Channel string
	NodeID  string
	Status  schema.NodeStatus
}

// recorder is a streaming.Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []statusRecord
}

func (r *recorder) Publish(_ context.Context, t schema.NodeType, nodeID string, status schema.NodeStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, statusRecord{Channel: t.Channel(), NodeID: nodeID, Status: status})
}

func (r *recorder) statuses() []schema.NodeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.NodeStatus, len(r.events))
	for i, e := range r.events {
		out[i] = e.Status
	}
	return out
}

// fakeResolver hands out keys from a map scoped by owner.
type fakeResolver struct {
	keys  map[string]string // "<owner>/<id>" -> value
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, runner steps.Runner, nodeID, credentialID, ownerID string) (string, error) {
	return steps.Do(ctx, runner, nodeID+"/get-credential", func(context.Context) (string, error) {
		f.calls++
		v, ok := f.keys[ownerID+"/"+credentialID]
		if !ok {
			return "", schema.NewErrorf(schema.ErrCodeCredential, "credential %s not found", credentialID)
		}
		return v, nil
	})
}

func newInput(t *testing.T, node schema.Node, initial map[string]any, runner steps.Runner, rec *recorder) Input {
	t.Helper()
	c, err := flowctx.New(initial)
	require.NoError(t, err)
	return Input{Node: node, Context: c, Steps: runner, Status: rec, OwnerID: "owner-1"}
}

func newRunner() (*steps.MemoRunner, *steps.MemoryStore) {
	memo := steps.NewMemoryStore()
	return steps.NewRunner("run-1", memo, nil), memo
}

func requireCode(t *testing.T, err error, code string) *schema.FlowError {
	t.Helper()
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, code, fe.Code, fe.Error())
	return fe
}

var (
	loadingSuccess = []schema.NodeStatus{schema.NodeStatusLoading, schema.NodeStatusSuccess}
	loadingError   = []schema.NodeStatus{schema.NodeStatusLoading, schema.NodeStatusError}
)
