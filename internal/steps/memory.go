package steps

import (
	"context"
	"sync"

	"github.com/rendis/nodeflow/internal/xjson"
)

// MemoryStore keeps step results in process memory. Results do not survive
// a restart; used in tests and by `nodeflow run`.
type MemoryStore struct {
	mu      sync.Mutex
	results map[string]xjson.RawMessage
}

// NewMemoryStore creates an empty in-memory memo store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]xjson.RawMessage)}
}

// LoadStep implements MemoStore.
func (m *MemoryStore) LoadStep(_ context.Context, runID, name string) (xjson.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.results[Key(runID, name)]
	if !ok {
		return nil, false, nil
	}
	return xjson.Clone(raw), true, nil
}

// SaveStep implements MemoStore.
func (m *MemoryStore) SaveStep(_ context.Context, runID, name string, output xjson.RawMessage) (xjson.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(runID, name)
	if existing, ok := m.results[key]; ok {
		return xjson.Clone(existing), nil
	}
	m.results[key] = xjson.Clone(output)
	return output, nil
}

// Len returns the number of recorded results.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// Key returns the storage key of a step result.
func Key(runID, name string) string {
	return "step/" + runID + "/" + name
}

var _ MemoStore = (*MemoryStore)(nil)
