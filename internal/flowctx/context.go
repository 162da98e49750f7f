// Package flowctx holds the accumulated results a workflow run threads from
// node to node.
package flowctx

import (
	"bytes"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Context is an immutable map of top-level keys to JSON-like values.
// The zero value is an empty context. Stored values are normalised through
// JSON, so they only ever contain map[string]any, []any, string, float64,
// bool and nil, and no caller can mutate them after the fact.
type Context struct {
	values map[string]any
}

// New builds a context from initial data.
func New(initial map[string]any) (Context, error) {
	if len(initial) == 0 {
		return Context{values: map[string]any{}}, nil
	}
	norm, err := normalize(initial)
	if err != nil {
		return Context{}, schema.NewError(schema.ErrCodeValidation, "initial data is not JSON-serializable").WithCause(err)
	}
	m, ok := norm.(map[string]any)
	if !ok {
		return Context{}, schema.NewError(schema.ErrCodeValidation, "initial data must be an object")
	}
	return Context{values: m}, nil
}

// FromJSON builds a context from a JSON object.
func FromJSON(raw []byte) (Context, error) {
	m := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Context{values: m}, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return Context{}, schema.NewError(schema.ErrCodeValidation, "context must be a JSON object").WithCause(err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return Context{values: m}, nil
}

// With returns a new context in which key holds value. The receiver is unchanged.
func (c Context) With(key string, value any) (Context, error) {
	norm, err := normalize(value)
	if err != nil {
		return c, schema.NewErrorf(schema.ErrCodeValidation, "value for %q is not JSON-serializable", key).WithCause(err)
	}
	next := make(map[string]any, len(c.values)+1)
	for k, v := range c.values {
		next[k] = v
	}
	next[key] = norm
	return Context{values: next}, nil
}

// Get returns a private copy of the value stored under key.
func (c Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Has reports whether key is present.
func (c Context) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Len returns the number of top-level entries.
func (c Context) Len() int {
	return len(c.values)
}

// Keys returns the top-level keys in sorted order.
func (c Context) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a deep copy of the context contents.
func (c Context) Map() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = deepCopy(v)
	}
	return out
}

// MarshalJSON encodes the context as a JSON object, "{}" when empty.
func (c Context) MarshalJSON() ([]byte, error) {
	if len(c.values) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(c.values)
}

// UnmarshalJSON replaces the receiver with the decoded object.
func (c *Context) UnmarshalJSON(raw []byte) error {
	decoded, err := FromJSON(raw)
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = deepCopy(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = deepCopy(inner)
		}
		return s
	default:
		return v
	}
}
