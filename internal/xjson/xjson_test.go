package xjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalDoesNotEscapeHTML(t *testing.T) {
	raw, err := Marshal(map[string]any{"html": "<b>&</b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<b>&</b>"}`, string(raw))
}

func TestUnmarshalAndValid(t *testing.T) {
	var out struct {
		Raw RawMessage `json:"raw"`
	}
	require.NoError(t, Unmarshal([]byte(`{"raw": {"a": 1}}`), &out))
	assert.JSONEq(t, `{"a": 1}`, string(out.Raw))
	assert.True(t, Valid(out.Raw))
	assert.False(t, Valid([]byte(`{nope`)))
}

func TestClone(t *testing.T) {
	src := RawMessage(`{"a":1}`)
	dup := Clone(src)
	src[2] = 'b'
	assert.Equal(t, `{"a":1}`, string(dup))
	assert.Nil(t, Clone(nil))
}
