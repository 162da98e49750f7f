package flowctx

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWith_LeavesReceiverUntouched(t *testing.T) {
	base, err := New(map[string]any{"a": 1})
	require.NoError(t, err)

	next, err := base.With("b", "two")
	require.NoError(t, err)

	assert.Equal(t, 1, base.Len())
	assert.False(t, base.Has("b"))
	assert.Equal(t, 2, next.Len())
	v, ok := next.Get("b")
	require.True(t, ok)
	assert.Equal(t, "two", v)
}

func TestWith_Overwrites(t *testing.T) {
	base, err := New(map[string]any{"a": "old"})
	require.NoError(t, err)

	next, err := base.With("a", "new")
	require.NoError(t, err)

	v, _ := next.Get("a")
	assert.Equal(t, "new", v)
	v, _ = base.Get("a")
	assert.Equal(t, "old", v)
}

func TestWith_CallerMutationDoesNotLeak(t *testing.T) {
	payload := map[string]any{"items": []any{"x"}}
	ctx, err := Context{}.With("res", payload)
	require.NoError(t, err)

	payload["items"] = []any{"mutated"}
	payload["extra"] = true

	v, _ := ctx.Get("res")
	assert.Equal(t, map[string]any{"items": []any{"x"}}, v)
}

func TestGet_ReturnsPrivateCopy(t *testing.T) {
	ctx, err := New(map[string]any{"res": map[string]any{"n": 1}})
	require.NoError(t, err)

	v, _ := ctx.Get("res")
	v.(map[string]any)["n"] = 99

	again, _ := ctx.Get("res")
	assert.Equal(t, float64(1), again.(map[string]any)["n"])
}

func TestChainKeepsEveryKey(t *testing.T) {
	ctx := Context{}
	var err error
	for _, k := range []string{"a", "b", "c"} {
		ctx, err = ctx.With(k, map[string]any{"from": k})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"a", "b", "c"}, ctx.Keys())
	a, _ := ctx.Get("a")
	assert.Equal(t, map[string]any{"from": "a"}, a)
}

func TestWith_NotSerializable(t *testing.T) {
	_, err := Context{}.With("ch", make(chan int))
	assert.Error(t, err)
}

func TestNew_Empty(t *testing.T) {
	ctx, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, ctx.Len())

	raw, err := json.Marshal(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestFromJSON_EmptyEncodesAsObject(t *testing.T) {
	for _, in := range []string{``, `null`, `{}`} {
		ctx, err := FromJSON([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, 0, ctx.Len())

		raw, err := json.Marshal(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(raw), in)
		assert.NotNil(t, ctx.Map())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	ctx, err := New(map[string]any{"stripe": map[string]any{"eventId": "evt_1", "livemode": false}})
	require.NoError(t, err)

	raw, err := json.Marshal(ctx)
	require.NoError(t, err)

	var back Context
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, ctx.Map(), back.Map())
}

func TestFromJSON_RejectsNonObject(t *testing.T) {
	_, err := FromJSON([]byte(`[1,2]`))
	assert.Error(t, err)

	ctx, err := FromJSON([]byte(`null`))
	require.NoError(t, err)
	assert.Equal(t, 0, ctx.Len())
}
