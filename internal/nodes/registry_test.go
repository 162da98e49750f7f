package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestRegistry_CoversEveryNodeType(t *testing.T) {
	r := NewRegistry(Deps{})
	for _, typ := range schema.NodeTypes {
		exec, err := r.Get(typ)
		require.NoError(t, err, typ)
		assert.NotNil(t, exec, typ)
	}
}

func TestRegistry_ManualTriggersShareExecutor(t *testing.T) {
	r := NewRegistry(Deps{})
	a, err := r.Get(schema.NodeTypeInitial)
	require.NoError(t, err)
	b, err := r.Get(schema.NodeTypeManualTrigger)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestRegistry_UnknownType(t *testing.T) {
	_, err := NewRegistry(Deps{}).Get("WEBHOOK_SPLITTER")
	fe := requireCode(t, err, schema.ErrCodeUnknownNodeType)
	assert.False(t, fe.IsRetryable())
}

func TestTriggerExecutor_PassesContextThrough(t *testing.T) {
	r := NewRegistry(Deps{})
	runner, memo := newRunner()

	for _, typ := range []schema.NodeType{schema.NodeTypeManualTrigger, schema.NodeTypeGoogleFormTrigger, schema.NodeTypeStripeTrigger} {
		rec := &recorder{}
		exec, err := r.Get(typ)
		require.NoError(t, err)

		in := newInput(t, schema.Node{ID: "trigger", Type: typ}, map[string]any{"stripe": map[string]any{"eventId": "evt_1"}}, runner, rec)
		out, err := exec.Execute(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, in.Context.Map(), out.Map())
		assert.Equal(t, loadingSuccess, rec.statuses())
		assert.Equal(t, typ.Channel(), rec.events[0].Channel)
	}
	assert.Zero(t, memo.Len(), "triggers record no steps")
}

func TestClassify(t *testing.T) {
	plain := classify("n1", errors.New("socket hang up"))
	fe := requireCode(t, plain, schema.ErrCodeUpstream)
	assert.Equal(t, "n1", fe.NodeID)
	assert.True(t, schema.IsRetryable(plain))

	terminal := classify("n1", schema.NewError(schema.ErrCodeValidation, "bad"))
	fe = requireCode(t, terminal, schema.ErrCodeValidation)
	assert.Equal(t, "n1", fe.NodeID)

	keep := classify("n1", schema.NewError(schema.ErrCodeCredential, "x").WithNode("other"))
	fe = requireCode(t, keep, schema.ErrCodeCredential)
	assert.Equal(t, "other", fe.NodeID)

	assert.ErrorIs(t, classify("n1", context.Canceled), context.Canceled)
	assert.False(t, schema.IsRetryable(classify("n1", context.Canceled)))
}
