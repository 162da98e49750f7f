package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

// --- Test graph builders ---

func linearGraph() *schema.Graph {
	return &schema.Graph{
		Nodes: []schema.Node{
			{ID: "trigger", Type: schema.NodeTypeManualTrigger},
			{ID: "fetch", Type: schema.NodeTypeHTTPRequest},
			{ID: "summarize", Type: schema.NodeTypeOpenAI},
			{ID: "notify", Type: schema.NodeTypeSlack},
		},
		Connections: []schema.Connection{
			{SourceID: "trigger", TargetID: "fetch"},
			{SourceID: "fetch", TargetID: "summarize"},
			{SourceID: "summarize", TargetID: "notify"},
		},
	}
}

// diamondGraph fans out from the trigger and joins at the chat node.
func diamondGraph() *schema.Graph {
	return &schema.Graph{
		Nodes: []schema.Node{
			{ID: "trigger", Type: schema.NodeTypeStripeTrigger},
			{ID: "gpt", Type: schema.NodeTypeOpenAI},
			{ID: "claude", Type: schema.NodeTypeAnthropic},
			{ID: "post", Type: schema.NodeTypeDiscord},
		},
		Connections: []schema.Connection{
			{SourceID: "trigger", TargetID: "gpt"},
			{SourceID: "trigger", TargetID: "claude"},
			{SourceID: "gpt", TargetID: "post"},
			{SourceID: "claude", TargetID: "post"},
		},
	}
}

func TestBuildLinear(t *testing.T) {
	model, err := Build("Daily digest", linearGraph(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Daily digest", model.Title)
	require.Len(t, model.Nodes, 6)
	assert.Equal(t, startID, model.Nodes[0].ID)
	assert.Equal(t, endID, model.Nodes[5].ID)
	assert.Equal(t, []string{"trigger", "fetch", "summarize", "notify"}, []string{
		model.Nodes[1].ID, model.Nodes[2].ID, model.Nodes[3].ID, model.Nodes[4].ID,
	})

	assert.Equal(t, NodeKindTrigger, model.Nodes[1].Kind)
	assert.Equal(t, NodeKindHTTP, model.Nodes[2].Kind)
	assert.Equal(t, NodeKindLLM, model.Nodes[3].Kind)
	assert.Equal(t, NodeKindChat, model.Nodes[4].Kind)
	assert.Equal(t, "fetch\n(HTTP_REQUEST)", model.Nodes[2].Label)

	assert.Equal(t, [][]string{{startID}, {"trigger"}, {"fetch"}, {"summarize"}, {"notify"}, {endID}}, model.Levels)
	assert.Equal(t, []Edge{
		{From: startID, To: "trigger"},
		{From: "trigger", To: "fetch"},
		{From: "fetch", To: "summarize"},
		{From: "summarize", To: "notify"},
		{From: "notify", To: endID},
	}, model.Edges)
}

func TestBuildDiamondLevels(t *testing.T) {
	model, err := Build("", diamondGraph(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Workflow", model.Title)
	assert.Equal(t, [][]string{{startID}, {"trigger"}, {"gpt", "claude"}, {"post"}, {endID}}, model.Levels)
}

func TestBuildStatusOverlay(t *testing.T) {
	model, err := Build("run", linearGraph(), map[string]schema.NodeStatus{
		"trigger": schema.NodeStatusSuccess,
		"fetch":   schema.NodeStatusError,
	})
	require.NoError(t, err)

	require.NotNil(t, model.Nodes[1].Status)
	assert.Equal(t, schema.NodeStatusSuccess, model.Nodes[1].Status.Status)
	assert.Equal(t, 1, model.Nodes[1].Status.Order)
	require.NotNil(t, model.Nodes[2].Status)
	assert.Equal(t, schema.NodeStatusError, model.Nodes[2].Status.Status)
	assert.Equal(t, 2, model.Nodes[2].Status.Order)
	assert.Nil(t, model.Nodes[3].Status)
}

func TestBuildEmptyGraph(t *testing.T) {
	model, err := Build("empty", &schema.Graph{}, nil)
	require.NoError(t, err)
	assert.Len(t, model.Nodes, 2)
	assert.Equal(t, []Edge{{From: startID, To: endID}}, model.Edges)
}

func TestBuildCycle(t *testing.T) {
	g := &schema.Graph{
		Nodes: []schema.Node{{ID: "a", Type: schema.NodeTypeHTTPRequest}, {ID: "b", Type: schema.NodeTypeHTTPRequest}},
		Connections: []schema.Connection{
			{SourceID: "a", TargetID: "b"},
			{SourceID: "b", TargetID: "a"},
		},
	}
	_, err := Build("", g, nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCycleDetected))
}
