package schema

import json "github.com/goccy/go-json"

// NodeType enumerates the kinds of nodes a workflow graph may contain.
type NodeType string

const (
	NodeTypeInitial           NodeType = "INITIAL"
	NodeTypeManualTrigger     NodeType = "MANUAL_TRIGGER"
	NodeTypeGoogleFormTrigger NodeType = "GOOGLE_FORM_TRIGGER"
	NodeTypeStripeTrigger     NodeType = "STRIPE_TRIGGER"
	NodeTypeHTTPRequest       NodeType = "HTTP_REQUEST"
	NodeTypeOpenAI            NodeType = "OPENAI"
	NodeTypeAnthropic         NodeType = "ANTHROPIC"
	NodeTypeGemini            NodeType = "GEMINI"
	NodeTypeDiscord           NodeType = "DISCORD"
	NodeTypeSlack             NodeType = "SLACK"
)

// NodeTypes lists every node type the engine knows, in a stable order.
var NodeTypes = []NodeType{
	NodeTypeInitial,
	NodeTypeManualTrigger,
	NodeTypeGoogleFormTrigger,
	NodeTypeStripeTrigger,
	NodeTypeHTTPRequest,
	NodeTypeOpenAI,
	NodeTypeAnthropic,
	NodeTypeGemini,
	NodeTypeDiscord,
	NodeTypeSlack,
}

// Valid reports whether t is one of the declared node types.
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsManualTrigger reports whether t starts a run by hand.
// At most one such node is meaningful per graph.
func (t NodeType) IsManualTrigger() bool {
	return t == NodeTypeInitial || t == NodeTypeManualTrigger
}

// IsTrigger reports whether t is any trigger-class node.
func (t NodeType) IsTrigger() bool {
	switch t {
	case NodeTypeInitial, NodeTypeManualTrigger, NodeTypeGoogleFormTrigger, NodeTypeStripeTrigger:
		return true
	}
	return false
}

// Channel returns the status channel name for nodes of type t.
// Every node family publishes on its own channel under the "status" topic.
func (t NodeType) Channel() string {
	switch t {
	case NodeTypeInitial, NodeTypeManualTrigger:
		return "manual-trigger-execution"
	case NodeTypeGoogleFormTrigger:
		return "google-form-trigger-execution"
	case NodeTypeStripeTrigger:
		return "stripe-trigger-execution"
	case NodeTypeHTTPRequest:
		return "http-request-execution"
	case NodeTypeOpenAI:
		return "openai-execution"
	case NodeTypeAnthropic:
		return "anthropic-execution"
	case NodeTypeGemini:
		return "gemini-execution"
	case NodeTypeDiscord:
		return "discord-execution"
	case NodeTypeSlack:
		return "slack-execution"
	default:
		return "unknown-execution"
	}
}

// Node is a single unit of work in a workflow graph.
type Node struct {
	ID   string         `json:"id"`
	Type NodeType       `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Connection is a directed dependency: Source must finish before Target starts.
type Connection struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

// Graph is the persisted node/edge set of a workflow, in declaration order.
type Graph struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// Workflow is the owner of a graph.
type Workflow struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"ownerId"`
	Graph   Graph  `json:"graph"`
}

// TriggerEvent is the inbound request to run a workflow.
// TriggerEventID is the idempotency key for the resulting execution.
type TriggerEvent struct {
	WorkflowID     string         `json:"workflowId"`
	TriggerEventID string         `json:"triggerEventId"`
	InitialData    map[string]any `json:"initialData,omitempty"`
}

// ParseGraph decodes the storage representation of a graph.
func ParseGraph(raw []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, NewError(ErrCodeValidation, "malformed graph document").WithCause(err)
	}
	return &g, nil
}
