package diagram

import "github.com/rendis/nodeflow/pkg/schema"

// NodeKind classifies a diagram node by its node family.
type NodeKind string

const (
	NodeKindTrigger NodeKind = "trigger"
	NodeKindHTTP    NodeKind = "http"
	NodeKindLLM     NodeKind = "llm"
	NodeKindChat    NodeKind = "chat"
	NodeKindStart   NodeKind = "start"
	NodeKindEnd     NodeKind = "end"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Type   schema.NodeType
	Status *StatusOverlay
}

// StatusOverlay carries the last status event seen for a node.
type StatusOverlay struct {
	Status schema.NodeStatus
	Order  int // 1-based position in the run, 0 if unknown
}

// Edge represents a connection between two nodes.
type Edge struct {
	From string
	To   string
}
