package diagram

import (
	"fmt"

	"github.com/rendis/nodeflow/internal/graph"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build constructs a DiagramModel from a workflow graph and optional node
// statuses keyed by node ID. Nodes are laid out in execution order and
// grouped into levels by their longest distance from a root.
func Build(title string, g *schema.Graph, statuses map[string]schema.NodeStatus) (*DiagramModel, error) {
	dag, err := graph.Parse(g)
	if err != nil {
		return nil, fmt.Errorf("diagram: parse graph: %w", err)
	}

	nodes := make([]*Node, 0, len(dag.Sorted)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	for i, id := range dag.Sorted {
		n := dag.Nodes[id]
		node := &Node{ID: n.ID, Label: nodeLabel(n), Kind: kindOf(n.Type), Type: n.Type}
		if st, ok := statuses[n.ID]; ok {
			node.Status = &StatusOverlay{Status: st, Order: i + 1}
		}
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	if title == "" {
		title = "Workflow"
	}
	return &DiagramModel{
		Title:  title,
		Nodes:  nodes,
		Edges:  buildEdges(dag),
		Levels: buildLevels(dag),
	}, nil
}

// kindOf maps a node type to its diagram family.
func kindOf(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeHTTPRequest:
		return NodeKindHTTP
	case schema.NodeTypeOpenAI, schema.NodeTypeAnthropic, schema.NodeTypeGemini:
		return NodeKindLLM
	case schema.NodeTypeDiscord, schema.NodeTypeSlack:
		return NodeKindChat
	default:
		return NodeKindTrigger
	}
}

// nodeLabel is "<id>\n(<TYPE>)"; renderers that need one line use firstLine.
func nodeLabel(n *schema.Node) string {
	return fmt.Sprintf("%s\n(%s)", n.ID, n.Type)
}

// buildEdges lists connections in execution order plus the virtual start/end edges.
func buildEdges(dag *graph.DAG) []Edge {
	var edges []Edge
	for _, root := range dag.Roots {
		edges = append(edges, Edge{From: startID, To: root})
	}
	for _, id := range dag.Sorted {
		for _, next := range dag.Reverse[id] {
			edges = append(edges, Edge{From: id, To: next})
		}
	}
	for _, id := range dag.Sorted {
		if len(dag.Reverse[id]) == 0 {
			edges = append(edges, Edge{From: id, To: endID})
		}
	}
	if len(dag.Sorted) == 0 {
		edges = append(edges, Edge{From: startID, To: endID})
	}
	return edges
}

// buildLevels groups nodes by longest path from a root, wrapped in start/end levels.
func buildLevels(dag *graph.DAG) [][]string {
	depth := make(map[string]int, len(dag.Sorted))
	maxDepth := -1
	for _, id := range dag.Sorted {
		d := 0
		for _, up := range dag.Edges[id] {
			if depth[up]+1 > d {
				d = depth[up] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, 0, maxDepth+3)
	levels = append(levels, []string{startID})
	for d := 0; d <= maxDepth; d++ {
		var level []string
		for _, id := range dag.Sorted {
			if depth[id] == d {
				level = append(level, id)
			}
		}
		levels = append(levels, level)
	}
	levels = append(levels, []string{endID})
	return levels
}
