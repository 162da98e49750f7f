package graph

import (
	"fmt"

	"github.com/rendis/nodeflow/pkg/schema"
)

// DAG is the in-memory form of a workflow graph.
// Built from a schema.Graph, used by the engine to determine execution order.
type DAG struct {
	Nodes   map[string]*schema.Node // node ID → node
	Edges   map[string][]string     // node ID → upstream node IDs
	Reverse map[string][]string     // node ID → downstream node IDs, in declaration order
	Sorted  []string                // execution order
	Roots   []string                // nodes with no upstream, in declaration order

	index map[string]int // node ID → declaration position
}

// Parse builds a DAG from g and orders it with Kahn's algorithm.
// Among nodes that become eligible at the same time, the one declared first
// in g.Nodes runs first, so the same graph always yields the same order.
func Parse(g *schema.Graph) (*DAG, error) {
	if g == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph is nil")
	}

	dag := &DAG{
		Nodes:   make(map[string]*schema.Node, len(g.Nodes)),
		Edges:   make(map[string][]string, len(g.Nodes)),
		Reverse: make(map[string][]string, len(g.Nodes)),
		index:   make(map[string]int, len(g.Nodes)),
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("node at index %d has empty ID", i))
		}
		if _, exists := dag.Nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", node.ID)
		}
		dag.Nodes[node.ID] = node
		dag.index[node.ID] = i
	}

	type edge struct{ from, to string }
	seen := make(map[edge]bool, len(g.Connections))
	for _, c := range g.Connections {
		if _, ok := dag.Nodes[c.SourceID]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "connection references unknown source node: %s", c.SourceID)
		}
		if _, ok := dag.Nodes[c.TargetID]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "connection references unknown target node: %s", c.TargetID)
		}
		if c.SourceID == c.TargetID {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "node %s depends on itself", c.SourceID).
				WithNode(c.SourceID)
		}
		e := edge{c.SourceID, c.TargetID}
		if seen[e] {
			continue
		}
		seen[e] = true
		dag.Edges[c.TargetID] = append(dag.Edges[c.TargetID], c.SourceID)
		dag.Reverse[c.SourceID] = append(dag.Reverse[c.SourceID], c.TargetID)
	}

	for id := range dag.Reverse {
		dag.sortByDeclaration(dag.Reverse[id])
	}

	inDegree := make(map[string]int, len(dag.Nodes))
	ready := make([]string, 0)
	for _, node := range g.Nodes {
		inDegree[node.ID] = len(dag.Edges[node.ID])
		if inDegree[node.ID] == 0 {
			ready = append(ready, node.ID)
		}
	}
	dag.Roots = append([]string(nil), ready...)

	sorted := make([]string, 0, len(dag.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, id)

		for _, next := range dag.Reverse[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = dag.insertByDeclaration(ready, next)
			}
		}
	}

	if len(sorted) != len(dag.Nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow graph contains a cycle").
			WithDetails(map[string]any{"unscheduled": dag.unscheduled(sorted)})
	}

	dag.Sorted = sorted
	return dag, nil
}

// Schedule returns the nodes of g in execution order.
func Schedule(g *schema.Graph) ([]schema.Node, error) {
	dag, err := Parse(g)
	if err != nil {
		return nil, err
	}
	return dag.Ordered(), nil
}

// Ordered returns copies of the nodes in execution order.
func (d *DAG) Ordered() []schema.Node {
	out := make([]schema.Node, 0, len(d.Sorted))
	for _, id := range d.Sorted {
		out = append(out, *d.Nodes[id])
	}
	return out
}

// insertByDeclaration keeps the ready set ordered by declaration position.
func (d *DAG) insertByDeclaration(ready []string, id string) []string {
	pos := d.index[id]
	i := len(ready)
	for i > 0 && d.index[ready[i-1]] > pos {
		i--
	}
	ready = append(ready, "")
	copy(ready[i+1:], ready[i:])
	ready[i] = id
	return ready
}

func (d *DAG) sortByDeclaration(ids []string) {
	for i := 1; i < len(ids); i++ {
		key := ids[i]
		j := i - 1
		for j >= 0 && d.index[ids[j]] > d.index[key] {
			ids[j+1] = ids[j]
			j--
		}
		ids[j+1] = key
	}
}

func (d *DAG) unscheduled(sorted []string) []string {
	done := make(map[string]bool, len(sorted))
	for _, id := range sorted {
		done[id] = true
	}
	var rest []string
	for id := range d.Nodes {
		if !done[id] {
			rest = append(rest, id)
		}
	}
	d.sortByDeclaration(rest)
	return rest
}
