package graph

import (
	"fmt"

	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultHTTPVariable is the output key HTTP request nodes use when none is configured.
const DefaultHTTPVariable = "httpResponse"

// OutputVariable returns the context key node writes, or "" for nodes that
// leave the context unchanged.
func OutputVariable(node schema.Node) string {
	name, _ := node.Data["variableName"].(string)
	if node.Type == schema.NodeTypeHTTPRequest && name == "" {
		return DefaultHTTPVariable
	}
	if node.Type.IsTrigger() {
		return ""
	}
	return name
}

// CheckStrict reports graph-level rules a schema cannot express:
// at most one manual-trigger-class node, and no two nodes writing the same
// output variable.
func CheckStrict(g *schema.Graph) *schema.GraphReport {
	result := &schema.GraphReport{}
	if g == nil {
		result.Errorf(schema.RuleNilGraph, "", "/", "graph is nil")
		return result
	}

	var manual []string
	owners := make(map[string]string)
	for i, node := range g.Nodes {
		path := fmt.Sprintf("/nodes/%d", i)
		if node.Type.IsManualTrigger() {
			manual = append(manual, node.ID)
		}
		name := OutputVariable(node)
		if name == "" {
			continue
		}
		if prev, dup := owners[name]; dup {
			result.Errorf(schema.RuleDuplicateVariable, node.ID, path+"/data/variableName",
				"nodes %s and %s both write variable %q", prev, node.ID, name)
			continue
		}
		owners[name] = node.ID
	}

	if len(manual) > 1 {
		result.Errorf(schema.RuleMultipleManualTriggers, "", "/nodes",
			"graph has %d manual trigger nodes: %v", len(manual), manual)
	}
	if len(g.Nodes) > 0 && len(manual) == 0 && !hasTrigger(g) {
		result.Warnf(schema.RuleNoTrigger, "", "/nodes", "graph has no trigger node")
	}
	return result
}

func hasTrigger(g *schema.Graph) bool {
	for _, node := range g.Nodes {
		if node.Type.IsTrigger() {
			return true
		}
	}
	return false
}
