package graph

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/rendis/nodeflow/pkg/schema"
)

// hclWorkflowFile is the top-level structure of a workflow file for decoding.
//
//	id    = "wf-1"
//	owner = "user-1"
//
//	node "fetch" {
//	  type = "HTTP_REQUEST"
//	  data = { endpoint = "https://example.com", method = "GET" }
//	}
//
//	connection {
//	  source = "trigger"
//	  target = "fetch"
//	}
type hclWorkflowFile struct {
	ID          string           `hcl:"id,optional"`
	Name        string           `hcl:"name,optional"`
	Owner       string           `hcl:"owner,optional"`
	Nodes       []*hclNode       `hcl:"node,block"`
	Connections []*hclConnection `hcl:"connection,block"`
}

type hclNode struct {
	ID   string    `hcl:"id,label"`
	Type string    `hcl:"type"`
	Data cty.Value `hcl:"data,optional"`
}

type hclConnection struct {
	Source string `hcl:"source"`
	Target string `hcl:"target"`
}

// LoadHCL parses a workflow defined in an HCL file.
// Blocks keep their file order, which becomes the graph's declaration order.
func LoadHCL(path string) (*schema.Workflow, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "failed to parse HCL file %s", path).WithCause(diags)
	}

	var parsed hclWorkflowFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "failed to decode HCL file %s", path).WithCause(diags)
	}

	wf := &schema.Workflow{
		ID:      parsed.ID,
		Name:    parsed.Name,
		OwnerID: parsed.Owner,
		Graph: schema.Graph{
			Nodes:       make([]schema.Node, 0, len(parsed.Nodes)),
			Connections: make([]schema.Connection, 0, len(parsed.Connections)),
		},
	}

	for _, n := range parsed.Nodes {
		data, err := ctyToMap(n.Data)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s: invalid data", n.ID).
				WithNode(n.ID).WithCause(err)
		}
		wf.Graph.Nodes = append(wf.Graph.Nodes, schema.Node{
			ID:   n.ID,
			Type: schema.NodeType(n.Type),
			Data: data,
		})
	}
	for _, c := range parsed.Connections {
		wf.Graph.Connections = append(wf.Graph.Connections, schema.Connection{
			SourceID: c.Source,
			TargetID: c.Target,
		})
	}

	return wf, nil
}

// ctyToMap converts an HCL object value into plain JSON-compatible data.
func ctyToMap(val cty.Value) (map[string]any, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("data must be an object, got %s", val.Type().FriendlyName())
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("data contains unknown values")
	}

	raw, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
