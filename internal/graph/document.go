package graph

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/nodeflow/pkg/schema"
)

const graphSchemaURL = "https://nodeflow.dev/schemas/graph.json"

// graphSchemaJSON describes the persisted graph document, including the
// per-type node configs that editors can pre-check before saving.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://nodeflow.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "connections": {
      "type": "array",
      "items": { "$ref": "#/$defs/connection" }
    }
  },
  "$defs": {
    "variableName": {
      "type": "string",
      "pattern": "^[A-Za-z_$][A-Za-z0-9_$]*$"
    },
    "connection": {
      "type": "object",
      "required": ["sourceId", "targetId"],
      "properties": {
        "sourceId": { "type": "string", "minLength": 1 },
        "targetId": { "type": "string", "minLength": 1 }
      }
    },
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": [
            "INITIAL", "MANUAL_TRIGGER", "GOOGLE_FORM_TRIGGER", "STRIPE_TRIGGER",
            "HTTP_REQUEST", "OPENAI", "ANTHROPIC", "GEMINI", "DISCORD", "SLACK"
          ]
        },
        "data": { "type": "object" }
      },
      "allOf": [
        {
          "if": { "properties": { "type": { "const": "HTTP_REQUEST" } } },
          "then": { "required": ["data"], "properties": { "data": { "$ref": "#/$defs/httpRequest" } } }
        },
        {
          "if": { "properties": { "type": { "enum": ["OPENAI", "ANTHROPIC", "GEMINI"] } } },
          "then": { "required": ["data"], "properties": { "data": { "$ref": "#/$defs/llm" } } }
        },
        {
          "if": { "properties": { "type": { "const": "DISCORD" } } },
          "then": { "required": ["data"], "properties": { "data": { "$ref": "#/$defs/discord" } } }
        },
        {
          "if": { "properties": { "type": { "const": "SLACK" } } },
          "then": { "required": ["data"], "properties": { "data": { "$ref": "#/$defs/slack" } } }
        }
      ]
    },
    "httpRequest": {
      "type": "object",
      "required": ["endpoint", "method"],
      "properties": {
        "endpoint": { "type": "string", "minLength": 1 },
        "method": { "type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"] },
        "body": { "type": "string" },
        "variableName": { "$ref": "#/$defs/variableName" }
      }
    },
    "llm": {
      "type": "object",
      "required": ["variableName", "userPrompt", "credentialId"],
      "properties": {
        "variableName": { "$ref": "#/$defs/variableName" },
        "userPrompt": { "type": "string", "minLength": 1 },
        "systemPrompt": { "type": "string" },
        "credentialId": { "type": "string", "minLength": 1 },
        "model": { "type": "string" }
      }
    },
    "discord": {
      "type": "object",
      "required": ["variableName", "webhookUrl", "content"],
      "properties": {
        "variableName": { "$ref": "#/$defs/variableName" },
        "webhookUrl": { "type": "string", "minLength": 1 },
        "content": { "type": "string", "minLength": 1, "maxLength": 2000 },
        "username": { "type": "string" }
      }
    },
    "slack": {
      "type": "object",
      "required": ["variableName", "webhookUrl", "content"],
      "properties": {
        "variableName": { "$ref": "#/$defs/variableName" },
        "webhookUrl": { "type": "string", "minLength": 1 },
        "content": { "type": "string", "minLength": 1 }
      }
    }
  }
}`

// DocumentValidator checks graph documents against the graph JSON Schema.
// It is safe for concurrent use.
type DocumentValidator struct {
	graphSchema *jsonschema.Schema
}

// NewDocumentValidator compiles the graph schema.
func NewDocumentValidator() (*DocumentValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource(graphSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}
	compiled, err := c.Compile(graphSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}
	return &DocumentValidator{graphSchema: compiled}, nil
}

// ValidateDocument validates a raw graph document and decodes it.
func (v *DocumentValidator) ValidateDocument(raw []byte) (*schema.Graph, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph document is not valid JSON").WithCause(err)
	}
	if err := v.graphSchema.Validate(doc); err != nil {
		return nil, toFlowError(err)
	}
	return schema.ParseGraph(raw)
}

// ValidateGraph validates an already decoded graph.
func (v *DocumentValidator) ValidateGraph(g *schema.Graph) error {
	if g == nil {
		return schema.NewError(schema.ErrCodeValidation, "graph is nil")
	}
	doc := *g
	if doc.Nodes == nil {
		doc.Nodes = []schema.Node{}
	}
	if doc.Connections == nil {
		doc.Connections = []schema.Connection{}
	}
	raw, err := json.Marshal(&doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize graph").WithCause(err)
	}
	_, err = v.ValidateDocument(raw)
	return err
}

// toFlowError flattens a jsonschema.ValidationError into a FlowError whose
// details list every leaf violation with its instance location.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("graph document has %d violations", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
