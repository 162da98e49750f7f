// Package nodes implements one executor per node family. Every executor
// follows the same contract: announce loading, validate its config, render
// templates against the context snapshot, resolve credentials and perform
// its effect through the step runner, then announce success or error.
package nodes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/rendis/nodeflow/internal/credentials"
	"github.com/rendis/nodeflow/internal/flowctx"
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/steps"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/template"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Input is everything an executor may touch for one node invocation.
type Input struct {
	Node    schema.Node
	Context flowctx.Context
	Steps   steps.Runner
	Status  streaming.Publisher
	OwnerID string
}

// Executor runs one node and returns the context the next node will see.
type Executor interface {
	Execute(ctx context.Context, in Input) (flowctx.Context, error)
}

// Deps are the collaborators shared by all executors.
type Deps struct {
	Renderer    *template.Renderer
	Credentials credentials.Resolver
	HTTPClient  *http.Client
	LLM         llm.Config
	Logger      *slog.Logger
}

var variableNamePattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

type bodyFunc func(ctx context.Context, data map[string]any) (flowctx.Context, error)

// run wraps an executor body in the status and error contract.
func run(ctx context.Context, in Input, logger *slog.Logger, body bodyFunc) (flowctx.Context, error) {
	ctx = logging.WithNodeID(ctx, in.Node.ID)
	status := in.Status
	if status == nil {
		status = streaming.Nop{}
	}

	status.Publish(ctx, in.Node.Type, in.Node.ID, schema.NodeStatusLoading)
	out, err := body(ctx, in.Context.Map())
	if err != nil {
		status.Publish(ctx, in.Node.Type, in.Node.ID, schema.NodeStatusError)
		err = classify(in.Node.ID, err)
		logging.LogWith(ctx, logger).DebugContext(ctx, "node failed",
			slog.String("type", string(in.Node.Type)),
			slog.String("code", schema.Code(err)),
			slog.String("error", err.Error()),
		)
		return flowctx.Context{}, err
	}
	status.Publish(ctx, in.Node.Type, in.Node.ID, schema.NodeStatusSuccess)
	return out, nil
}

// classify tags err with the node and turns unclassified failures into
// retriable upstream errors. Cancellation passes through untouched.
func classify(nodeID string, err error) error {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		if fe.NodeID == "" {
			fe.NodeID = nodeID
		}
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return schema.NewError(schema.ErrCodeUpstream, err.Error()).WithNode(nodeID).WithCause(err)
}

func validationError(nodeID, format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeValidation, format, args...).WithNode(nodeID)
}

// Param helpers.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

func requireString(node schema.Node, key string) (string, error) {
	s := stringParam(node.Data, key, "")
	if s == "" {
		return "", validationError(node.ID, "%s node: %s is required", node.Type, key)
	}
	return s, nil
}

func requireVariableName(node schema.Node) (string, error) {
	name, err := requireString(node, "variableName")
	if err != nil {
		return "", err
	}
	if !variableNamePattern.MatchString(name) {
		return "", validationError(node.ID, "%s node: invalid variableName %q", node.Type, name)
	}
	return name, nil
}

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return logging.Discard()
	}
	return l
}
