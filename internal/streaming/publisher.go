package streaming

import (
	"context"
	"log/slog"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Publisher announces node status changes for a single run.
// Publishing is best effort: it never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, nodeType schema.NodeType, nodeID string, status schema.NodeStatus)
}

// HubPublisher publishes onto an EventHub, stamping each event with the
// run's workflow and execution ids.
type HubPublisher struct {
	hub         EventHub
	workflowID  string
	executionID string
	logger      *slog.Logger
}

// NewPublisher returns a Publisher for one execution.
func NewPublisher(hub EventHub, workflowID, executionID string, logger *slog.Logger) *HubPublisher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &HubPublisher{hub: hub, workflowID: workflowID, executionID: executionID, logger: logger}
}

// Publish implements Publisher. Hub errors are logged at debug and dropped.
func (p *HubPublisher) Publish(ctx context.Context, nodeType schema.NodeType, nodeID string, status schema.NodeStatus) {
	err := p.hub.Publish(ctx, StatusEvent{
		Channel:     nodeType.Channel(),
		Topic:       schema.StatusTopic,
		NodeID:      nodeID,
		Status:      status,
		ExecutionID: p.executionID,
		WorkflowID:  p.workflowID,
	})
	if err != nil {
		p.logger.DebugContext(ctx, "status publish failed",
			slog.String("node_id", nodeID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}

// Nop discards every status event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, schema.NodeType, string, schema.NodeStatus) {}

var (
	_ Publisher = (*HubPublisher)(nil)
	_ Publisher = Nop{}
)
