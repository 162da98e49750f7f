// Package streaming fans node status events out to live subscribers.
package streaming

import (
	"context"

	"github.com/rendis/nodeflow/pkg/schema"
)

// StatusEvent is one node status change. Channel is the node family channel
// (e.g. "http-request-execution"); Topic is always "status".
type StatusEvent struct {
	Channel     string            `json:"channel"`
	Topic       string            `json:"topic"`
	NodeID      string            `json:"nodeId"`
	Status      schema.NodeStatus `json:"status"`
	ExecutionID string            `json:"executionId,omitempty"`
	WorkflowID  string            `json:"workflowId,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	Channel     string `json:"channel,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
	WorkflowID  string `json:"workflowId,omitempty"`
}

// EventHub provides pub/sub for node status events.
type EventHub interface {
	Publish(ctx context.Context, event StatusEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StatusEvent, func(), error)
}
