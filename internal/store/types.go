package store

import (
	"time"

	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Credential is a user-owned secret an executor may read, e.g. an LLM API key.
type Credential struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name,omitempty"`
	Type      string    `json:"type"`
	Value     string    `json:"value,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Event is an immutable entry in an execution's lifecycle log.
type Event struct {
	ID          int64            `json:"id"`
	ExecutionID string           `json:"executionId"`
	Type        string           `json:"eventType"`
	Payload     xjson.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Sequence    int64            `json:"sequence"`
}

// ExecutionResult is the terminal write applied to a RUNNING execution.
type ExecutionResult struct {
	Status      schema.ExecutionStatus
	CompletedAt time.Time
	Output      xjson.RawMessage
	Error       string
	ErrorStack  string
}

// WorkflowFilter controls ListWorkflows.
type WorkflowFilter struct {
	OwnerID string
	Limit   int
	Offset  int
}

// ExecutionFilter controls ListExecutions.
type ExecutionFilter struct {
	WorkflowID    string
	Status        *schema.ExecutionStatus
	StartedBefore *time.Time
	Limit         int
	Offset        int
}

// EventFilter controls GetEventsByType.
type EventFilter struct {
	Since *time.Time
	Limit int
}
