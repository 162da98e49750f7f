package schema

import (
	"encoding/json"
	"time"
)

// ExecutionStatus represents the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "PENDING"
	ExecutionRunning ExecutionStatus = "RUNNING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
)

// Terminal reports whether s is write-once.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed
}

// Lifecycle event types appended to the execution event log.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionSucceeded = "execution_succeeded"
	EventExecutionFailed    = "execution_failed"
)

// ExecutionRecord is the persisted lifecycle record of one workflow run.
type ExecutionRecord struct {
	ID             string          `json:"executionId"`
	WorkflowID     string          `json:"workflowId"`
	TriggerEventID string          `json:"triggerEventId"`
	Status         ExecutionStatus `json:"status"`
	StartedAt      time.Time       `json:"startedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	ErrorStack     string          `json:"errorStack,omitempty"`
}
