package store

import (
	"context"

	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	UpdateWorkflowGraph(ctx context.Context, id string, graph schema.Graph) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Credentials
	PutCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, id, ownerID string) (*Credential, error)
	ListCredentials(ctx context.Context, ownerID string) ([]*Credential, error)
	DeleteCredential(ctx context.Context, id, ownerID string) error

	// Executions
	CreateExecution(ctx context.Context, rec *schema.ExecutionRecord) (*schema.ExecutionRecord, error)
	GetExecution(ctx context.Context, id string) (*schema.ExecutionRecord, error)
	GetExecutionByTrigger(ctx context.Context, triggerEventID string) (*schema.ExecutionRecord, error)
	FinishExecution(ctx context.Context, id string, result ExecutionResult) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.ExecutionRecord, error)

	// Step results (memo store for the step runner)
	LoadStep(ctx context.Context, runID, name string) (xjson.RawMessage, bool, error)
	SaveStep(ctx context.Context, runID, name string, output xjson.RawMessage) (xjson.RawMessage, error)

	// Lifecycle events (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
