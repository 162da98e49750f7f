package engine

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/flowctx"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/steps"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

// ValidTransitions defines the allowed execution record transitions.
var ValidTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionPending: {schema.ExecutionRunning},
	schema.ExecutionRunning: {schema.ExecutionSuccess, schema.ExecutionFailed},
	schema.ExecutionSuccess: {},
	schema.ExecutionFailed:  {},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to schema.ExecutionStatus) bool {
	for _, a := range ValidTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// RecordStore is the persistence the lifecycle needs. Satisfied by store.Store.
type RecordStore interface {
	CreateExecution(ctx context.Context, rec *schema.ExecutionRecord) (*schema.ExecutionRecord, error)
	GetExecution(ctx context.Context, id string) (*schema.ExecutionRecord, error)
	GetExecutionByTrigger(ctx context.Context, triggerEventID string) (*schema.ExecutionRecord, error)
	FinishExecution(ctx context.Context, id string, result store.ExecutionResult) error
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Lifecycle moves execution records PENDING -> RUNNING -> SUCCESS | FAILED
// and mirrors each transition into the event log.
type Lifecycle struct {
	store  RecordStore
	logger *slog.Logger
	now    func() time.Time
}

// NewLifecycle creates a Lifecycle over s.
func NewLifecycle(s RecordStore, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Lifecycle{store: s, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Begin creates the RUNNING record for a trigger event, or returns the one
// already created for it. Creation runs as the "create-execution" step, and
// the store's unique trigger id catches deliveries racing in other processes.
// The returned record is re-read so its status is current.
func (l *Lifecycle) Begin(ctx context.Context, runner steps.Runner, ev schema.TriggerEvent) (*schema.ExecutionRecord, error) {
	created, err := steps.Do(ctx, runner, "create-execution", func(ctx context.Context) (schema.ExecutionRecord, error) {
		candidate := &schema.ExecutionRecord{
			ID:             uuid.New().String(),
			WorkflowID:     ev.WorkflowID,
			TriggerEventID: ev.TriggerEventID,
			Status:         schema.ExecutionRunning,
			StartedAt:      l.now(),
		}
		rec, err := l.store.CreateExecution(ctx, candidate)
		if err != nil {
			return schema.ExecutionRecord{}, storeError("create execution", err)
		}
		if rec.ID == candidate.ID {
			l.emit(ctx, rec.ID, schema.EventExecutionStarted, map[string]any{
				"workflowId":     ev.WorkflowID,
				"triggerEventId": ev.TriggerEventID,
			})
		}
		return *rec, nil
	})
	if err != nil {
		return nil, err
	}

	current, err := l.store.GetExecution(ctx, created.ID)
	if err != nil {
		return nil, storeError("reload execution", err)
	}
	return current, nil
}

// Succeed finalises a RUNNING record with the run's final context.
func (l *Lifecycle) Succeed(ctx context.Context, id string, output flowctx.Context) (*schema.ExecutionRecord, error) {
	raw, err := xjson.Marshal(output.Map())
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "final context is not serializable").WithCause(err)
	}
	return l.finish(ctx, id, store.ExecutionResult{
		Status: schema.ExecutionSuccess,
		Output: raw,
	}, nil)
}

// Fail finalises a RUNNING record as FAILED, keeping the error message and
// a stack made of the error chain and the goroutine stack at this call.
func (l *Lifecycle) Fail(ctx context.Context, id string, cause error) (*schema.ExecutionRecord, error) {
	if cause == nil {
		cause = errors.New("execution failed")
	}
	payload := map[string]any{"error": cause.Error()}
	var fe *schema.FlowError
	if errors.As(cause, &fe) {
		payload["code"] = fe.Code
		if fe.NodeID != "" {
			payload["nodeId"] = fe.NodeID
		}
	}
	return l.finish(ctx, id, store.ExecutionResult{
		Status:     schema.ExecutionFailed,
		Error:      cause.Error(),
		ErrorStack: errorStack(cause),
	}, payload)
}

func (l *Lifecycle) finish(ctx context.Context, id string, result store.ExecutionResult, payload map[string]any) (*schema.ExecutionRecord, error) {
	current, err := l.store.GetExecution(ctx, id)
	if err != nil {
		return nil, storeError("load execution", err)
	}
	if !CanTransition(current.Status, result.Status) {
		return current, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", current.Status, result.Status).
			WithDetails(map[string]any{"execution_id": id, "from": string(current.Status), "to": string(result.Status)})
	}

	now := l.now()
	result.CompletedAt = now
	if err := l.store.FinishExecution(ctx, id, result); err != nil {
		return nil, storeError("finish execution", err)
	}

	eventType := schema.EventExecutionSucceeded
	if result.Status == schema.ExecutionFailed {
		eventType = schema.EventExecutionFailed
	}
	l.emit(ctx, id, eventType, payload)

	return l.store.GetExecution(ctx, id)
}

// emit appends a lifecycle event. The event log is an audit trail: a failed
// append is logged and does not undo the transition.
func (l *Lifecycle) emit(ctx context.Context, executionID, eventType string, payload map[string]any) {
	var raw xjson.RawMessage
	if payload != nil {
		raw, _ = xjson.Marshal(payload)
	}
	if err := l.store.AppendEvent(ctx, &store.Event{ExecutionID: executionID, Type: eventType, Payload: raw}); err != nil {
		l.logger.WarnContext(ctx, "failed to append lifecycle event",
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}

// storeError keeps classified errors and marks the rest as store failures.
func storeError(op string, err error) error {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func errorStack(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			b.WriteString("caused by: ")
		}
		b.WriteString(err.Error())
		b.WriteByte('\n')
		err = errors.Unwrap(err)
	}
	b.WriteByte('\n')
	b.Write(debug.Stack())
	return b.String()
}
