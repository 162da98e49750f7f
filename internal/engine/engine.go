// Package engine drives workflow runs: it orders a graph, walks its nodes
// through their executors and keeps the execution record in step with the
// outcome. The Runtime adds worker-pool dispatch and whole-run retries.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rendis/nodeflow/internal/flowctx"
	"github.com/rendis/nodeflow/internal/graph"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/steps"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// WorkflowSource loads the graph a trigger event refers to.
type WorkflowSource interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
}

// ExecutorSource resolves node types to executors. Satisfied by *nodes.Registry.
type ExecutorSource interface {
	Get(t schema.NodeType) (nodes.Executor, error)
}

// Config holds engine behaviour switches.
type Config struct {
	// StrictGraph rejects graphs with more than one manual trigger or with
	// two nodes writing the same output variable.
	StrictGraph bool
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{StrictGraph: true}
}

// Result is the outcome of one Execute call.
type Result struct {
	Record  *schema.ExecutionRecord `json:"record"`
	Context flowctx.Context         `json:"context"`
}

// Engine executes workflow graphs one node at a time.
type Engine struct {
	cfg       Config
	workflows WorkflowSource
	lifecycle *Lifecycle
	records   RecordStore
	executors ExecutorSource
	memo      steps.MemoStore
	hub       streaming.EventHub
	logger    *slog.Logger
}

// Deps are the collaborators an Engine is built from.
type Deps struct {
	Workflows WorkflowSource
	Records   RecordStore
	Executors ExecutorSource
	Memo      steps.MemoStore
	Hub       streaming.EventHub // optional; status events are dropped when nil
	Logger    *slog.Logger
}

// New creates an Engine.
func New(cfg Config, d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		cfg:       cfg,
		workflows: d.Workflows,
		lifecycle: NewLifecycle(d.Records, logger),
		records:   d.Records,
		executors: d.Executors,
		memo:      d.Memo,
		hub:       d.Hub,
		logger:    logger,
	}
}

// Lifecycle exposes the record manager used by the engine.
func (e *Engine) Lifecycle() *Lifecycle {
	return e.lifecycle
}

// Execute performs one invocation of the run identified by ev.TriggerEventID.
//
// Graph problems are reported before any record exists. A duplicate delivery
// of a finished run returns the stored record untouched. A terminal node
// failure finalises the record as FAILED; a retriable one is returned with
// the record left RUNNING so a later invocation can resume from the
// memoized steps.
func (e *Engine) Execute(ctx context.Context, ev schema.TriggerEvent) (*Result, error) {
	if ev.WorkflowID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "trigger event has no workflowId")
	}
	if ev.TriggerEventID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "trigger event has no triggerEventId")
	}
	ctx = logging.WithWorkflowID(ctx, ev.WorkflowID)

	wf, err := e.workflows.GetWorkflow(ctx, ev.WorkflowID)
	if err != nil {
		return nil, err
	}
	if e.cfg.StrictGraph {
		if err := graph.CheckStrict(&wf.Graph).ToError(); err != nil {
			return nil, err
		}
	}
	order, err := graph.Schedule(&wf.Graph)
	if err != nil {
		return nil, err
	}

	runner := steps.NewRunner(ev.TriggerEventID, e.memo, e.logger)
	rec, err := e.lifecycle.Begin(ctx, runner, ev)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithExecutionID(ctx, rec.ID)
	log := logging.LogWith(ctx, e.logger)

	if rec.Status.Terminal() {
		log.InfoContext(ctx, "execution already finished", slog.String("status", string(rec.Status)))
		return &Result{Record: rec}, nil
	}

	fctx, err := flowctx.New(ev.InitialData)
	if err != nil {
		return e.fail(ctx, rec, err)
	}

	var publisher streaming.Publisher = streaming.Nop{}
	if e.hub != nil {
		publisher = streaming.NewPublisher(e.hub, wf.ID, rec.ID, e.logger)
	}

	for _, node := range order {
		executor, err := e.executors.Get(node.Type)
		if err != nil {
			var fe *schema.FlowError
			if errors.As(err, &fe) && fe.NodeID == "" {
				fe.WithNode(node.ID)
			}
			return e.fail(ctx, rec, err)
		}

		next, err := executor.Execute(ctx, nodes.Input{
			Node:    node,
			Context: fctx,
			Steps:   runner,
			Status:  publisher,
			OwnerID: wf.OwnerID,
		})
		if err != nil {
			if schema.IsRetryable(err) {
				log.WarnContext(ctx, "node failed, run left for retry",
					slog.String("node_id", node.ID),
					slog.String("error", err.Error()),
				)
				return &Result{Record: rec, Context: fctx}, err
			}
			if ctx.Err() != nil {
				// Shutdown: leave the record RUNNING for the next invocation.
				return &Result{Record: rec, Context: fctx}, err
			}
			return e.fail(ctx, rec, err)
		}
		fctx = next
	}

	done, err := e.lifecycle.Succeed(ctx, rec.ID, fctx)
	if err != nil {
		return &Result{Record: done, Context: fctx}, err
	}
	log.InfoContext(ctx, "execution succeeded", slog.Int("nodes", len(order)))
	return &Result{Record: done, Context: fctx}, nil
}

func (e *Engine) fail(ctx context.Context, rec *schema.ExecutionRecord, cause error) (*Result, error) {
	logging.LogWith(ctx, e.logger).WarnContext(ctx, "execution failed", slog.String("error", cause.Error()))
	failed, err := e.lifecycle.Fail(ctx, rec.ID, cause)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to record execution failure", slog.String("error", err.Error()))
		failed = rec
	}
	return &Result{Record: failed}, cause
}

// Fail finalises the RUNNING record of ev as FAILED with cause.
func (e *Engine) Fail(ctx context.Context, ev schema.TriggerEvent, cause error) (*schema.ExecutionRecord, error) {
	rec, err := e.records.GetExecutionByTrigger(ctx, ev.TriggerEventID)
	if err != nil {
		return nil, err
	}
	return e.FailExecution(ctx, rec.ID, cause)
}

// FailExecution finalises a RUNNING record by id.
func (e *Engine) FailExecution(ctx context.Context, executionID string, cause error) (*schema.ExecutionRecord, error) {
	ctx = logging.WithExecutionID(ctx, executionID)
	return e.lifecycle.Fail(ctx, executionID, cause)
}
