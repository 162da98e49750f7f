// Package api exposes workflow triggers, inbound webhooks, execution lookup
// and the live node status stream over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Store is the read side the API needs. Satisfied by store.Store.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	GetExecution(ctx context.Context, id string) (*schema.ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*schema.ExecutionRecord, error)
}

// Dispatcher starts runs in the background. Satisfied by *engine.Runtime.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev schema.TriggerEvent) (bool, error)
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Store      Store
	Dispatcher Dispatcher
	Hub        streaming.EventHub
	Logger     *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Triggers.
	mux.HandleFunc("POST /api/workflows/{id}/execute", s.handleExecute)
	mux.HandleFunc("POST /api/webhooks/google-form", s.handleGoogleForm)
	mux.HandleFunc("POST /api/webhooks/stripe", s.handleStripe)

	// Workflows.
	mux.HandleFunc("GET /api/workflows/{id}/diagram", s.handleWorkflowDiagram)

	// Executions.
	mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)

	// Status stream.
	mux.HandleFunc("GET /sse/status", s.handleSSEStatus)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}
