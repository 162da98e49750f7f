package api

import (
	"net/http"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Store.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ExecutionFilter{
		WorkflowID: q.Get("workflowId"),
		Limit:      queryInt(r, "limit", defaultListLimit),
	}
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = defaultListLimit
	}
	if v := q.Get("status"); v != "" {
		status := schema.ExecutionStatus(v)
		switch status {
		case schema.ExecutionPending, schema.ExecutionRunning, schema.ExecutionSuccess, schema.ExecutionFailed:
		default:
			writeError(w, http.StatusBadRequest, "unknown status "+v)
			return
		}
		filter.Status = &status
	}

	recs, err := s.deps.Store.ListExecutions(r.Context(), filter)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if recs == nil {
		recs = []*schema.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": recs})
}
