package api

import (
	"net/http"

	"github.com/rendis/nodeflow/internal/diagram"
)

// handleWorkflowDiagram renders a workflow graph as mermaid (default),
// ascii, png or svg.
func (s *Server) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wf, err := s.deps.Store.GetWorkflow(ctx, r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}

	model, err := diagram.Build(wf.Name, &wf.Graph, nil)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(diagram.RenderMermaid(model)))
	case "ascii":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(diagram.RenderASCII(model)))
	case "png", "svg":
		img, err := diagram.RenderImage(ctx, model, diagram.Format(format))
		if err != nil {
			writeFlowError(w, err)
			return
		}
		if format == "png" {
			w.Header().Set("Content-Type", "image/png")
		} else {
			w.Header().Set("Content-Type", "image/svg+xml")
		}
		w.Write(img)
	default:
		writeError(w, http.StatusBadRequest, "unsupported format "+format)
	}
}
