package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/maziarzamani/spaceduck-sub000/internal/tools"
)

// handleToolsStatus serves GET /api/tools/status: the currently
// registered tool set. The registry itself is prebuilt by the hot-swap
// coordinator, so this read is cheap and reflects the live gates.
func (s *Server) handleToolsStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	registry := s.deps.Tools.Current()
	defs := registry.GetDefinitions()
	names := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		names = append(names, map[string]any{"name": d.Name, "description": d.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": registry.Size(), "tools": names})
}

type toolTestRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// handleToolsTest serves POST /api/tools/test: actively executes the
// named tool with the provided arguments under a short deadline.
func (s *Server) handleToolsTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req toolTestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	registry := s.deps.Tools.Current()
	if !registry.Has(req.Tool) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "UNKNOWN_TOOL", "tool": req.Tool})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	result, err := registry.Execute(ctx, tools.Call{ID: "test", Name: req.Tool, Args: req.Args})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      !result.IsError,
		"content": result.Content,
		"isError": result.IsError,
	})
}
