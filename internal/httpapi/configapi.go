package httpapi

import (
	"net/http"
	"slices"

	"github.com/maziarzamani/spaceduck-sub000/internal/config"
	"github.com/maziarzamani/spaceduck-sub000/internal/hotswap"
	"github.com/maziarzamani/spaceduck-sub000/internal/provider"
)

// handleConfig serves GET and PATCH /api/config.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleConfigGet(w, r)
	case http.MethodPatch:
		s.handleConfigPatch(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Config.GetRedacted()
	w.Header().Set("ETag", snap.Rev)
	writeJSON(w, http.StatusOK, map[string]any{
		"config":       snap.Config,
		"rev":          snap.Rev,
		"secrets":      snap.Secrets,
		"capabilities": detectCapabilities(),
	})
}

// patchOpWire is the JSON Patch-style op shape clients send
// ({op:"replace"|"add"|"remove", path, value?}); add and replace both
// map onto the store's "set".
type patchOpWire struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

func (s *Server) handleConfigPatch(w http.ResponseWriter, r *http.Request) {
	expectedRev := r.Header.Get("If-Match")
	if expectedRev == "" {
		writeError(w, http.StatusPreconditionRequired, "MISSING_IF_MATCH")
		return
	}

	var wireOps []patchOpWire
	if err := decodeBody(r, &wireOps); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	ops := make([]config.PatchOp, 0, len(wireOps))
	var changed []string
	for _, op := range wireOps {
		switch op.Op {
		case "add", "replace":
			ops = append(ops, config.PatchOp{Op: "set", Path: op.Path, Value: op.Value})
		case "remove":
			ops = append(ops, config.PatchOp{Op: "remove", Path: op.Path})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "INVALID_OP", "op": op.Op})
			return
		}
		if !slices.Contains(changed, op.Path) {
			changed = append(changed, op.Path)
		}
	}

	result := s.deps.Config.Patch(ops, expectedRev)
	switch {
	case result.Conflict:
		writeJSON(w, http.StatusConflict, map[string]any{"error": "CONFLICT", "rev": result.ActualRev})
		return
	case result.Validation:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "VALIDATION", "issues": result.Issues})
		return
	case result.PatchError:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "INVALID_PATH", "message": result.ErrorMessage})
		return
	}

	// The write is durable at this point; hot-swap failures downgrade
	// to warnings and never unwind it.
	var warnings []config.Warning
	if s.deps.Coordinator != nil {
		warnings = s.deps.Coordinator.Apply(r.Context(), s.deps.Config.Current(), changed)
		s.countSwaps(warnings)
	}

	resp := map[string]any{"ok": true, "rev": result.NewRev}
	if len(result.NeedsRestart) > 0 {
		resp["needsRestart"] = map[string]any{"fields": result.NeedsRestart}
	}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	w.Header().Set("ETag", result.NewRev)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) countSwaps(warnings []config.Warning) {
	if s.deps.Metrics == nil {
		return
	}
	for _, warning := range warnings {
		s.deps.Metrics.SwapsTotal.WithLabelValues(warning.Code, "failed").Inc()
	}
}

type secretRequest struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value,omitempty"`
}

// handleConfigSecrets serves POST /api/config/secrets. Secret writes
// never change the config revision but do trigger rebuilds of any
// component keyed on the mutated secret path.
func (s *Server) handleConfigSecrets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req secretRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	if !slices.Contains(config.SecretPaths(), req.Path) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "INVALID_PATH", "path": req.Path})
		return
	}

	var err error
	switch req.Op {
	case "set":
		err = s.deps.Config.SetSecret(req.Path, req.Value)
	case "unset":
		err = s.deps.Config.UnsetSecret(req.Path)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "INVALID_OP", "op": req.Op})
		return
	}
	if err != nil {
		s.logError(r.Context(), "httpapi: secret write", "path", req.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	var warnings []config.Warning
	if s.deps.Coordinator != nil {
		warnings = s.deps.Coordinator.Apply(r.Context(), s.deps.Config.Current(), []string{req.Path})
		s.countSwaps(warnings)
	}

	resp := map[string]any{"ok": true}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProviderStatus serves GET /api/config/provider-status: probe
// the live provider without writing anything.
func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, provider.Probe(r.Context(), s.deps.Provider))
}

type providerTestRequest struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

// handleProviderTest serves POST /api/config/provider-test: build a
// candidate provider from the current document overlaid with the
// request's fields and probe it, without touching the stored config or
// the live proxy.
func (s *Server) handleProviderTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req providerTestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	doc := s.deps.Config.Current()
	if req.Provider != "" {
		doc.AI.Provider = req.Provider
	}
	if req.Model != "" {
		doc.AI.Model = req.Model
	}
	if req.BaseURL != "" {
		doc.AI.BaseURL = req.BaseURL
	}

	candidate, err := hotswap.BuildProvider(doc, s.deps.Config)
	if err != nil {
		writeJSON(w, http.StatusOK, provider.ProbeResult{OK: false, Error: err.Error(), Code: "UNKNOWN"})
		return
	}

	writeJSON(w, http.StatusOK, provider.Probe(r.Context(), candidate))
}

// handleEmbeddingStatus serves GET /api/config/embedding-status.
func (s *Server) handleEmbeddingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.deps.Config.Current().Embedding.Enabled {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "embedding disabled"})
		return
	}
	writeJSON(w, http.StatusOK, provider.ProbeEmbedding(r.Context(), s.deps.Embedding))
}
