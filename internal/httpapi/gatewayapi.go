package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/maziarzamani/spaceduck-sub000/common/version"
	"github.com/maziarzamani/spaceduck-sub000/internal/attachments"
)

// handleGatewayInfo serves GET /api/gateway/info.
func (s *Server) handleGatewayInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token := tokenFromContext(r.Context())
	resp := map[string]any{
		"gatewayId":     s.deps.GatewayID,
		"gatewayName":   s.deps.GatewayName,
		"version":       version.Version,
		"uptimeSeconds": time.Since(s.startedAt).Seconds(),
	}
	if token != nil {
		resp["device"] = token.DeviceName
	}
	writeJSON(w, http.StatusOK, resp)
}

type tokenWire struct {
	ID         string     `json:"id"`
	DeviceName string     `json:"deviceName,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

// handleTokens serves GET /api/tokens. Hashes never leave the store.
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	list, err := s.deps.Auth.ListTokens(r.Context())
	if err != nil {
		s.logError(r.Context(), "httpapi: list tokens", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	out := make([]tokenWire, 0, len(list))
	for _, t := range list {
		out = append(out, tokenWire{
			ID:         t.ID,
			DeviceName: t.DeviceName,
			CreatedAt:  t.CreatedAt,
			LastUsedAt: t.LastUsedAt,
			RevokedAt:  t.RevokedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

type revokeRequest struct {
	ID string `json:"id"`
}

// handleTokenRevoke serves POST /api/tokens/revoke.
func (s *Server) handleTokenRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req revokeRequest
	if err := decodeBody(r, &req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	if err := s.deps.Auth.RevokeToken(r.Context(), req.ID); err != nil {
		s.logError(r.Context(), "httpapi: revoke token", "token_id", req.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleConversations serves GET /api/conversations.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	convs, err := s.deps.DB.ListConversations(r.Context())
	if err != nil {
		s.logError(r.Context(), "httpapi: list conversations", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	type convWire struct {
		ID         string    `json:"id"`
		Title      string    `json:"title,omitempty"`
		LastActive time.Time `json:"lastActive"`
	}
	out := make([]convWire, 0, len(convs))
	for _, c := range convs {
		out = append(out, convWire{ID: c.ID, Title: c.Title, LastActive: c.LastActive})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// handleUpload serves POST /api/upload: multipart field "file" is
// streamed into the attachment store under the configured byte cap.
// Only the opaque attachment id crosses back to the client.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Attachments == nil {
		writeError(w, http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE")
		return
	}

	maxBytes := int64(s.deps.Config.Current().Gateway.MaxUploadMB) << 20
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_TYPE")
		return
	}
	defer file.Close()

	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}

	att, err := s.deps.Attachments.Save(r.Context(), header.Filename, mime, file, maxBytes)
	if err != nil {
		if errors.Is(err, attachments.ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE")
			return
		}
		s.logError(r.Context(), "httpapi: upload", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusCreated, att)
}
