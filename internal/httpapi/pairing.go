package httpapi

import (
	"html/template"
	"net/http"

	"github.com/maziarzamani/spaceduck-sub000/internal/auth"
)

// handlePublicInfo serves GET /api/gateway/public-info.
func (s *Server) handlePublicInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gatewayId":    s.deps.GatewayID,
		"gatewayName":  s.deps.GatewayName,
		"requiresAuth": s.authRequired(),
	})
}

// handlePairStart serves POST /api/pair/start. An active (unexpired,
// unused) pairing session is reused so repeated clicks in a client
// don't mint competing codes.
func (s *Server) handlePairStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, err := s.deps.Auth.ActiveOrNewPairingSession(r.Context())
	if err != nil {
		s.logError(r.Context(), "httpapi: pair start", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pairingId": p.ID,
		"codeHint":  p.Code[:1] + "•••••",
		"expiresAt": p.ExpiresAt,
	})
}

type pairConfirmRequest struct {
	PairingID  string `json:"pairingId"`
	Code       string `json:"code"`
	DeviceName string `json:"deviceName,omitempty"`
}

// handlePairConfirm serves POST /api/pair/confirm, mapping each
// pairing outcome onto its HTTP status.
func (s *Server) handlePairConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req pairConfirmRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	result, token, err := s.deps.Auth.ConfirmPairing(r.Context(), req.PairingID, req.Code, req.DeviceName)
	if err != nil {
		s.logError(r.Context(), "httpapi: pair confirm", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.PairingsTotal.WithLabelValues(string(result)).Inc()
	}

	switch result {
	case auth.ConfirmOK:
		writeJSON(w, http.StatusOK, map[string]any{
			"token":       token,
			"gatewayId":   s.deps.GatewayID,
			"gatewayName": s.deps.GatewayName,
		})
	case auth.ConfirmWrongCode:
		writeError(w, http.StatusUnauthorized, string(result))
	case auth.ConfirmAlreadyUsed:
		writeError(w, http.StatusUnauthorized, string(result))
	case auth.ConfirmExpired:
		writeError(w, http.StatusGone, string(result))
	case auth.ConfirmRateLimited:
		writeError(w, http.StatusTooManyRequests, string(result))
	case auth.ConfirmNotFound:
		writeError(w, http.StatusNotFound, string(result))
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
	}
}

var pairPageTemplate = template.Must(template.New("pair").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>{{.Name}} — pairing</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4rem">
<h1>{{.Name}}</h1>
<p>Enter this code in your client to pair:</p>
<p style="font-size: 3rem; letter-spacing: 0.5rem" id="code">{{.Code}}</p>
<p>The code expires at {{.ExpiresAt}}.</p>
</body>
</html>
`))

// handlePairPage serves GET /pair: the tiny HTML page a human reads
// the six-digit code from.
func (s *Server) handlePairPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, err := s.deps.Auth.ActiveOrNewPairingSession(r.Context())
	if err != nil {
		s.logError(r.Context(), "httpapi: pair page", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = pairPageTemplate.Execute(w, map[string]any{
		"Name":      s.deps.GatewayName,
		"Code":      p.Code,
		"ExpiresAt": p.ExpiresAt.Format("15:04:05"),
	})
}
