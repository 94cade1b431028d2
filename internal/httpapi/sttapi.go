package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/maziarzamani/spaceduck-sub000/internal/stt"
)

// handleTranscribe serves POST /api/stt/transcribe: the request body is
// streamed to a temp file under the upload byte cap, handed to the
// active STT backend, and the temp file is removed on every path.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	maxBytes := int64(s.deps.Config.Current().Gateway.MaxUploadMB) << 20
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}

	tmp, err := os.CreateTemp("", "spaceduck-stt-*")
	if err != nil {
		s.logError(r.Context(), "httpapi: stt temp file", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	n, err := io.Copy(tmp, io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		s.logError(r.Context(), "httpapi: stt body copy", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	if n > maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE")
		return
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		s.logError(r.Context(), "httpapi: stt temp seek", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.deps.STTTimeout)
	defer cancel()

	transcript, err := s.deps.STT.Transcribe(ctx, tmp)
	if errors.Is(err, stt.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "STT_UNAVAILABLE")
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT")
		return
	}
	if err != nil {
		s.logError(r.Context(), "httpapi: stt transcribe", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transcript": transcript})
}
