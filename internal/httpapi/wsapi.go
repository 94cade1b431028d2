package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/maziarzamani/spaceduck-sub000/internal/auth"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
	"github.com/maziarzamani/spaceduck-sub000/internal/ws"
)

// The upgrader echoes any origin — same permissive posture as the CORS
// middleware; the bearer token is the trust boundary, not the origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket upgrades GET /ws after verifying the token (browsers
// cannot set Authorization on a WebSocket handshake, so ?token= is
// accepted too) and pumps inbound frames into the dispatcher until the
// peer goes away. In-flight agent runs continue to completion after
// the socket closes; they persist regardless.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var token *store.Token
	if s.authRequired() {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		verified, err := s.deps.Auth.VerifyToken(r.Context(), raw)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) {
				s.logError(r.Context(), "httpapi: ws token verify", "err", err)
			}
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		token = verified
	} else {
		token = &store.Token{ID: "synthetic", DeviceName: "auth-disabled"}
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure response.
		s.log.Warn("httpapi: ws upgrade failed", "err", err)
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.WSConnections.Inc()
		defer s.deps.Metrics.WSConnections.Dec()
	}

	conn := ws.NewConn(wsConn, token.ID, "ws")
	s.log.Info("ws connection opened", "sender_id", conn.SenderID)
	defer func() {
		wsConn.Close()
		s.log.Info("ws connection closed", "sender_id", conn.SenderID)
	}()

	for {
		msgType, frame, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.deps.Dispatcher.Handle(r.Context(), conn, frame)
	}
}
