// Package httpapi implements the gateway's HTTP surface: the
// unauthenticated probes and pairing endpoints, the authenticated
// config/tool/STT/scheduler REST routes, the upload endpoint, and the
// WebSocket upgrade.
//
// Routes live on a plain *http.ServeMux with method checks inside each
// handler; Start binds the listener before returning so callers can
// issue requests immediately.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/maziarzamani/spaceduck-sub000/common/trace"
	"github.com/maziarzamani/spaceduck-sub000/internal/attachments"
	"github.com/maziarzamani/spaceduck-sub000/internal/auth"
	"github.com/maziarzamani/spaceduck-sub000/internal/config"
	"github.com/maziarzamani/spaceduck-sub000/internal/hotswap"
	"github.com/maziarzamani/spaceduck-sub000/internal/metrics"
	"github.com/maziarzamani/spaceduck-sub000/internal/provider"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
	"github.com/maziarzamani/spaceduck-sub000/internal/stt"
	"github.com/maziarzamani/spaceduck-sub000/internal/tools"
	"github.com/maziarzamani/spaceduck-sub000/internal/ws"
)

// Deps bundles everything the HTTP surface serves or mutates.
type Deps struct {
	Config      *config.Store
	Auth        *auth.Gate
	DB          *store.Store
	Attachments *attachments.Store
	Provider    *provider.Swappable
	Embedding   *provider.SwappableEmbedding
	Tools       *tools.Swappable
	STT         *stt.Swappable
	Coordinator *hotswap.Coordinator
	Dispatcher  *ws.Dispatcher
	Metrics     *metrics.Metrics

	GatewayID   string
	GatewayName string

	// ForceAuthDisabled mirrors the deployment-level auth flag: when
	// set, every request gets the synthetic token regardless of the
	// config document. The prominent startup warning for this mode is
	// cmd/spaceduckd's job.
	ForceAuthDisabled bool

	// STTTimeout bounds one transcription run; zero means 5 minutes.
	STTTimeout time.Duration

	Log *slog.Logger
}

// Server is the gateway HTTP server.
type Server struct {
	deps      Deps
	log       *slog.Logger
	startedAt time.Time
	server    *http.Server
}

// New creates a Server listening on addr once Start is called.
func New(addr string, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if deps.STTTimeout <= 0 {
		deps.STTTimeout = 5 * time.Minute
	}

	s := &Server{deps: deps, log: log, startedAt: time.Now()}

	mux := http.NewServeMux()

	// Unauthenticated surface.
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/capabilities", s.handleCapabilities)
	mux.HandleFunc("/api/system/profile", s.handleSystemProfile)
	mux.HandleFunc("/api/gateway/public-info", s.handlePublicInfo)
	mux.HandleFunc("/api/pair/start", s.handlePairStart)
	mux.HandleFunc("/api/pair/confirm", s.handlePairConfirm)
	mux.HandleFunc("/pair", s.handlePairPage)

	// Authenticated surface.
	mux.HandleFunc("/api/gateway/info", s.requireAuth(s.handleGatewayInfo))
	mux.HandleFunc("/api/tokens", s.requireAuth(s.handleTokens))
	mux.HandleFunc("/api/tokens/revoke", s.requireAuth(s.handleTokenRevoke))
	mux.HandleFunc("/api/conversations", s.requireAuth(s.handleConversations))
	mux.HandleFunc("/api/upload", s.requireAuth(s.handleUpload))
	mux.HandleFunc("/api/config", s.requireAuth(s.handleConfig))
	mux.HandleFunc("/api/config/secrets", s.requireAuth(s.handleConfigSecrets))
	mux.HandleFunc("/api/config/provider-status", s.requireAuth(s.handleProviderStatus))
	mux.HandleFunc("/api/config/provider-test", s.requireAuth(s.handleProviderTest))
	mux.HandleFunc("/api/config/embedding-status", s.requireAuth(s.handleEmbeddingStatus))
	mux.HandleFunc("/api/tools/status", s.requireAuth(s.handleToolsStatus))
	mux.HandleFunc("/api/tools/test", s.requireAuth(s.handleToolsTest))
	mux.HandleFunc("/api/stt/transcribe", s.requireAuth(s.handleTranscribe))
	mux.HandleFunc("/api/tasks", s.requireAuth(s.handleTasks))
	mux.HandleFunc("/api/tasks/budget", s.requireAuth(s.handleTasksBudget))
	mux.HandleFunc("/api/tasks/", s.requireAuth(s.handleTaskByID))
	mux.HandleFunc("/ws", s.handleWebSocket)

	if deps.Metrics != nil {
		mux.Handle("/api/metrics", deps.Metrics.Handler())
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withCORS(mux),
		ReadTimeout:  10 * time.Minute, // uploads and STT bodies stream through here
		WriteTimeout: 0,                // WS and streaming responses manage their own deadlines
	}
	return s
}

// Handler exposes the fully wired handler chain, for tests driving the
// server through httptest instead of a bound listener.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the listener and begins serving in a background
// goroutine. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", s.server.Addr, err)
	}
	s.log.Info("http server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = s.server.Shutdown(context.Background())
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// withCORS applies the permissive CORS policy — echo the
// origin, expose ETag, accept If-Match — assigns each request a trace
// id for log correlation, and counts requests.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := trace.GenerateID()
		r = r.WithContext(trace.WithTraceID(r.Context(), traceID))
		w.Header().Set("X-Trace-Id", traceID)

		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, If-Match")
		w.Header().Set("Access-Control-Expose-Headers", "ETag, If-Match")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if s.deps.Metrics != nil {
			s.deps.Metrics.RequestsTotal.WithLabelValues(routeClass(r.URL.Path), fmt.Sprintf("%d", rec.status)).Inc()
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the wrapped writer so the WebSocket upgrade
// still works behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("httpapi: response writer does not support hijacking")
	}
	return h.Hijack()
}

// routeClass collapses a request path to its first two segments so the
// metric's label cardinality stays bounded (task IDs never become
// label values).
func routeClass(path string) string {
	segs := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(segs) >= 2 {
		return "/" + segs[0] + "/" + segs[1]
	}
	return "/" + segs[0]
}

type contextKey string

const tokenContextKey contextKey = "httpapi.token"

// requireAuth verifies the bearer token before invoking next. When the
// deployment has auth disabled, a synthetic token is injected so
// downstream handlers stay uniform — the startup warning for that mode
// is logged by cmd/spaceduckd, not here.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authRequired() {
			synthetic := &store.Token{ID: "synthetic", DeviceName: "auth-disabled"}
			next(w, r.WithContext(context.WithValue(r.Context(), tokenContextKey, synthetic)))
			return
		}

		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		token, err := s.deps.Auth.VerifyToken(r.Context(), raw)
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if err != nil {
			s.logError(r.Context(), "httpapi: verify token", "err", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), tokenContextKey, token)))
	}
}

// authRequired combines the deployment flag with the config document's
// gateway.authRequired bit, re-read per request so a config change
// takes effect without a rebuild.
func (s *Server) authRequired() bool {
	return !s.deps.ForceAuthDisabled && s.deps.Config.Current().Gateway.AuthRequired
}

// bearerToken extracts the raw token from the Authorization header, or
// from the token query parameter for WebSocket clients that cannot set
// headers.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func tokenFromContext(ctx context.Context) *store.Token {
	t, _ := ctx.Value(tokenContextKey).(*store.Token)
	return t
}

// logError logs an internal failure with the request's trace id, so an
// opaque 500 body can be matched to its server-side log line.
func (s *Server) logError(ctx context.Context, msg string, args ...any) {
	s.log.Error(msg, append(args, "trace_id", trace.FromContext(ctx))...)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errStr string) {
	writeJSON(w, code, map[string]string{"error": errStr})
}

func decodeBody(r *http.Request, v any) error {
	defer io.Copy(io.Discard, r.Body)
	return json.NewDecoder(r.Body).Decode(v)
}
