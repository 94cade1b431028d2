package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/maziarzamani/spaceduck-sub000/common/trace"
	"github.com/maziarzamani/spaceduck-sub000/internal/agent"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

// AgentLoop is the subset of internal/agent.Loop the dispatcher drives.
type AgentLoop interface {
	RunTurn(ctx context.Context, conversationID, userText string, sink agent.EventSink) (string, error)
}

// Dispatcher routes inbound envelopes from one connection to the
// conversation store and agent loop, and is safe to reuse across
// connections (it holds no per-connection state itself).
type Dispatcher struct {
	db    *store.Store
	agent AgentLoop
	log   *slog.Logger
}

// New returns a Dispatcher wired to db and agentLoop.
func New(db *store.Store, agentLoop AgentLoop, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{db: db, agent: agentLoop, log: log}
}

// Handle validates and routes one inbound frame. Shape errors (bad
// JSON, missing v/type, unsupported version, unknown type) are reported
// on conn directly and never reach a type-specific handler.
func (d *Dispatcher) Handle(ctx context.Context, conn *Conn, frame []byte) {
	env, code, err := parseEnvelope(frame)
	if err != nil {
		if sendErr := conn.SendError(code, err.Error()); sendErr != nil {
			d.log.Warn("ws: failed to send error envelope", "err", sendErr)
		}
		return
	}

	switch env.Type {
	case "message.send":
		d.handleMessageSend(ctx, conn, env.Raw)
	case "conversation.list":
		d.handleConversationList(ctx, conn)
	case "conversation.history":
		d.handleConversationHistory(ctx, conn, env.Raw)
	case "conversation.create":
		d.handleConversationCreate(ctx, conn, env.Raw)
	case "conversation.delete":
		d.handleConversationDelete(ctx, conn, env.Raw)
	default:
		if sendErr := conn.SendError(ErrUnknownType, fmt.Sprintf("unknown type %q", env.Type)); sendErr != nil {
			d.log.Warn("ws: failed to send error envelope", "err", sendErr)
		}
	}
}

type messageSendPayload struct {
	RequestID      string `json:"requestId"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId,omitempty"`
}

// handleMessageSend acknowledges the request synchronously, then runs
// the agent loop in its own goroutine so a conversation already busy
// behind the run lock never blocks this connection's ability to accept
// other requests — processing.started for the queued request simply
// arrives later, once RunTurn actually acquires the lock.
func (d *Dispatcher) handleMessageSend(ctx context.Context, conn *Conn, raw json.RawMessage) {
	var payload messageSendPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		_ = conn.SendError(ErrInvalidEnvelope, "message.send: "+err.Error())
		return
	}
	if payload.RequestID == "" || payload.Content == "" {
		_ = conn.SendError(ErrInvalidEnvelope, "message.send: requestId and content are required")
		return
	}

	conversationID := payload.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
		if err := d.db.CreateConversation(ctx, &store.Conversation{ID: conversationID}); err != nil {
			_ = conn.SendError(ErrInvalidEnvelope, "message.send: "+err.Error())
			return
		}
	}

	if err := conn.Accepted(payload.RequestID); err != nil {
		d.log.Warn("ws: send accepted failed", "err", err)
		return
	}

	go func() {
		// The turn outlives the request context (a closed socket never
		// cancels a run), but keeps its trace id so the run's log lines
		// still correlate with the originating frame.
		turnCtx := trace.WithTraceID(context.Background(), trace.FromContext(ctx))
		sink := &turnSink{conn: conn, requestID: payload.RequestID}
		if _, err := d.agent.RunTurn(turnCtx, conversationID, payload.Content, sink); err != nil {
			d.log.Warn("ws: turn failed", "conversation_id", conversationID, "trace_id", trace.FromContext(ctx), "err", err)
		}
	}()
}

func (d *Dispatcher) handleConversationList(ctx context.Context, conn *Conn) {
	convs, err := d.db.ListConversations(ctx)
	if err != nil {
		_ = conn.SendError(ErrInvalidEnvelope, "conversation.list: "+err.Error())
		return
	}
	_ = conn.SendTyped("conversation.list", map[string]any{"conversations": convs})
}

type conversationHistoryPayload struct {
	ConversationID string `json:"conversationId"`
}

func (d *Dispatcher) handleConversationHistory(ctx context.Context, conn *Conn, raw json.RawMessage) {
	var payload conversationHistoryPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ConversationID == "" {
		_ = conn.SendError(ErrInvalidEnvelope, "conversation.history: conversationId is required")
		return
	}
	msgs, err := d.db.ListMessages(ctx, payload.ConversationID)
	if err != nil {
		_ = conn.SendError(ErrInvalidEnvelope, "conversation.history: "+err.Error())
		return
	}
	_ = conn.SendTyped("conversation.history", map[string]any{"messages": msgs})
}

type conversationCreatePayload struct {
	Title string `json:"title,omitempty"`
}

func (d *Dispatcher) handleConversationCreate(ctx context.Context, conn *Conn, raw json.RawMessage) {
	var payload conversationCreatePayload
	_ = json.Unmarshal(raw, &payload)

	id := uuid.NewString()
	if err := d.db.CreateConversation(ctx, &store.Conversation{ID: id, Title: payload.Title}); err != nil {
		_ = conn.SendError(ErrInvalidEnvelope, "conversation.create: "+err.Error())
		return
	}
	_ = conn.SendTyped("conversation.created", map[string]any{"conversationId": id})
}

type conversationDeletePayload struct {
	ConversationID string `json:"conversationId"`
}

func (d *Dispatcher) handleConversationDelete(ctx context.Context, conn *Conn, raw json.RawMessage) {
	var payload conversationDeletePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ConversationID == "" {
		_ = conn.SendError(ErrInvalidEnvelope, "conversation.delete: conversationId is required")
		return
	}
	if err := d.db.DeleteConversation(ctx, payload.ConversationID); err != nil {
		_ = conn.SendError(ErrInvalidEnvelope, "conversation.delete: "+err.Error())
		return
	}
	_ = conn.SendTyped("conversation.deleted", map[string]any{"conversationId": payload.ConversationID})
}

// turnSink adapts agent.EventSink onto one connection's ordered
// stream.* events for a single requestId.
type turnSink struct {
	conn      *Conn
	requestID string
}

func (s *turnSink) OnProcessingStarted() {
	_ = s.conn.ProcessingStarted(s.requestID)
}

func (s *turnSink) OnDelta(content string) {
	_ = s.conn.StreamDelta(s.requestID, content)
}

func (s *turnSink) OnToolCallStarted(name string) {
	_ = s.conn.ToolCalling(s.requestID, name)
}

func (s *turnSink) OnToolResult(name, result string, isError bool) {
	_ = s.conn.ToolResult(s.requestID, name, result, isError)
}

func (s *turnSink) OnDone(messageID, _ string) {
	_ = s.conn.StreamDone(s.requestID, messageID)
}

func (s *turnSink) OnError(err error) {
	_ = s.conn.StreamError(s.requestID, "AGENT_ERROR", err.Error())
}
