// Package channel defines the external channel contract every chat
// surface (Matrix, Discord, Telegram, CLI) implements, and the
// gateway-side glue that resolves a session, acquires the run lock,
// and streams an agent turn back to whichever channel the inbound
// message arrived on.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/maziarzamani/spaceduck-sub000/internal/agent"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

// Reference is an opaque pointer back into the source message a
// channel reply is responding to (e.g. a Matrix event ID, a Discord
// message ID); channels attach whatever they need to correlate a
// reply and the gateway never interprets it.
type Reference map[string]any

// InboundMessage is what a Channel hands the gateway when a user
// message arrives.
type InboundMessage struct {
	SenderID string
	Text     string
	Refs     Reference
}

// Handler is invoked by a Channel for every inbound message.
type Handler func(ctx context.Context, msg InboundMessage)

// Channel is the external channel contract : a chat surface
// that receives inbound messages and delivers a single final reply,
// never a stream of partial deltas to the remote side — deltas are
// buffered gateway-side and flushed once as sendDone.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	OnMessage(h Handler)
	SendDelta(senderID, text string, refs Reference) error
	SendDone(senderID, messageID, text string, refs Reference) error
	SendError(senderID, code, message string, refs Reference) error
}

// AgentLoop is the subset of internal/agent.Loop a Gateway drives.
type AgentLoop interface {
	RunTurn(ctx context.Context, conversationID, userText string, sink agent.EventSink) (string, error)
}

// SessionStore resolves and creates the (channel, sender) ->
// conversation mapping every inbound message needs before a turn can
// run, and creates the conversation itself on first contact.
type SessionStore interface {
	ResolveSession(ctx context.Context, channelID, senderID string) (string, error)
	CreateSession(ctx context.Context, sess *store.Session) error
	CreateConversation(ctx context.Context, c *store.Conversation) error
}

// Gateway wires one or more Channels to the agent loop: each inbound
// message resolves a session, runs one agent turn, and relays the
// turn's outcome back out through the originating channel.
type Gateway struct {
	channels map[string]Channel
	sessions SessionStore
	agent    AgentLoop
	log      *slog.Logger
}

// New returns a Gateway with no channels registered; call Register for
// each enabled channel before Start.
func New(sessions SessionStore, agentLoop AgentLoop, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{channels: map[string]Channel{}, sessions: sessions, agent: agentLoop, log: log}
}

// Register attaches ch and installs the gateway's message handler on
// it. Call before Start.
func (g *Gateway) Register(ch Channel) {
	ch.OnMessage(func(ctx context.Context, msg InboundMessage) {
		g.handleInbound(ctx, ch, msg)
	})
	g.channels[ch.Name()] = ch
}

// Channels returns the currently registered channels, keyed by name.
func (g *Gateway) Channels() map[string]Channel {
	return g.channels
}

// Clear removes every registered channel without stopping it. Callers
// performing a hot-swap rebuild call Stop first, then Clear, before
// Register-ing the freshly built set.
func (g *Gateway) Clear() {
	g.channels = map[string]Channel{}
}

// Start starts every registered channel, stopping and returning an
// error on the first failure (callers performing a hot-swap handle
// partial-start rollback themselves using Channels()/Register()).
func (g *Gateway) Start(ctx context.Context) error {
	started := make([]Channel, 0, len(g.channels))
	for _, ch := range g.channels {
		if err := ch.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop()
			}
			return fmt.Errorf("channel: start %s: %w", ch.Name(), err)
		}
		started = append(started, ch)
	}
	return nil
}

// Stop stops every registered channel, collecting (not short-circuiting
// on) individual failures.
func (g *Gateway) Stop() error {
	var firstErr error
	for _, ch := range g.channels {
		if err := ch.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("channel: stop %s: %w", ch.Name(), err)
		}
	}
	return firstErr
}

func (g *Gateway) handleInbound(ctx context.Context, ch Channel, msg InboundMessage) {
	conversationID, err := g.sessions.ResolveSession(ctx, ch.Name(), msg.SenderID)
	if errors.Is(err, store.ErrNotFound) {
		conversationID = uuid.NewString()
		if cerr := g.sessions.CreateConversation(ctx, &store.Conversation{ID: conversationID, Title: msg.Text}); cerr != nil {
			g.log.Error("channel: create conversation failed", "channel", ch.Name(), "sender", msg.SenderID, "err", cerr)
			_ = ch.SendError(msg.SenderID, "SESSION_ERROR", cerr.Error(), msg.Refs)
			return
		}
		sess := &store.Session{ChannelID: ch.Name(), SenderID: msg.SenderID, ConversationID: conversationID}
		if cerr := g.sessions.CreateSession(ctx, sess); cerr != nil {
			g.log.Error("channel: create session failed", "channel", ch.Name(), "sender", msg.SenderID, "err", cerr)
			_ = ch.SendError(msg.SenderID, "SESSION_ERROR", cerr.Error(), msg.Refs)
			return
		}
	} else if err != nil {
		g.log.Error("channel: resolve session failed", "channel", ch.Name(), "sender", msg.SenderID, "err", err)
		_ = ch.SendError(msg.SenderID, "SESSION_ERROR", err.Error(), msg.Refs)
		return
	}

	sink := &channelSink{ch: ch, senderID: msg.SenderID, refs: msg.Refs}
	final, err := g.agent.RunTurn(ctx, conversationID, msg.Text, sink)
	if err != nil {
		if !sink.done {
			_ = ch.SendError(msg.SenderID, "TURN_ERROR", err.Error(), msg.Refs)
		}
		return
	}
	if !sink.done {
		// Defensive: RunTurn returned without the sink observing OnDone.
		_ = ch.SendDone(msg.SenderID, "", final, msg.Refs)
	}
}

// channelSink adapts agent.EventSink to a Channel: it buffers content
// deltas (channels deliver a single final message) and
// flushes on OnDone.
type channelSink struct {
	ch       Channel
	senderID string
	refs     Reference
	buf      []byte
	done     bool
}

func (s *channelSink) OnProcessingStarted() {}

func (s *channelSink) OnDelta(content string) {
	s.buf = append(s.buf, content...)
}

func (s *channelSink) OnToolCallStarted(string) {}

func (s *channelSink) OnToolResult(string, string, bool) {}

func (s *channelSink) OnDone(messageID, finalMessage string) {
	s.done = true
	if err := s.ch.SendDone(s.senderID, messageID, finalMessage, s.refs); err != nil {
		slog.Default().Error("channel: send done failed", "channel", s.ch.Name(), "err", err)
	}
}

func (s *channelSink) OnError(err error) {
	s.done = true
	_ = s.ch.SendError(s.senderID, "TURN_ERROR", err.Error(), s.refs)
}

var _ agent.EventSink = (*channelSink)(nil)
