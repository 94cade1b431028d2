// Package agent runs one conversational turn: it builds the message
// context, streams the active provider, dispatches any tool calls the
// model requests, and persists the exchange, emitting each content
// delta to an EventSink as it arrives instead of returning one
// buffered string.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/maziarzamani/spaceduck-sub000/internal/events"
	"github.com/maziarzamani/spaceduck-sub000/internal/memory"
	"github.com/maziarzamani/spaceduck-sub000/internal/provider"
	"github.com/maziarzamani/spaceduck-sub000/internal/runlock"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
	"github.com/maziarzamani/spaceduck-sub000/internal/tools"
)

// maxToolCallRounds bounds how many model/tool round-trips a single
// turn may take before it is treated as stuck.
const maxToolCallRounds = 10

// tailMessageCount is how many prior messages are included as context
// for a turn, beyond the system prompt and memory hints.
const tailMessageCount = 20

// EventSink receives the events one turn produces as it streams, the
// hook internal/ws uses to forward deltas to the originating
// connection in order.
type EventSink interface {
	// OnProcessingStarted fires once the run lock has actually been
	// acquired, which may be later than the call to RunTurn if another
	// turn on the same conversation was already in flight.
	OnProcessingStarted()
	OnDelta(content string)
	OnToolCallStarted(name string)
	OnToolResult(name, result string, isError bool)
	OnDone(messageID, finalMessage string)
	OnError(err error)
}

// NoopSink discards every event; useful for turns run without a live
// connection (e.g. scheduled tasks).
type NoopSink struct{}

func (NoopSink) OnProcessingStarted()            {}
func (NoopSink) OnDelta(string)                  {}
func (NoopSink) OnToolCallStarted(string)         {}
func (NoopSink) OnToolResult(string, string, bool) {}
func (NoopSink) OnDone(string, string)            {}
func (NoopSink) OnError(error)                    {}

// ProviderFunc returns the currently active completion provider, so the
// loop always calls through to whatever the hot-swap coordinator most
// recently installed rather than capturing one at construction time.
type ProviderFunc func() provider.Provider

// ToolsFunc returns the currently active tool registry, for the same
// reason ProviderFunc is a function rather than a field.
type ToolsFunc func() *tools.Registry

// Loop runs conversational turns against the live provider and tool
// registry, serializing concurrent turns on the same conversation
// through a runlock.
type Loop struct {
	db       *store.Store
	mem      *memory.Store
	lock     *runlock.Lock
	provider ProviderFunc
	toolsFn  ToolsFunc
	events   *events.Bus
	log      *slog.Logger

	systemPrompt func() string
	model        func() string
	maxTokens    int
}

// Config bundles Loop's dependencies.
type Config struct {
	Store        *store.Store
	Memory       *memory.Store
	RunLock      *runlock.Lock
	Provider     ProviderFunc
	Tools        ToolsFunc
	Events       *events.Bus
	SystemPrompt func() string
	Model        func() string
	MaxTokens    int
	Log          *slog.Logger
}

// New returns a Loop wired to cfg's dependencies.
func New(cfg Config) *Loop {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		db:           cfg.Store,
		mem:          cfg.Memory,
		lock:         cfg.RunLock,
		provider:     cfg.Provider,
		toolsFn:      cfg.Tools,
		events:       cfg.Events,
		log:          log,
		systemPrompt: cfg.SystemPrompt,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
	}
}

// RunTurn processes one user message within conversationID: it persists
// the user message, streams the model's reply (dispatching any tool
// calls along the way), persists the assistant's final message, and
// reports progress through sink. It blocks until the turn completes,
// fails, or ctx is cancelled; concurrent calls for the same
// conversationID serialize on the run lock.
func (l *Loop) RunTurn(ctx context.Context, conversationID, userText string, sink EventSink) (string, error) {
	release := l.lock.Acquire(conversationID)
	defer release()
	sink.OnProcessingStarted()

	prov := l.provider()
	registry := l.toolsFn()

	userMsg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           store.RoleUser,
		Content:        userText,
	}
	if err := l.db.AppendMessage(ctx, userMsg); err != nil {
		sink.OnError(err)
		return "", fmt.Errorf("agent: persist user message: %w", err)
	}

	messages, err := l.buildContext(ctx, conversationID, userText)
	if err != nil {
		sink.OnError(err)
		return "", err
	}

	model := ""
	if l.model != nil {
		model = l.model()
	}

	for round := 0; round < maxToolCallRounds; round++ {
		defs := registry.GetDefinitions()
		toolDefs := make([]provider.ToolDefinition, 0, len(defs))
		for _, d := range defs {
			toolDefs = append(toolDefs, provider.ToolDefinition{
				Type:     "function",
				Function: provider.FunctionDef{Name: d.Name, Description: d.Description, Parameters: d.Parameters},
			})
		}

		req := provider.CompletionRequest{Model: model, Messages: messages, Tools: toolDefs, MaxTokens: l.maxTokens}
		stream, err := prov.Stream(ctx, req)
		if err != nil {
			sink.OnError(err)
			return "", fmt.Errorf("agent: stream request: %w", err)
		}

		assistantMsg, finishReason, err := l.consumeStream(stream, sink)
		if err != nil {
			sink.OnError(err)
			return "", err
		}
		messages = append(messages, assistantMsg)

		if finishReason != "tool_calls" || len(assistantMsg.ToolCalls) == 0 {
			final := assistantMsg.Content
			messageID, err := l.persistAssistantMessage(ctx, conversationID, final)
			if err != nil {
				sink.OnError(err)
				return "", err
			}
			sink.OnDone(messageID, final)
			if l.events != nil {
				l.events.PublishAssistantMessage(events.AssistantMessage{
					ConversationID: conversationID,
					Message: store.Message{
						ID:             messageID,
						ConversationID: conversationID,
						Role:           store.RoleAssistant,
						Content:        final,
					},
				})
			}
			return final, nil
		}

		// The whole round is part of the conversation log: the
		// assistant's tool-call preamble and every tool result are
		// appended alongside the in-memory context, so history reads
		// and extractor tails see the same exchange the model did.
		preamble := &store.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Role:           store.RoleAssistant,
			Content:        renderToolCallPreamble(assistantMsg),
		}
		if err := l.db.AppendMessage(ctx, preamble); err != nil {
			sink.OnError(err)
			return "", fmt.Errorf("agent: persist tool-call preamble: %w", err)
		}

		for _, tc := range assistantMsg.ToolCalls {
			sink.OnToolCallStarted(tc.Function.Name)
			result, isError := l.executeTool(ctx, registry, tc)
			sink.OnToolResult(tc.Function.Name, result, isError)

			toolMsg := &store.Message{
				ID:             uuid.NewString(),
				ConversationID: conversationID,
				Role:           store.RoleTool,
				Content:        result,
			}
			if err := l.db.AppendMessage(ctx, toolMsg); err != nil {
				sink.OnError(err)
				return "", fmt.Errorf("agent: persist tool result: %w", err)
			}

			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
			})
		}
	}

	err = fmt.Errorf("agent: exceeded maximum tool call rounds (%d)", maxToolCallRounds)
	sink.OnError(err)
	return "", err
}

// buildContext assembles the system prompt (augmented with recalled
// memory hints), the conversation's recent tail, and the new user
// message into the initial message list for a turn.
func (l *Loop) buildContext(ctx context.Context, conversationID, userText string) ([]provider.Message, error) {
	systemPrompt := ""
	if l.systemPrompt != nil {
		systemPrompt = l.systemPrompt()
	}

	if l.mem != nil {
		hints, err := l.mem.Recall(ctx, userText, conversationID, 5)
		if err != nil {
			l.log.Warn("agent: memory recall failed", "err", err)
		} else if len(hints) > 0 {
			var b strings.Builder
			b.WriteString("\n\nRelevant remembered context:\n")
			for _, h := range hints {
				fmt.Fprintf(&b, "- %s: %s\n", h.Title, h.Content)
			}
			systemPrompt += b.String()
		}
	}

	tail, err := l.db.TailMessages(ctx, conversationID, tailMessageCount)
	if err != nil {
		return nil, fmt.Errorf("agent: load conversation tail: %w", err)
	}

	messages := make([]provider.Message, 0, len(tail)+2)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	for _, m := range tail {
		messages = append(messages, provider.Message{Role: provider.Role(m.Role), Content: m.Content})
	}
	return messages, nil
}

// consumeStream drains a Provider's stream into one accumulated
// assistant message, forwarding content deltas to sink as they arrive.
func (l *Loop) consumeStream(stream <-chan provider.StreamChunk, sink EventSink) (provider.Message, string, error) {
	var content strings.Builder
	toolCalls := map[int]*provider.ToolCall{}
	var order []int
	finishReason := ""

	for chunk := range stream {
		if chunk.Err != nil {
			return provider.Message{}, "", fmt.Errorf("agent: stream error: %w", chunk.Err)
		}
		if chunk.ContentDelta != "" {
			content.WriteString(chunk.ContentDelta)
			sink.OnDelta(chunk.ContentDelta)
		}
		if chunk.ToolCallDelta != nil {
			d := chunk.ToolCallDelta
			tc, ok := toolCalls[d.Index]
			if !ok {
				tc = &provider.ToolCall{Type: "function"}
				toolCalls[d.Index] = tc
				order = append(order, d.Index)
			}
			if d.ID != "" {
				tc.ID = d.ID
			}
			if d.Name != "" {
				tc.Function.Name = d.Name
			}
			tc.Function.Arguments += d.ArgumentsDelta
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}

	msg := provider.Message{Role: provider.RoleAssistant, Content: content.String()}
	for _, idx := range order {
		msg.ToolCalls = append(msg.ToolCalls, *toolCalls[idx])
	}
	return msg, finishReason, nil
}

// renderToolCallPreamble flattens an assistant tool-call message into
// plain text for the persisted log, which stores role/content pairs
// only.
func renderToolCallPreamble(msg provider.Message) string {
	var b strings.Builder
	if msg.Content != "" {
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	for _, tc := range msg.ToolCalls {
		fmt.Fprintf(&b, "[tool call] %s(%s)\n", tc.Function.Name, tc.Function.Arguments)
	}
	return strings.TrimRight(b.String(), "\n")
}

// executeTool validates and dispatches one tool call, folding handler
// and registry-level errors alike into the tool result string — the
// model sees a failed tool call as a tool message, never a turn-ending
// error, matching the isError-on-the-message convention.
func (l *Loop) executeTool(ctx context.Context, registry *tools.Registry, tc provider.ToolCall) (string, bool) {
	var args map[string]any
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return fmt.Sprintf("invalid arguments: %v", err), true
		}
	}

	result, err := registry.Execute(ctx, tools.Call{ID: tc.ID, Name: tc.Function.Name, Args: args})
	if err != nil {
		return err.Error(), true
	}
	return result.Content, result.IsError
}

func (l *Loop) persistAssistantMessage(ctx context.Context, conversationID, content string) (string, error) {
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        content,
	}
	if err := l.db.AppendMessage(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}
