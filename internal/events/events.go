// Package events is the gateway's in-process event bus: typed
// channels/subscriptions in place of a callback-list, per the design
// notes' "replace the callback-list style with typed channels" guidance.
// Delivery is at-least-once within the process; subscribers must be
// idempotent (the memory extractor is, by construction — extraction is
// a pure read of the turn's messages).
package events

import (
	"log/slog"
	"sync"

	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

// AssistantMessage is published once per completed agent turn, after
// the assistant's message has been persisted.
type AssistantMessage struct {
	ConversationID string
	Message        store.Message
}

// AssistantMessageHandler receives published AssistantMessage events.
// Handlers run in their own goroutine per publish and must not block
// the publisher indefinitely.
type AssistantMessageHandler func(AssistantMessage)

// Bus is a minimal typed pub/sub: today it carries one event type
// (AssistantMessage), the only one the gateway needs today, but keeps
// room to grow additional typed channels the same way without
// reintroducing an untyped callback list.
type Bus struct {
	mu       sync.RWMutex
	handlers []AssistantMessageHandler
	log      *slog.Logger
}

// New returns an empty Bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log}
}

// OnAssistantMessage registers a handler invoked for every published
// AssistantMessage event.
func (b *Bus) OnAssistantMessage(h AssistantMessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// PublishAssistantMessage fans evt out to every registered handler,
// each in its own goroutine so a slow or failing subscriber (e.g. the
// memory extractor's LLM call) never delays the agent loop that
// published the event.
func (b *Bus) PublishAssistantMessage(evt AssistantMessage) {
	b.mu.RLock()
	handlers := make([]AssistantMessageHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		go func(h AssistantMessageHandler) {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("events: assistant_message handler panicked", "panic", r)
				}
			}()
			h(evt)
		}(h)
	}
}
