package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maziarzamani/spaceduck-sub000/internal/provider"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

const extractionSystemPrompt = `You extract durable facts and stated preferences from a conversation
turn. Only extract information that should still be true next week —
never transient task state. Respond with a JSON array of objects, each
shaped {"kind":"fact"|"preference","title":"...","content":"...","confidence":0.0-1.0}.
Respond with "[]" if nothing durable was said.`

// Extractor proposes memory candidates from a conversation turn using
// the active completion provider: one structured-output LLM call per
// completed turn.
type Extractor struct {
	llm   provider.Provider
	model string
}

// NewExtractor returns an Extractor that issues non-streamed completion
// requests (consuming the stream fully before returning) against llm.
func NewExtractor(llm provider.Provider, model string) *Extractor {
	return &Extractor{llm: llm, model: model}
}

// Candidate is one proposed durable fact or preference awaiting a
// confidence threshold check before being persisted.
type Candidate struct {
	Kind       store.MemoryKind `json:"kind"`
	Title      string           `json:"title"`
	Content    string           `json:"content"`
	Confidence float64          `json:"confidence"`
}

// Extract returns the memory candidates found in the given turn's
// user/assistant exchange. recentMessages should be the last few
// messages of the conversation, oldest first.
func (e *Extractor) Extract(ctx context.Context, recentMessages []store.Message) ([]Candidate, error) {
	var transcript strings.Builder
	for _, m := range recentMessages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	req := provider.CompletionRequest{
		Model: e.model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: extractionSystemPrompt},
			{Role: provider.RoleUser, Content: transcript.String()},
		},
	}

	stream, err := e.llm.Stream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("memory: extraction request: %w", err)
	}

	var content strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return nil, fmt.Errorf("memory: extraction stream: %w", chunk.Err)
		}
		content.WriteString(chunk.ContentDelta)
	}

	raw := strings.TrimSpace(content.String())
	if raw == "" || raw == "[]" {
		return nil, nil
	}

	var candidates []Candidate
	if err := json.Unmarshal([]byte(raw), &candidates); err != nil {
		return nil, fmt.Errorf("memory: decode extraction response: %w", err)
	}
	return candidates, nil
}
