package provider_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maziarzamani/spaceduck-sub000/internal/provider"
)

// stubProvider is a test double for provider.Provider.
type stubProvider struct {
	chunks []provider.StreamChunk
}

func (s *stubProvider) Stream(_ context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	ch := make(chan provider.StreamChunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

var _ provider.Provider = (*stubProvider)(nil)

func drain(t *testing.T, ch <-chan provider.StreamChunk) []provider.StreamChunk {
	t.Helper()
	var out []provider.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestSwappable_DelegatesToCurrentTarget(t *testing.T) {
	first := &stubProvider{chunks: []provider.StreamChunk{{ContentDelta: "a"}}}
	sw := provider.NewSwappable(first)

	ch, err := sw.Stream(context.Background(), provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := drain(t, ch)
	if len(got) != 1 || got[0].ContentDelta != "a" {
		t.Fatalf("unexpected chunks: %+v", got)
	}

	second := &stubProvider{chunks: []provider.StreamChunk{{ContentDelta: "b"}}}
	sw.Swap(second)

	ch, err = sw.Stream(context.Background(), provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream after swap: %v", err)
	}
	got = drain(t, ch)
	if len(got) != 1 || got[0].ContentDelta != "b" {
		t.Fatalf("expected swapped provider's output, got %+v", got)
	}
}

func TestSwappableEmbedding_DelegatesToCurrentTarget(t *testing.T) {
	sw := provider.NewSwappableEmbedding(provider.NoopEmbedding{})

	vec, err := sw.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vec != nil {
		t.Fatalf("expected nil vector from noop embedding, got %v", vec)
	}

	sw.Swap(fakeEmbedding{vec: []float32{1, 2, 3}})
	vec, err = sw.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed after swap: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected swapped embedding output, got %v", vec)
	}
}

type fakeEmbedding struct{ vec []float32 }

func (f fakeEmbedding) Embed(context.Context, string) ([]float32, error) { return f.vec, nil }

func TestUnconfigured_StreamFails(t *testing.T) {
	_, err := provider.Unconfigured{}.Stream(context.Background(), provider.CompletionRequest{})
	if err == nil {
		t.Fatal("expected an error from an unconfigured provider")
	}
}

func TestOpenAIProvider_ParsesSSEStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
			`data: [DONE]`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "%s\n\n", f)
		}
	}))
	defer srv.Close()

	p := provider.NewOpenAI(provider.OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	ch, err := p.Stream(context.Background(), provider.CompletionRequest{Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	chunks := drain(t, ch)
	var content string
	var finish string
	var usage *provider.TokenUsage
	for _, c := range chunks {
		if c.Err != nil {
			t.Fatalf("unexpected chunk error: %v", c.Err)
		}
		content += c.ContentDelta
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
		if c.Usage != nil {
			usage = c.Usage
		}
	}

	if content != "Hello" {
		t.Errorf("content = %q, want %q", content, "Hello")
	}
	if finish != "stop" {
		t.Errorf("finish reason = %q, want stop", finish)
	}
	if usage == nil || usage.TotalTokens != 5 {
		t.Errorf("usage = %+v, want total 5", usage)
	}
}

func TestOpenAIEmbedding_ReturnsVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2,0.3],"index":0}]}`)
	}))
	defer srv.Close()

	e := provider.NewOpenAIEmbedding(provider.OpenAIEmbeddingConfig{APIKey: "test", BaseURL: srv.URL})
	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3-dim vector, got %v", vec)
	}
}

func TestOpenAIEmbedding_EmptyTextShortCircuits(t *testing.T) {
	e := provider.NewOpenAIEmbedding(provider.OpenAIEmbeddingConfig{APIKey: "test"})
	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vec != nil {
		t.Fatalf("expected nil vector for empty text, got %v", vec)
	}
}
