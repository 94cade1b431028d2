package provider

import (
	"context"
	"fmt"
)

// NoopEmbedding is a stub EmbeddingProvider that returns a nil vector.
// When wired as the active embedding provider, memory.Store.Recall
// skips similarity ranking and uses its non-semantic fallback — no
// embeddings means no semantic recall.
type NoopEmbedding struct{}

// Embed returns nil with no error, signalling embeddings are
// unavailable.
func (NoopEmbedding) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, nil
}

var _ EmbeddingProvider = NoopEmbedding{}

// Unconfigured is a Provider placeholder used before the first config
// load builds a real backend. Any Stream call fails immediately with a
// descriptive error rather than hanging or panicking on a nil target.
type Unconfigured struct{}

// Stream always returns an error; there is no backend to call.
func (Unconfigured) Stream(_ context.Context, _ CompletionRequest) (<-chan StreamChunk, error) {
	return nil, fmt.Errorf("provider: no backend configured")
}

var _ Provider = Unconfigured{}
