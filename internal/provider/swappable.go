package provider

import (
	"context"
	"sync/atomic"
)

// Swappable is a Provider whose inner target can be atomically
// replaced. Callers that already hold a reference to the proxy never
// need to re-resolve it after a hot-swap rebuild; in-flight calls that
// already loaded the old target run to completion on it, matching the
// "in-flight callers continue on the old instance" rule from the
// hot-swap coordinator's rebuild discipline.
type Swappable struct {
	target atomic.Pointer[Provider]
}

// NewSwappable wraps an initial Provider in a swap proxy.
func NewSwappable(initial Provider) *Swappable {
	s := &Swappable{}
	s.Swap(initial)
	return s
}

// Swap atomically replaces the inner provider. The previous instance
// is not explicitly disposed here — callers that need cleanup (closing
// HTTP clients, etc.) do so in the caller of Swap, after confirming no
// disposal is required mid-stream.
func (s *Swappable) Swap(next Provider) {
	s.target.Store(&next)
}

// Stream delegates to whichever provider is current at call time.
func (s *Swappable) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	return (*s.target.Load()).Stream(ctx, req)
}

var _ Provider = (*Swappable)(nil)

// SwappableEmbedding is the embedding-provider analogue of Swappable.
type SwappableEmbedding struct {
	target atomic.Pointer[EmbeddingProvider]
}

// NewSwappableEmbedding wraps an initial EmbeddingProvider in a swap
// proxy.
func NewSwappableEmbedding(initial EmbeddingProvider) *SwappableEmbedding {
	s := &SwappableEmbedding{}
	s.Swap(initial)
	return s
}

// Swap atomically replaces the inner embedding provider.
func (s *SwappableEmbedding) Swap(next EmbeddingProvider) {
	s.target.Store(&next)
}

// Embed delegates to whichever embedding provider is current at call
// time.
func (s *SwappableEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	return (*s.target.Load()).Embed(ctx, text)
}

var _ EmbeddingProvider = (*SwappableEmbedding)(nil)
