package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/maziarzamani/spaceduck-sub000/internal/provider"
)

// fakeProvider returns a canned stream or error.
type fakeProvider struct {
	err    error
	chunks []provider.StreamChunk
}

func (f *fakeProvider) Stream(_ context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan provider.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func TestProbeSuccess(t *testing.T) {
	p := &fakeProvider{chunks: []provider.StreamChunk{{ContentDelta: "pong", FinishReason: "stop"}}}
	result := provider.Probe(context.Background(), p)
	if !result.OK {
		t.Fatalf("Probe = %+v, want OK", result)
	}
}

func TestProbeClassifiesErrors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      string
		wantRetryable bool
	}{
		{"refused", errors.New("dial tcp 127.0.0.1:1: connection refused"), "ECONNREFUSED", true},
		{"unauthorized", errors.New("provider returned 401 Unauthorized"), "UNAUTHORIZED", false},
		{"model missing", errors.New("model gpt-x not found"), "BEDROCK_MODEL_UNAVAILABLE", false},
		{"opaque", errors.New("something odd"), "UNKNOWN", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := provider.Probe(context.Background(), &fakeProvider{err: tt.err})
			if result.OK {
				t.Fatalf("Probe succeeded, want failure")
			}
			if result.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", result.Code, tt.wantCode)
			}
			if result.Retryable != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", result.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestProbeReportsMidStreamError(t *testing.T) {
	p := &fakeProvider{chunks: []provider.StreamChunk{
		{ContentDelta: "par"},
		{Err: errors.New("stream reset: 401 unauthorized")},
	}}
	result := provider.Probe(context.Background(), p)
	if result.OK || result.Code != "UNAUTHORIZED" {
		t.Fatalf("Probe = %+v, want UNAUTHORIZED failure", result)
	}
}

type fakeEmbeddingProbe struct{ err error }

func (f fakeEmbeddingProbe) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func TestProbeEmbedding(t *testing.T) {
	if result := provider.ProbeEmbedding(context.Background(), fakeEmbeddingProbe{}); !result.OK {
		t.Fatalf("ProbeEmbedding = %+v, want OK", result)
	}
	result := provider.ProbeEmbedding(context.Background(), fakeEmbeddingProbe{err: errors.New("connection refused")})
	if result.OK || result.Code != "ECONNREFUSED" {
		t.Fatalf("ProbeEmbedding = %+v, want ECONNREFUSED failure", result)
	}
}
