package provider

import (
	"context"
	"strings"
	"time"

	"github.com/maziarzamani/spaceduck-sub000/common/retry"
)

// ProbeTimeout bounds a reachability probe; provider probes get a hard
// 8–10 s ceiling so a dead upstream cannot hang the status endpoint.
const ProbeTimeout = 8 * time.Second

// ProbeResult is the outcome of a provider or embedding reachability
// probe, returned inside {ok:false,error} on failure.
type ProbeResult struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
}

// Probe opens a one-message stream against p and drains it, reporting
// whether the provider answered at all. Transient failures are retried
// once; auth and model errors are not.
func Probe(ctx context.Context, p Provider) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  2,
		InitialDelay: 500 * time.Millisecond,
		ShouldRetry:  isRetryableProbeErr,
	}, func() error {
		stream, err := p.Stream(ctx, CompletionRequest{
			Messages:  []Message{{Role: RoleUser, Content: "ping"}},
			MaxTokens: 1,
		})
		if err != nil {
			return err
		}
		for chunk := range stream {
			if chunk.Err != nil {
				return chunk.Err
			}
		}
		return nil
	})
	if err != nil {
		return probeFailure(err)
	}
	return ProbeResult{OK: true, LatencyMs: time.Since(start).Milliseconds()}
}

// ProbeEmbedding checks the embedding provider by embedding a short
// fixed string.
func ProbeEmbedding(ctx context.Context, e EmbeddingProvider) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  2,
		InitialDelay: 500 * time.Millisecond,
		ShouldRetry:  isRetryableProbeErr,
	}, func() error {
		_, err := e.Embed(ctx, "ping")
		return err
	})
	if err != nil {
		return probeFailure(err)
	}
	return ProbeResult{OK: true, LatencyMs: time.Since(start).Milliseconds()}
}

func probeFailure(err error) ProbeResult {
	return ProbeResult{
		OK:        false,
		Error:     err.Error(),
		Code:      classifyProbeErr(err),
		Retryable: isRetryableProbeErr(err),
	}
}

// classifyProbeErr maps upstream failures onto the surface error
// strings the dashboard knows: connection problems, credential rejection, model
// availability, and a retryable-flagged UNKNOWN for everything else.
func classifyProbeErr(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return "ECONNREFUSED"
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		return "UNAUTHORIZED"
	case strings.Contains(msg, "model") && (strings.Contains(msg, "not found") || strings.Contains(msg, "unavailable")):
		return "BEDROCK_MODEL_UNAVAILABLE"
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

func isRetryableProbeErr(err error) bool {
	switch classifyProbeErr(err) {
	case "UNAUTHORIZED", "BEDROCK_MODEL_UNAVAILABLE":
		return false
	}
	return true
}
