package config

import (
	"fmt"
	"strings"
)

// Validate checks a Document for structural correctness after
// defaults have been applied. It returns the first validation error
// encountered, one section at a time.
func Validate(cfg *Document) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}

	if err := validateGateway(cfg.Gateway); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := validateAI(cfg.AI); err != nil {
		return fmt.Errorf("ai: %w", err)
	}
	if err := validateEmbedding(cfg.Embedding); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := validateTools(cfg.Tools); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	if err := validateSTT(cfg.STT); err != nil {
		return fmt.Errorf("stt: %w", err)
	}
	if err := validateScheduler(cfg.Scheduler); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	return nil
}

func validateGateway(g Gateway) error {
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if g.HeartbeatMs <= 0 {
		return fmt.Errorf("heartbeatMs must be > 0")
	}
	if g.MaxUploadMB <= 0 {
		return fmt.Errorf("maxUploadMB must be > 0")
	}
	if g.AttachmentTTL <= 0 {
		return fmt.Errorf("attachmentTtlMinutes must be > 0")
	}
	return nil
}

func validateAI(a AI) error {
	if strings.TrimSpace(a.Provider) == "" {
		return fmt.Errorf("provider must not be empty")
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("model must not be empty")
	}
	return nil
}

func validateEmbedding(e Embedding) error {
	if !e.Enabled {
		return nil
	}
	if strings.TrimSpace(e.Provider) == "" {
		return fmt.Errorf("provider must be set when enabled")
	}
	if e.Dimensions < 0 {
		return fmt.Errorf("dimensions must be >= 0")
	}
	return nil
}

func validateTools(t Tools) error {
	if t.WebSearch.Enabled && strings.TrimSpace(t.WebSearch.Provider) == "" {
		return fmt.Errorf("webSearch.provider must be set when webSearch is enabled")
	}
	if t.Browser.Enabled {
		if strings.TrimSpace(t.Browser.Image) == "" {
			return fmt.Errorf("browser.image must be set when browser is enabled")
		}
		if t.Browser.SessionIdleTimeoutMs < 0 {
			return fmt.Errorf("browser.sessionIdleTimeoutMs must be >= 0")
		}
		if t.Browser.MaxSessions <= 0 {
			return fmt.Errorf("browser.maxSessions must be > 0 when browser is enabled")
		}
	}
	return nil
}

func validateSTT(s STT) error {
	switch s.Backend {
	case "none", "whisper", "aws_transcribe":
	default:
		return fmt.Errorf("unknown backend %q; valid values are none, whisper, aws_transcribe", s.Backend)
	}
	if s.Backend == "aws_transcribe" && strings.TrimSpace(s.AWSTranscribe.Region) == "" {
		return fmt.Errorf("awsTranscribe.region must be set when backend is aws_transcribe")
	}
	return nil
}

func validateScheduler(s Scheduler) error {
	if s.HeartbeatMs <= 0 {
		return fmt.Errorf("heartbeatMs must be > 0")
	}
	if s.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("maxConcurrentTasks must be > 0")
	}
	if s.BackoffBaseMs <= 0 || s.BackoffMaxMs < s.BackoffBaseMs {
		return fmt.Errorf("backoffBaseMs must be > 0 and <= backoffMaxMs")
	}
	if s.MaxAttempts <= 0 {
		return fmt.Errorf("maxAttempts must be > 0")
	}
	if s.MaxDailySpendUSD < 0 || s.MaxMonthlySpendUSD < 0 {
		return fmt.Errorf("spend limits must be >= 0")
	}
	return nil
}
