// Package config is the single source of truth for the declarative
// runtime: it loads, validates, and persists the product configuration
// document, computes an optimistic-concurrency revision over its
// redacted form, and applies revision-gated patches.
//
// The gateway configuration is a single nested document on disk, with
// one validateX function per section and a single applyDefaults pass
// that fills zero-valued fields from Defaults.
package config

// Document is the full validated runtime configuration. Every field
// has a default filled in by Defaults; secret values never live here —
// they're tracked separately by the secret store and referenced only
// by path.
type Document struct {
	Gateway   Gateway   `json:"gateway"`
	AI        AI        `json:"ai"`
	Embedding Embedding `json:"embedding"`
	Tools     Tools     `json:"tools"`
	Channels  Channels  `json:"channels"`
	STT       STT       `json:"stt"`
	Scheduler Scheduler `json:"scheduler"`
}

type Gateway struct {
	Name          string `json:"name"`
	AuthRequired  bool   `json:"authRequired"`
	HeartbeatMs   int    `json:"heartbeatMs"`
	MaxUploadMB   int    `json:"maxUploadMB"`
	AttachmentTTL int    `json:"attachmentTtlMinutes"`
}

type AI struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	BaseURL      string `json:"baseUrl,omitempty"`
	Region       string `json:"region,omitempty"`
	SystemPrompt string `json:"systemPrompt"`
}

type Embedding struct {
	Enabled    bool   `json:"enabled"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	BaseURL    string `json:"baseUrl,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type Tools struct {
	WebFetch   WebFetchTool   `json:"webFetch"`
	WebSearch  WebSearchTool  `json:"webSearch"`
	WebAnswer  WebAnswerTool  `json:"webAnswer"`
	Marker     MarkerTool     `json:"marker"`
	Browser    BrowserTool    `json:"browser"`
	ConfigTool ConfigToolSpec `json:"config"`
	Chart      ChartTool      `json:"chart"`
}

type WebFetchTool struct {
	Enabled bool `json:"enabled"`
}

type WebSearchTool struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider,omitempty"`
}

type WebAnswerTool struct {
	Enabled bool `json:"enabled"`
}

type MarkerTool struct {
	Enabled bool `json:"enabled"`
}

type BrowserTool struct {
	Enabled              bool   `json:"enabled"`
	LivePreview          bool   `json:"livePreview"`
	Image                string `json:"image,omitempty"`
	SessionIdleTimeoutMs int    `json:"sessionIdleTimeoutMs,omitempty"`
	MaxSessions          int    `json:"maxSessions,omitempty"`
}

type ConfigToolSpec struct {
	Enabled bool `json:"enabled"`
}

type ChartTool struct {
	Enabled bool `json:"enabled"`
}

type Channels struct {
	Matrix   ChannelSpec `json:"matrix"`
	Discord  ChannelSpec `json:"discord"`
	Telegram ChannelSpec `json:"telegram"`
	CLI      ChannelSpec `json:"cli"`
}

type ChannelSpec struct {
	Enabled bool `json:"enabled"`
	// Homeserver and UserID are only meaningful for the matrix entry;
	// every other channel's identity and credentials live entirely in
	// the secret store.
	Homeserver string `json:"homeserver,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

type STT struct {
	Backend        string         `json:"backend"`
	Model          string         `json:"model,omitempty"`
	AWSTranscribe  AWSTranscribe  `json:"awsTranscribe"`
}

type AWSTranscribe struct {
	Region string `json:"region,omitempty"`
}

type Scheduler struct {
	HeartbeatMs         int     `json:"heartbeatMs"`
	MaxConcurrentTasks  int     `json:"maxConcurrentTasks"`
	BackoffBaseMs       int     `json:"backoffBaseMs"`
	BackoffMaxMs        int     `json:"backoffMaxMs"`
	MaxAttempts         int     `json:"maxAttempts"`
	MaxDailySpendUSD    float64 `json:"maxDailySpendUsd"`
	MaxMonthlySpendUSD  float64 `json:"maxMonthlySpendUsd"`
}
