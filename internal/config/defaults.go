package config

// Defaults returns a fully populated Document with every field set to
// its documented default. Load starts from this and overlays whatever
// the on-disk document specifies.
func Defaults() Document {
	return Document{
		Gateway: Gateway{
			Name:          "spaceduck",
			AuthRequired:  true,
			HeartbeatMs:   30_000,
			MaxUploadMB:   25,
			AttachmentTTL: 1440,
		},
		AI: AI{
			Provider:     "openai",
			Model:        "gpt-4o-mini",
			SystemPrompt: "You are a helpful personal assistant.",
		},
		Embedding: Embedding{
			Enabled: false,
		},
		Tools: Tools{
			WebFetch:   WebFetchTool{Enabled: true},
			WebSearch:  WebSearchTool{Enabled: false},
			WebAnswer:  WebAnswerTool{Enabled: false},
			Marker:     MarkerTool{Enabled: false},
			Browser: BrowserTool{
				Enabled:              false,
				LivePreview:          false,
				Image:                "browserless/chrome",
				SessionIdleTimeoutMs: 300_000,
				MaxSessions:          4,
			},
			ConfigTool: ConfigToolSpec{Enabled: true},
			Chart:      ChartTool{Enabled: true},
		},
		Channels: Channels{
			Matrix:   ChannelSpec{Enabled: false},
			Discord:  ChannelSpec{Enabled: false},
			Telegram: ChannelSpec{Enabled: false},
			CLI:      ChannelSpec{Enabled: true},
		},
		STT: STT{
			Backend: "none",
		},
		Scheduler: Scheduler{
			HeartbeatMs:        5_000,
			MaxConcurrentTasks: 4,
			BackoffBaseMs:      1_000,
			BackoffMaxMs:       300_000,
			MaxAttempts:        5,
			MaxDailySpendUSD:   5,
			MaxMonthlySpendUSD: 100,
		},
	}
}

// applyDefaults fills zero-valued fields of cfg from Defaults, section
// by section.
func applyDefaults(cfg *Document) {
	d := Defaults()

	if cfg.Gateway.Name == "" {
		cfg.Gateway.Name = d.Gateway.Name
	}
	if cfg.Gateway.HeartbeatMs == 0 {
		cfg.Gateway.HeartbeatMs = d.Gateway.HeartbeatMs
	}
	if cfg.Gateway.MaxUploadMB == 0 {
		cfg.Gateway.MaxUploadMB = d.Gateway.MaxUploadMB
	}
	if cfg.Gateway.AttachmentTTL == 0 {
		cfg.Gateway.AttachmentTTL = d.Gateway.AttachmentTTL
	}

	if cfg.AI.Provider == "" {
		cfg.AI.Provider = d.AI.Provider
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = d.AI.Model
	}
	if cfg.AI.SystemPrompt == "" {
		cfg.AI.SystemPrompt = d.AI.SystemPrompt
	}

	if cfg.STT.Backend == "" {
		cfg.STT.Backend = d.STT.Backend
	}

	if cfg.Scheduler.HeartbeatMs == 0 {
		cfg.Scheduler.HeartbeatMs = d.Scheduler.HeartbeatMs
	}
	if cfg.Scheduler.MaxConcurrentTasks == 0 {
		cfg.Scheduler.MaxConcurrentTasks = d.Scheduler.MaxConcurrentTasks
	}
	if cfg.Scheduler.BackoffBaseMs == 0 {
		cfg.Scheduler.BackoffBaseMs = d.Scheduler.BackoffBaseMs
	}
	if cfg.Scheduler.BackoffMaxMs == 0 {
		cfg.Scheduler.BackoffMaxMs = d.Scheduler.BackoffMaxMs
	}
	if cfg.Scheduler.MaxAttempts == 0 {
		cfg.Scheduler.MaxAttempts = d.Scheduler.MaxAttempts
	}
	if cfg.Scheduler.MaxDailySpendUSD == 0 {
		cfg.Scheduler.MaxDailySpendUSD = d.Scheduler.MaxDailySpendUSD
	}
	if cfg.Scheduler.MaxMonthlySpendUSD == 0 {
		cfg.Scheduler.MaxMonthlySpendUSD = d.Scheduler.MaxMonthlySpendUSD
	}
}
