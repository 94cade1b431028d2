package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/maziarzamani/spaceduck-sub000/common/crypto"
	"github.com/maziarzamani/spaceduck-sub000/common/environment"
	"github.com/maziarzamani/spaceduck-sub000/common/version"
	"github.com/maziarzamani/spaceduck-sub000/internal/agent"
	"github.com/maziarzamani/spaceduck-sub000/internal/attachments"
	"github.com/maziarzamani/spaceduck-sub000/internal/auth"
	"github.com/maziarzamani/spaceduck-sub000/internal/browser"
	"github.com/maziarzamani/spaceduck-sub000/internal/budget"
	"github.com/maziarzamani/spaceduck-sub000/internal/channel"
	"github.com/maziarzamani/spaceduck-sub000/internal/config"
	"github.com/maziarzamani/spaceduck-sub000/internal/events"
	"github.com/maziarzamani/spaceduck-sub000/internal/hotswap"
	"github.com/maziarzamani/spaceduck-sub000/internal/httpapi"
	"github.com/maziarzamani/spaceduck-sub000/internal/memory"
	"github.com/maziarzamani/spaceduck-sub000/internal/metrics"
	"github.com/maziarzamani/spaceduck-sub000/internal/provider"
	"github.com/maziarzamani/spaceduck-sub000/internal/runlock"
	"github.com/maziarzamani/spaceduck-sub000/internal/scheduler"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
	"github.com/maziarzamani/spaceduck-sub000/internal/stt"
	"github.com/maziarzamani/spaceduck-sub000/internal/tools"
	"github.com/maziarzamani/spaceduck-sub000/internal/ws"
)

func main() {
	fmt.Printf("Spaceduck Gateway\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	setupLogging()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	switch environment.StringOr("SPACEDUCK_LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.Default()

	dataDir := environment.StringOr("SPACEDUCK_DATA_DIR", "data")
	configDir := environment.StringOr("SPACEDUCK_CONFIG_DIR", filepath.Join(dataDir, "config"))
	addr := fmt.Sprintf(":%d", environment.IntOr("SPACEDUCK_PORT", 8790))
	authRequired := environment.BoolOr("SPACEDUCK_AUTH_REQUIRED", true)

	for _, dir := range []string{dataDir, configDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	masterKey, err := crypto.LoadMasterKey()
	if err != nil {
		return fmt.Errorf("%w\nGenerate a key with: openssl rand -hex 32", err)
	}

	db, err := store.New(filepath.Join(dataDir, "spaceduck.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	cfgStore, err := config.New(configDir, masterKey)
	if err != nil {
		return err
	}
	doc := cfgStore.Current()

	gate := auth.New(db)
	settings, err := gate.EnsureGatewaySettings(ctx, doc.Gateway.Name)
	if err != nil {
		return err
	}
	log.Info("gateway identity", "gateway_id", settings.ID, "name", settings.Name)

	if !authRequired || !doc.Gateway.AuthRequired {
		log.Warn("AUTHENTICATION IS DISABLED — every request is treated as trusted; do not expose this gateway beyond localhost")
	}

	// Swappable proxies start with safe placeholders; the coordinator's
	// initial BuildAll installs the configured targets below.
	provSwap := provider.NewSwappable(provider.Unconfigured{})
	embedSwap := provider.NewSwappableEmbedding(provider.NoopEmbedding{})
	toolsSwap := tools.NewSwappable(tools.New())
	sttSwap := stt.NewSwappable(stt.Unconfigured{})

	bus := events.New(log)
	lock := runlock.New()
	mem := memory.New(db, embedSwap)

	ttl := time.Duration(doc.Gateway.AttachmentTTL) * time.Minute
	attach, err := attachments.New(db, filepath.Join(dataDir, "attachments"), ttl, log)
	if err != nil {
		return err
	}
	go attach.RunSweeper(ctx, 5*time.Minute)

	var pool *browser.Pool
	if rt, err := browser.NewDockerRuntime(doc.Tools.Browser.Image); err != nil {
		log.Warn("browser runtime unavailable, browser tools stay disabled", "err", err)
	} else {
		pool = browser.NewPool(rt, func() browser.Limits {
			b := cfgStore.Current().Tools.Browser
			return browser.Limits{
				IdleTimeout: time.Duration(b.SessionIdleTimeoutMs) * time.Millisecond,
				MaxSessions: b.MaxSessions,
			}
		}, log)
		defer pool.ReleaseAll()
	}

	loop := agent.New(agent.Config{
		Store:        db,
		Memory:       mem,
		RunLock:      lock,
		Provider:     func() provider.Provider { return provSwap },
		Tools:        toolsSwap.Current,
		Events:       bus,
		SystemPrompt: func() string { return cfgStore.Current().AI.SystemPrompt },
		Model:        func() string { return cfgStore.Current().AI.Model },
		Log:          log,
	})

	registerMemoryExtractor(ctx, bus, db, mem, provSwap, cfgStore, log)

	channels := channel.New(db, loop, log)

	toolDeps := tools.Deps{
		Log:         log,
		Attachments: attach,
		ConfigStore: cfgStore,
		MarkerBinary: markerBinary(),
	}
	if pool != nil {
		toolDeps.Browser = browserAdapter{pool: pool}
	}

	coordinator := hotswap.New(hotswap.Deps{
		Config:          cfgStore,
		Provider:        provSwap,
		Embedding:       embedSwap,
		Tools:           toolsSwap,
		STT:             sttSwap,
		Channels:        channels,
		ToolBaseDeps:    toolDeps,
		ChannelSessions: db,
		ChannelAgent:    loop,
		Log:             log,
	})
	for _, w := range coordinator.BuildAll(ctx, doc) {
		log.Warn("component build failed at startup", "code", w.Code, "message", w.Message)
	}
	if err := channels.Start(ctx); err != nil {
		log.Warn("channel start", "err", err)
	}
	defer channels.Stop()

	guard := budget.NewGuard(db, doc.Scheduler.MaxDailySpendUSD, doc.Scheduler.MaxMonthlySpendUSD)
	sched := scheduler.New(scheduler.Config{
		Store:              db,
		Runner:             scheduler.AgentRunner{Loop: loop},
		Guard:              guard,
		HeartbeatMs:        doc.Scheduler.HeartbeatMs,
		MaxConcurrentTasks: doc.Scheduler.MaxConcurrentTasks,
		BackoffBaseMs:      int64(doc.Scheduler.BackoffBaseMs),
		BackoffMaxMs:       int64(doc.Scheduler.BackoffMaxMs),
		MaxAttempts:        doc.Scheduler.MaxAttempts,
		Log:                log,
	})
	sched.Start(ctx)
	defer sched.Stop()

	mets := metrics.New(
		func() float64 { return float64(len(lock.ActiveConversationIDs())) },
		func() float64 {
			if pool == nil {
				return 0
			}
			return float64(pool.Len())
		},
	)

	server := httpapi.New(addr, httpapi.Deps{
		Config:            cfgStore,
		Auth:              gate,
		DB:                db,
		Attachments:       attach,
		Provider:          provSwap,
		Embedding:         embedSwap,
		Tools:             toolsSwap,
		STT:               sttSwap,
		Coordinator:       coordinator,
		Dispatcher:        ws.New(db, loop, log),
		Metrics:           mets,
		GatewayID:         settings.ID,
		GatewayName:       settings.Name,
		ForceAuthDisabled: !authRequired,
		STTTimeout:        environment.DurationOr("SPACEDUCK_STT_TIMEOUT", 5*time.Minute),
		Log:               log,
	})
	if err := server.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// browserAdapter renders pool sessions as the single descriptor string
// the tool registry's BrowserPool contract expects.
type browserAdapter struct {
	pool *browser.Pool
}

func (b browserAdapter) Acquire(ctx context.Context, conversationID string) (string, error) {
	return b.pool.AcquireDescriptor(ctx, conversationID)
}

func markerBinary() string {
	p, err := exec.LookPath("marker")
	if err != nil {
		return ""
	}
	return p
}

// registerMemoryExtractor subscribes the extractor to assistant_message
// events: each completed turn is re-read and mined for durable facts,
// asynchronously and best-effort.
func registerMemoryExtractor(ctx context.Context, bus *events.Bus, db *store.Store, mem *memory.Store, llm provider.Provider, cfgStore *config.Store, log *slog.Logger) {
	extractor := memory.NewExtractor(llm, cfgStore.Current().AI.Model)
	bus.OnAssistantMessage(func(evt events.AssistantMessage) {
		tail, err := db.TailMessages(ctx, evt.ConversationID, 4)
		if err != nil {
			log.Warn("memory extractor: load tail", "conversation_id", evt.ConversationID, "err", err)
			return
		}
		candidates, err := extractor.Extract(ctx, tail)
		if err != nil {
			log.Warn("memory extractor: extract", "conversation_id", evt.ConversationID, "err", err)
			return
		}
		for _, c := range candidates {
			if c.Confidence < 0.5 {
				continue
			}
			// A candidate restating a slot an active record already
			// fills supersedes that record rather than piling up a
			// second active copy.
			if _, err := mem.RememberOrSupersede(ctx, c.Kind, memory.ScopeGlobal, c.Title, c.Content, "conversation:"+evt.ConversationID, c.Confidence); err != nil {
				log.Warn("memory extractor: persist candidate", "err", err)
			}
		}
	})
}
