// Package hotswap implements the hot-swap coordinator: on a
// successful config patch it decides which of the provider, embedding
// provider, tool registry, channel set, and STT backend need rebuilding
// from the new config snapshot, and performs the rebuild as a
// compare-and-swap on the corresponding proxy with rollback on failure.
//
// The trigger is an explicit set of changed JSON Pointer paths rather
// than a poll tick, and a failed rebuild becomes a warning attached to
// the patch response instead of aborting the write.
package hotswap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/maziarzamani/spaceduck-sub000/internal/channel"
	"github.com/maziarzamani/spaceduck-sub000/internal/config"
	"github.com/maziarzamani/spaceduck-sub000/internal/provider"
	"github.com/maziarzamani/spaceduck-sub000/internal/stt"
	"github.com/maziarzamani/spaceduck-sub000/internal/tools"
)

// Deps bundles every swappable target the coordinator rebuilds, plus
// the base dependencies each rebuild's factory needs beyond the config
// document itself.
type Deps struct {
	Config    *config.Store
	Provider  *provider.Swappable
	Embedding *provider.SwappableEmbedding
	Tools     *tools.Swappable
	STT       *stt.Swappable
	Channels  *channel.Gateway

	// ToolBaseDeps is reused for every tool registry rebuild, with
	// ConfigStore always pointed at Config so tool handlers read
	// live secrets/config rather than a snapshot.
	ToolBaseDeps tools.Deps

	// ChannelSessions/ChannelAgent wire a rebuilt channel set back to
	// the same gateway-side session resolution and agent loop; they
	// never change across a rebuild, only which Channel implementations
	// are registered.
	ChannelSessions channel.SessionStore
	ChannelAgent    channel.AgentLoop

	CLIStdin  io.Reader
	CLIStdout io.Writer

	Log *slog.Logger
}

// Coordinator rebuilds swappable components in response to config
// changes.
type Coordinator struct {
	deps Deps
	log  *slog.Logger
}

// New returns a Coordinator wired to deps.
func New(deps Deps) *Coordinator {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if deps.CLIStdin == nil {
		deps.CLIStdin = os.Stdin
	}
	if deps.CLIStdout == nil {
		deps.CLIStdout = os.Stdout
	}
	return &Coordinator{deps: deps, log: log}
}

// Apply rebuilds every component whose rebuild-path set intersects
// changedPaths, returning one warning per rebuild that failed (the
// previous component stays live in that case). changedPaths is the
// set of JSON Pointer paths a successful patch touched.
func (c *Coordinator) Apply(ctx context.Context, doc config.Document, changedPaths []string) []config.Warning {
	var warnings []config.Warning

	if matchesAny(changedPaths, providerPaths) || matchesAny(changedPaths, config.AISecretPaths()) {
		if w := c.rebuildProvider(doc); w != nil {
			warnings = append(warnings, *w)
		}
	}

	if matchesAny(changedPaths, embeddingPaths) {
		if w := c.rebuildEmbedding(doc); w != nil {
			warnings = append(warnings, *w)
		}
	}

	if matchesAny(changedPaths, toolPaths) || matchesAny(changedPaths, config.ToolSecretPaths()) {
		if w := c.rebuildTools(doc); w != nil {
			warnings = append(warnings, *w)
		}
	}

	if matchesAny(changedPaths, channelPaths) {
		if w := c.rebuildChannels(ctx, doc); w != nil {
			warnings = append(warnings, *w)
		}
	}

	if matchesAny(changedPaths, sttPaths) {
		if w := c.rebuildSTT(doc); w != nil {
			warnings = append(warnings, *w)
		}
	}

	// /ai/systemPrompt rebinds in place: internal/agent.Loop reads it
	// through a func() string closure over the live config snapshot,
	// so no swap is needed here.

	return warnings
}

func (c *Coordinator) rebuildProvider(doc config.Document) *config.Warning {
	if c.deps.Provider == nil {
		return nil
	}
	p, err := buildProvider(doc, c.deps.Config)
	if err != nil {
		c.log.Warn("hotswap: provider rebuild failed, keeping previous instance", "err", err)
		return &config.Warning{Code: "PROVIDER_SWAP_FAILED", Message: err.Error()}
	}
	c.deps.Provider.Swap(p)
	c.log.Info("hotswap: provider rebuilt", "provider", doc.AI.Provider, "model", doc.AI.Model)
	return nil
}

func (c *Coordinator) rebuildEmbedding(doc config.Document) *config.Warning {
	if c.deps.Embedding == nil {
		return nil
	}
	e, err := buildEmbedding(doc, c.deps.Config)
	if err != nil {
		c.log.Warn("hotswap: embedding rebuild failed, keeping previous instance", "err", err)
		return &config.Warning{Code: "EMBEDDING_SWAP_FAILED", Message: err.Error()}
	}
	c.deps.Embedding.Swap(e)
	// A changed embedding.dimensions does not require dropping any
	// vector index: recall has no SQLite vector extension to
	// reconcile (Non-goal), and memory.cosineSimilarity already scores
	// a dimension mismatch as 0 similarity, so records embedded under
	// the old dimensionality simply stop surfacing rather than
	// corrupting a comparison — they age out of Recall's ranking
	// naturally as new facts supersede them.
	c.log.Info("hotswap: embedding provider rebuilt", "enabled", doc.Embedding.Enabled, "dimensions", doc.Embedding.Dimensions)
	return nil
}

func (c *Coordinator) rebuildTools(doc config.Document) *config.Warning {
	if c.deps.Tools == nil {
		return nil
	}
	deps := c.deps.ToolBaseDeps
	deps.ConfigStore = c.deps.Config
	registry, err := tools.Build(doc, deps)
	if err != nil {
		c.log.Warn("hotswap: tool registry rebuild failed, keeping previous instance", "err", err)
		return &config.Warning{Code: "TOOL_SWAP_FAILED", Message: err.Error()}
	}
	c.deps.Tools.Swap(registry)
	c.log.Info("hotswap: tool registry rebuilt")
	return nil
}

func (c *Coordinator) rebuildSTT(doc config.Document) *config.Warning {
	if c.deps.STT == nil {
		return nil
	}
	backend, err := buildSTT(doc, c.deps.Config)
	if err != nil {
		c.log.Warn("hotswap: stt rebuild failed, keeping previous instance", "err", err)
		return &config.Warning{Code: "STT_SWAP_FAILED", Message: err.Error()}
	}
	c.deps.STT.Swap(backend)
	c.log.Info("hotswap: stt backend rebuilt", "backend", doc.STT.Backend)
	return nil
}

// rebuildChannels performs a stop-then-start with rollback:
// channels own exclusive external resources (a Matrix sync loop, a
// Discord gateway connection) and so cannot be proxied like the other
// components. The entire registered set is rebuilt together whenever
// any one channel's enabled flag or token secret changes.
func (c *Coordinator) rebuildChannels(ctx context.Context, doc config.Document) *config.Warning {
	if c.deps.Channels == nil {
		return nil
	}

	newChannels, err := buildChannels(doc, c.deps.Config, c.deps.CLIStdin, c.deps.CLIStdout, c.log)
	if err != nil {
		c.log.Warn("hotswap: channel set build failed, keeping previous channels running", "err", err)
		return &config.Warning{Code: "CHANNEL_SWAP_FAILED", Message: err.Error()}
	}

	previous := c.deps.Channels.Channels()

	if err := c.deps.Channels.Stop(); err != nil {
		c.log.Warn("hotswap: stopping previous channels failed", "err", err)
	}
	c.deps.Channels.Clear()

	for _, ch := range newChannels {
		c.deps.Channels.Register(ch)
	}
	if err := c.deps.Channels.Start(ctx); err != nil {
		c.log.Error("hotswap: new channel set failed to start, rolling back", "err", err)
		c.deps.Channels.Clear()
		for _, ch := range previous {
			c.deps.Channels.Register(ch)
		}
		if rerr := c.deps.Channels.Start(ctx); rerr != nil {
			c.log.Error("hotswap: rollback to previous channel set also failed", "err", rerr)
		}
		return &config.Warning{Code: "CHANNEL_SWAP_FAILED", Message: fmt.Sprintf("new channel set failed to start, rolled back: %v", err)}
	}

	c.log.Info("hotswap: channel set rebuilt", "count", len(newChannels))
	return nil
}

// providerPaths are the JSON Pointer paths that trigger a provider
// rebuild.
var providerPaths = []string{"/ai/provider", "/ai/model", "/ai/baseUrl", "/ai/region"}

// embeddingPaths trigger an embedding provider rebuild.
var embeddingPaths = []string{
	"/ai/provider",
	"/embedding/enabled", "/embedding/provider", "/embedding/model",
	"/embedding/baseUrl", "/embedding/dimensions",
}

// toolPaths trigger a tool registry rebuild (non-secret half of the
// tool rebuild set; the secret half is config.ToolSecretPaths()).
var toolPaths = []string{
	"/tools/webSearch", "/tools/webAnswer/enabled", "/tools/marker/enabled",
	"/tools/browser/enabled", "/tools/browser/livePreview", "/tools/webFetch/enabled",
	"/tools/chart/enabled",
}

// channelPaths trigger a channel set rebuild: any channel's enabled
// flag, or the matching secret path (accessToken/botToken). A secret
// write on its own, with no enabled flip, also triggers the rebuild.
var channelPaths = []string{
	"/channels/matrix/enabled", "/channels/discord/enabled",
	"/channels/telegram/enabled", "/channels/cli/enabled",
	"/channels/matrix/secrets/accessToken", "/channels/discord/secrets/botToken",
	"/channels/telegram/secrets/botToken",
}

// sttPaths trigger an STT backend rebuild.
var sttPaths = []string{"/stt/backend", "/stt/model", "/stt/awsTranscribe"}

// matchesAny reports whether any path in changed equals, or is nested
// under, any prefix in prefixes.
func matchesAny(changed, prefixes []string) bool {
	for _, c := range changed {
		for _, p := range prefixes {
			if c == p || hasPathPrefix(c, p) {
				return true
			}
		}
	}
	return false
}

func hasPathPrefix(path, prefix string) bool {
	if len(path) <= len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}
