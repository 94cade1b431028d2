package hotswap_test

import (
	"context"
	"testing"

	"github.com/maziarzamani/spaceduck-sub000/internal/channel"
	"github.com/maziarzamani/spaceduck-sub000/internal/config"
	"github.com/maziarzamani/spaceduck-sub000/internal/hotswap"
	"github.com/maziarzamani/spaceduck-sub000/internal/provider"
	"github.com/maziarzamani/spaceduck-sub000/internal/stt"
	"github.com/maziarzamani/spaceduck-sub000/internal/tools"
)

func testKey() []byte { return make([]byte, 32) }

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	s, err := config.New(t.TempDir(), testKey())
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}
	return s
}

func TestCoordinator_Apply_NoMatchingPaths_NoWarnings(t *testing.T) {
	store := newTestStore(t)
	prov := provider.NewSwappable(provider.Unconfigured{})
	c := hotswap.New(hotswap.Deps{Config: store, Provider: prov})

	warnings := c.Apply(context.Background(), store.Current(), []string{"/gateway/name"})
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings for an unrelated path, got %v", warnings)
	}
}

func TestCoordinator_Apply_ProviderRebuildFailure_KeepsPreviousInstance(t *testing.T) {
	store := newTestStore(t)
	prov := provider.NewSwappable(provider.Unconfigured{})
	c := hotswap.New(hotswap.Deps{Config: store, Provider: prov})

	doc := store.Current()
	doc.AI.Provider = "openai" // no api key secret set, build must fail

	warnings := c.Apply(context.Background(), doc, []string{"/ai/model"})
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %v", warnings)
	}
	if warnings[0].Code != "PROVIDER_SWAP_FAILED" {
		t.Fatalf("expected PROVIDER_SWAP_FAILED, got %s", warnings[0].Code)
	}

	// previous instance (Unconfigured) must still be installed
	if _, err := prov.Stream(context.Background(), provider.CompletionRequest{}); err == nil {
		t.Fatal("expected the previous Unconfigured provider to still be live after a failed swap")
	}
}

func TestCoordinator_Apply_ProviderRebuildSuccess_Swaps(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetSecret("/ai/secrets/apiKey", "sk-test"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}
	prov := provider.NewSwappable(provider.Unconfigured{})
	c := hotswap.New(hotswap.Deps{Config: store, Provider: prov})

	doc := store.Current()
	doc.AI.Provider = "openai"
	doc.AI.Model = "gpt-4o-mini"

	warnings := c.Apply(context.Background(), doc, []string{"/ai/provider"})
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestCoordinator_Apply_EmbeddingDimensionChange_DegradesGracefully(t *testing.T) {
	store := newTestStore(t)
	emb := provider.NewSwappableEmbedding(provider.NoopEmbedding{})
	c := hotswap.New(hotswap.Deps{Config: store, Embedding: emb})

	doc := store.Current()
	doc.Embedding.Enabled = false
	doc.Embedding.Dimensions = 3072

	warnings := c.Apply(context.Background(), doc, []string{"/embedding/dimensions"})
	if len(warnings) != 0 {
		t.Fatalf("expected a dimension-only change to rebuild cleanly, got %v", warnings)
	}
	vec, err := emb.Embed(context.Background(), "hello")
	if err != nil || vec != nil {
		t.Fatalf("expected NoopEmbedding to remain installed, got vec=%v err=%v", vec, err)
	}
}

func TestCoordinator_Apply_UnknownSTTBackend_WarnsAndKeepsPrevious(t *testing.T) {
	store := newTestStore(t)
	backend := stt.NewSwappable(stt.Unconfigured{})
	c := hotswap.New(hotswap.Deps{Config: store, STT: backend})

	doc := store.Current()
	doc.STT.Backend = "not-a-real-backend"

	warnings := c.Apply(context.Background(), doc, []string{"/stt/backend"})
	if len(warnings) != 1 || warnings[0].Code != "STT_SWAP_FAILED" {
		t.Fatalf("expected STT_SWAP_FAILED, got %v", warnings)
	}
}

func TestCoordinator_Apply_ToolsRebuild(t *testing.T) {
	store := newTestStore(t)
	reg := tools.NewSwappable(tools.New())
	c := hotswap.New(hotswap.Deps{Config: store, Tools: reg, ToolBaseDeps: tools.Deps{}})

	doc := store.Current()
	doc.Tools.WebFetch.Enabled = true

	warnings := c.Apply(context.Background(), doc, []string{"/tools/webFetch/enabled"})
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestCoordinator_Apply_ChannelsRebuild_NoChannelsConfigured(t *testing.T) {
	store := newTestStore(t)
	gw := channel.New(nil, nil, nil)
	c := hotswap.New(hotswap.Deps{Config: store, Channels: gw})

	doc := store.Current()
	doc.Channels.CLI.Enabled = false // the CLI channel is the only one enabled by default

	warnings := c.Apply(context.Background(), doc, []string{"/channels/discord/enabled"})
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings rebuilding to an empty channel set, got %v", warnings)
	}
	if len(gw.Channels()) != 0 {
		t.Fatalf("expected no channels registered, got %d", len(gw.Channels()))
	}
}
