package config_test

import (
	"testing"

	"github.com/maziarzamani/spaceduck-sub000/internal/config"
)

func testKey() []byte {
	return make([]byte, 32) // zero key is fine for tests; never used against real secrets
}

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := config.New(dir, testKey())
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}
	return s
}

func TestNew_WritesDefaultsOnFirstRun(t *testing.T) {
	s := newTestStore(t)
	cur := s.Current()
	if cur.Gateway.Name == "" {
		t.Fatal("expected default gateway name to be filled in")
	}
	if s.Rev() == "" {
		t.Fatal("expected a non-empty rev")
	}
}

func TestRev_StableAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s1, err := config.New(dir, testKey())
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}
	rev1 := s1.Rev()

	s2, err := config.New(dir, testKey())
	if err != nil {
		t.Fatalf("config.New (reload): %v", err)
	}
	rev2 := s2.Rev()

	if rev1 != rev2 {
		t.Fatalf("rev changed across reload with no mutation: %s != %s", rev1, rev2)
	}
}

func TestPatch_ConflictOnStaleRev(t *testing.T) {
	s := newTestStore(t)
	result := s.Patch([]config.PatchOp{{Op: "set", Path: "/ai/model", Value: "gpt-4o"}}, "stale-rev")
	if !result.Conflict {
		t.Fatalf("expected conflict, got %+v", result)
	}
	if result.ActualRev != s.Rev() {
		t.Errorf("ActualRev = %q, want %q", result.ActualRev, s.Rev())
	}
}

func TestPatch_OkUpdatesValueAndRev(t *testing.T) {
	s := newTestStore(t)
	before := s.Rev()

	result := s.Patch([]config.PatchOp{{Op: "set", Path: "/ai/model", Value: "gpt-4o"}}, before)
	if !result.Ok {
		t.Fatalf("expected ok, got %+v", result)
	}
	if result.NewRev == before {
		t.Fatal("expected rev to change after a content mutation")
	}
	if s.Current().AI.Model != "gpt-4o" {
		t.Fatalf("AI.Model = %q, want gpt-4o", s.Current().AI.Model)
	}
}

func TestPatch_HotApplicableVsNeedsRestart(t *testing.T) {
	s := newTestStore(t)

	result := s.Patch([]config.PatchOp{{Op: "set", Path: "/ai/model", Value: "gpt-4o"}}, s.Rev())
	if !result.Ok {
		t.Fatalf("expected ok, got %+v", result)
	}
	if len(result.NeedsRestart) != 0 {
		t.Errorf("expected /ai/model to be hot-applicable, got needsRestart=%v", result.NeedsRestart)
	}

	result = s.Patch([]config.PatchOp{{Op: "set", Path: "/gateway/maxUploadMB", Value: 50}}, s.Rev())
	if !result.Ok {
		t.Fatalf("expected ok, got %+v", result)
	}
	if len(result.NeedsRestart) != 1 || result.NeedsRestart[0] != "/gateway/maxUploadMB" {
		t.Errorf("expected /gateway/maxUploadMB to require restart, got %v", result.NeedsRestart)
	}
}

func TestPatch_RejectsSecretPath(t *testing.T) {
	s := newTestStore(t)
	result := s.Patch([]config.PatchOp{{Op: "set", Path: "/ai/secrets/apiKey", Value: "sk-test"}}, s.Rev())
	if !result.PatchError {
		t.Fatalf("expected patchError for a secret path, got %+v", result)
	}
}

func TestPatch_ValidationFailureRejected(t *testing.T) {
	s := newTestStore(t)
	result := s.Patch([]config.PatchOp{{Op: "set", Path: "/ai/model", Value: ""}}, s.Rev())
	if !result.Validation {
		t.Fatalf("expected validation failure, got %+v", result)
	}
	if s.Current().AI.Model == "" {
		t.Fatal("a rejected patch must not mutate the cached document")
	}
}

func TestSetSecret_DoesNotChangeRev(t *testing.T) {
	s := newTestStore(t)
	before := s.Rev()

	if err := s.SetSecret("/ai/secrets/apiKey", "sk-test"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}
	if s.Rev() != before {
		t.Fatalf("rev changed after setting a secret: %s != %s", before, s.Rev())
	}

	entries := s.GetRedacted().Secrets
	found := false
	for _, e := range entries {
		if e.Path == "/ai/secrets/apiKey" {
			found = true
			if !e.IsSet {
				t.Error("expected apiKey entry to be marked set")
			}
		}
	}
	if !found {
		t.Fatal("expected /ai/secrets/apiKey in secret entries")
	}

	if err := s.UnsetSecret("/ai/secrets/apiKey"); err != nil {
		t.Fatalf("UnsetSecret: %v", err)
	}
	if s.Rev() != before {
		t.Fatalf("rev changed after unsetting a secret: %s != %s", before, s.Rev())
	}
	if _, ok := s.Secret("/ai/secrets/apiKey"); ok {
		t.Fatal("expected secret to be gone after unset")
	}
}

func TestSetSecret_RejectsUnknownPath(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetSecret("/not/a/secret", "value"); err == nil {
		t.Fatal("expected error for unknown secret path")
	}
}
