package tools_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maziarzamani/spaceduck-sub000/internal/config"
	"github.com/maziarzamani/spaceduck-sub000/internal/tools"
)

func TestBuild_WebFetchGatedByConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	doc := config.Defaults()
	doc.Tools.WebFetch.Enabled = false
	r, err := tools.Build(doc, tools.Deps{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.Has("web_fetch") {
		t.Fatal("expected web_fetch absent when disabled")
	}

	doc.Tools.WebFetch.Enabled = true
	r, err = tools.Build(doc, tools.Deps{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !r.Has("web_fetch") {
		t.Fatal("expected web_fetch present when enabled")
	}

	result, err := r.Execute(context.Background(), tools.Call{Name: "web_fetch", Args: map[string]any{"url": srv.URL}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "hello" {
		t.Fatalf("expected %q, got %q", "hello", result.Content)
	}
}

func TestBuild_WebSearchSkippedWithoutKey(t *testing.T) {
	doc := config.Defaults()
	doc.Tools.WebSearch.Enabled = true
	doc.Tools.WebSearch.Provider = "brave"

	r, err := tools.Build(doc, tools.Deps{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.Has("web_search") {
		t.Fatal("expected web_search absent without a configured key")
	}
}

func TestBuild_ConfigToolRegisteredWhenStorePresent(t *testing.T) {
	dir := t.TempDir()
	store, err := config.New(dir, make([]byte, 32))
	if err != nil {
		t.Fatalf("new config store: %v", err)
	}

	doc := config.Defaults()
	doc.Tools.ConfigTool.Enabled = true

	r, err := tools.Build(doc, tools.Deps{ConfigStore: store})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !r.Has("config_get") || !r.Has("config_set") {
		t.Fatal("expected config_get and config_set registered")
	}

	result, err := r.Execute(context.Background(), tools.Call{Name: "config_get", Args: map[string]any{}})
	if err != nil {
		t.Fatalf("execute config_get: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
}

func TestBuild_ChartRenderGatedByConfig(t *testing.T) {
	doc := config.Defaults()
	doc.Tools.Chart.Enabled = false
	r, err := tools.Build(doc, tools.Deps{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.Has("chart_render") {
		t.Fatal("expected chart_render absent when disabled")
	}

	doc.Tools.Chart.Enabled = true
	r, err = tools.Build(doc, tools.Deps{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !r.Has("chart_render") {
		t.Fatal("expected chart_render present when enabled")
	}

	// Without an attachment store the handler returns the SVG itself.
	result, err := r.Execute(context.Background(), tools.Call{Name: "chart_render", Args: map[string]any{
		"kind":   "bar",
		"title":  "weekly spend",
		"labels": []any{"mon", "tue"},
		"series": []any{
			map[string]any{"name": "usd", "data": []any{1.5, 3.0}},
		},
	}})
	if err != nil {
		t.Fatalf("execute chart_render: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !strings.HasPrefix(result.Content, "<svg") || !strings.Contains(result.Content, "weekly spend") {
		t.Fatalf("expected SVG output with title, got: %.120s", result.Content)
	}

	// A series without data is rejected as a tool error, not a crash.
	result, err = r.Execute(context.Background(), tools.Call{Name: "chart_render", Args: map[string]any{
		"kind":   "line",
		"series": []any{map[string]any{"name": "empty"}},
	}})
	if err != nil {
		t.Fatalf("execute chart_render: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for a series without data")
	}
}
