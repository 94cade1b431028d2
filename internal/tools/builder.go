package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/maziarzamani/spaceduck-sub000/internal/config"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

// AttachmentStore is the subset of internal/attachments.Store the
// marker_scan handler needs: a readable local path for a previously
// uploaded attachment.
type AttachmentStore interface {
	LocalPath(ctx context.Context, id string) (string, error)
}

// AttachmentSaver is the optional write side of the attachment store.
// chart_render stores its rendered SVG through it when available, so
// the model's reply can reference an opaque attachment id instead of
// inlining markup; internal/attachments.Store satisfies both this and
// AttachmentStore.
type AttachmentSaver interface {
	Save(ctx context.Context, filename, mime string, r io.Reader, maxBytes int64) (store.Attachment, error)
}

// BrowserPool is the subset of internal/browser.Pool the browser family
// of tools needs, keyed by the active conversation. Callers wire
// (*browser.Pool).Acquire through an adapter that renders its Handle as
// a single descriptive string (container ID or devtools URL) so this
// package stays independent of the browser package's types.
type BrowserPool interface {
	Acquire(ctx context.Context, conversationID string) (string, error)
}

// ConversationIDFunc extracts the conversation a tool call belongs to
// from its context, so browser and marker_scan handlers can be
// conversation-scoped without threading an explicit parameter through
// Registry.Execute.
type ConversationIDFunc func(ctx context.Context) string

// Deps is every optional collaborator the builder can wire a tool to.
// A nil field simply means that tool family stays gated off: a feature
// is present only if its dependency exists.
type Deps struct {
	Log             *slog.Logger
	HTTPClient      *http.Client
	Attachments     AttachmentStore
	ConfigStore     *config.Store
	Browser         BrowserPool
	ConversationID  ConversationIDFunc
	MarkerBinary    string // path to the external marker_scan binary; "" disables it
}

// Build returns a Registry populated with every tool the current config
// document and available Deps enable, re-run wholesale on every config
// change rather than once at startup.
func Build(doc config.Document, deps Deps) (*Registry, error) {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	r := New()

	if doc.Tools.WebFetch.Enabled {
		if err := r.Register(webFetchDefinition(), webFetchHandler(httpClient)); err != nil {
			return nil, err
		}
	}

	if doc.Tools.WebSearch.Enabled && deps.ConfigStore != nil {
		if key, ok := deps.ConfigStore.Secret("/tools/webSearch/secrets/braveApiKey"); ok && key != "" {
			if err := r.Register(webSearchDefinition(), webSearchHandler(httpClient, doc.Tools.WebSearch.Provider, key)); err != nil {
				return nil, err
			}
		} else {
			log.Warn("tools: web_search enabled but no provider key configured; skipping")
		}
	}

	if doc.Tools.WebAnswer.Enabled && deps.ConfigStore != nil {
		if key, ok := deps.ConfigStore.Secret("/tools/webAnswer/secrets/perplexityApiKey"); ok && key != "" {
			if err := r.Register(webAnswerDefinition(), webAnswerHandler(httpClient, key)); err != nil {
				return nil, err
			}
		} else {
			log.Warn("tools: web_answer enabled but no perplexity key configured; skipping")
		}
	}

	if doc.Tools.Marker.Enabled && deps.MarkerBinary != "" && deps.Attachments != nil {
		if err := r.Register(markerScanDefinition(), markerScanHandler(deps.MarkerBinary, deps.Attachments)); err != nil {
			return nil, err
		}
	}

	if doc.Tools.Browser.Enabled && deps.Browser != nil && deps.ConversationID != nil {
		for _, t := range browserTools(deps.Browser, deps.ConversationID) {
			if err := r.Register(t.Def, t.Handler); err != nil {
				return nil, err
			}
		}
	}

	if doc.Tools.ConfigTool.Enabled && deps.ConfigStore != nil {
		if err := r.Register(configGetDefinition(), configGetHandler(deps.ConfigStore)); err != nil {
			return nil, err
		}
		if err := r.Register(configSetDefinition(), configSetHandler(deps.ConfigStore)); err != nil {
			return nil, err
		}
	}

	if doc.Tools.Chart.Enabled {
		saver, _ := deps.Attachments.(AttachmentSaver)
		if err := r.Register(chartRenderDefinition(), chartRenderHandler(saver)); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// --- web_fetch ---------------------------------------------------------

func webFetchDefinition() Definition {
	return Definition{
		Name:        "web_fetch",
		Description: "Fetch the text content of a URL.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "The URL to fetch."},
			},
			"required": []string{"url"},
		},
	}
}

func webFetchHandler(client *http.Client) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		url, _ := args["url"].(string)
		if url == "" {
			return "", fmt.Errorf("web_fetch: url is required")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("web_fetch: build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("web_fetch: request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
		if err != nil {
			return "", fmt.Errorf("web_fetch: read body: %w", err)
		}
		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("web_fetch: upstream returned %d", resp.StatusCode)
		}
		return string(body), nil
	}
}

// --- web_search ----------------------------------------------------------

func webSearchDefinition() Definition {
	return Definition{
		Name:        "web_search",
		Description: "Search the web and return a list of matching results.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "The search query."},
			},
			"required": []string{"query"},
		},
	}
}

type braveSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func webSearchHandler(client *http.Client, provider, apiKey string) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("web_search: query is required")
		}
		if !strings.EqualFold(provider, "brave") {
			return "", fmt.Errorf("web_search: unsupported provider %q", provider)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			"https://api.search.brave.com/res/v1/web/search?q="+url.QueryEscape(query), nil)
		if err != nil {
			return "", fmt.Errorf("web_search: build request: %w", err)
		}
		req.Header.Set("X-Subscription-Token", apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("web_search: request failed: %w", err)
		}
		defer resp.Body.Close()

		var parsed braveSearchResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return "", fmt.Errorf("web_search: decode response: %w", err)
		}

		var b strings.Builder
		for _, res := range parsed.Web.Results {
			fmt.Fprintf(&b, "- %s (%s): %s\n", res.Title, res.URL, res.Description)
		}
		if b.Len() == 0 {
			return "No results found.", nil
		}
		return b.String(), nil
	}
}

// --- web_answer ----------------------------------------------------------

func webAnswerDefinition() Definition {
	return Definition{
		Name:        "web_answer",
		Description: "Ask a question that requires current web knowledge and get a synthesized answer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{"type": "string"},
			},
			"required": []string{"question"},
		},
	}
}

type perplexityRequest struct {
	Model    string              `json:"model"`
	Messages []perplexityMessage `json:"messages"`
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityResponse struct {
	Choices []struct {
		Message perplexityMessage `json:"message"`
	} `json:"choices"`
}

func webAnswerHandler(client *http.Client, apiKey string) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		question, _ := args["question"].(string)
		if question == "" {
			return "", fmt.Errorf("web_answer: question is required")
		}

		payload := perplexityRequest{
			Model:    "sonar",
			Messages: []perplexityMessage{{Role: "user", Content: question}},
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("web_answer: marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			"https://api.perplexity.ai/chat/completions", bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("web_answer: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("web_answer: request failed: %w", err)
		}
		defer resp.Body.Close()

		var parsed perplexityResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return "", fmt.Errorf("web_answer: decode response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return "", fmt.Errorf("web_answer: no answer returned")
		}
		return parsed.Choices[0].Message.Content, nil
	}
}

// --- marker_scan -----------------------------------------------------------

func markerScanDefinition() Definition {
	return Definition{
		Name:        "marker_scan",
		Description: "Extract structured text from a previously uploaded document attachment.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"attachment_id": map[string]any{"type": "string"},
			},
			"required": []string{"attachment_id"},
		},
	}
}

func markerScanHandler(binary string, store AttachmentStore) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		id, _ := args["attachment_id"].(string)
		if id == "" {
			return "", fmt.Errorf("marker_scan: attachment_id is required")
		}
		localPath, err := store.LocalPath(ctx, id)
		if err != nil {
			return "", fmt.Errorf("marker_scan: resolve attachment: %w", err)
		}

		cmd := exec.CommandContext(ctx, binary, localPath)
		out, err := cmd.Output()
		if err != nil {
			return "", fmt.Errorf("marker_scan: scan failed: %w", err)
		}
		return string(out), nil
	}
}

// --- browser family --------------------------------------------------------

type boundTool struct {
	Def     Definition
	Handler Handler
}

func browserTools(pool BrowserPool, convID ConversationIDFunc) []boundTool {
	return []boundTool{
		{
			Def: Definition{
				Name:        "browser_open",
				Description: "Open (or reuse) a headless browser session for the current conversation.",
				Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				id := convID(ctx)
				handle, err := pool.Acquire(ctx, id)
				if err != nil {
					return "", fmt.Errorf("browser_open: %w", err)
				}
				return fmt.Sprintf("session ready: %s", handle), nil
			},
		},
	}
}

// --- config_get / config_set ------------------------------------------------

func configGetDefinition() Definition {
	return Definition{
		Name:        "config_get",
		Description: "Read the current redacted gateway configuration.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func configGetHandler(store *config.Store) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		snapshot := store.GetRedacted()
		data, err := json.Marshal(snapshot)
		if err != nil {
			return "", fmt.Errorf("config_get: marshal snapshot: %w", err)
		}
		return string(data), nil
	}
}

func configSetDefinition() Definition {
	return Definition{
		Name:        "config_set",
		Description: "Patch one non-secret configuration path. Secret paths must be set through the pairing-authenticated HTTP API, not this tool.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":         map[string]any{"type": "string"},
				"value":        map[string]any{"type": "string"},
				"expectedRev":  map[string]any{"type": "string"},
			},
			"required": []string{"path", "value", "expectedRev"},
		},
	}
}

func configSetHandler(store *config.Store) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		path, _ := args["path"].(string)
		value, _ := args["value"].(string)
		rev, _ := args["expectedRev"].(string)
		if path == "" || rev == "" {
			return "", fmt.Errorf("config_set: path and expectedRev are required")
		}
		for _, secretPath := range config.SecretPaths() {
			if path == secretPath {
				return "", fmt.Errorf("config_set: %q is a secret path; use the pairing-authenticated HTTP API", path)
			}
		}

		result := store.Patch([]config.PatchOp{{Op: "set", Path: path, Value: value}}, rev)
		if result.Conflict {
			return "", fmt.Errorf("config_set: revision conflict, current rev is %s", result.ActualRev)
		}
		if result.Validation {
			return "", fmt.Errorf("config_set: validation failed: %s", strings.Join(result.Issues, "; "))
		}
		if result.PatchError {
			return "", fmt.Errorf("config_set: %s", result.ErrorMessage)
		}
		return fmt.Sprintf("applied, new revision %s", result.NewRev), nil
	}
}

