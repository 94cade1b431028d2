package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultEmbeddingBase  = "https://api.openai.com/v1"
	defaultEmbeddingModel = "text-embedding-3-small"
)

// OpenAIEmbeddingConfig configures the OpenAI embeddings adapter.
type OpenAIEmbeddingConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// openAIEmbedding implements EmbeddingProvider using the OpenAI
// embeddings API.
type openAIEmbedding struct {
	cfg    OpenAIEmbeddingConfig
	client *http.Client
}

// NewOpenAIEmbedding creates an EmbeddingProvider backed by the OpenAI
// (or compatible) embeddings API.
func NewOpenAIEmbedding(cfg OpenAIEmbeddingConfig) EmbeddingProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEmbeddingBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &openAIEmbedding{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// Embed produces a vector embedding for text via the OpenAI embeddings
// API.
func (e *openAIEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	data, err := json.Marshal(embeddingRequest{Input: text, Model: e.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("provider: marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("provider: create embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider: embedding http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider: read embedding response: %w", err)
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("provider: decode embedding response: %w", err)
	}
	if embResp.Error != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("provider: embedding rate limit (HTTP 429): %s", embResp.Error.Message)
		}
		return nil, fmt.Errorf("provider: embedding API error (%s): %s", embResp.Error.Type, embResp.Error.Message)
	}
	if len(embResp.Data) == 0 {
		return nil, fmt.Errorf("provider: no embedding data returned")
	}
	return embResp.Data[0].Embedding, nil
}

var _ EmbeddingProvider = (*openAIEmbedding)(nil)
