package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaURL     = "http://localhost:11434"
	defaultOllamaTimeout = 30 * time.Second
	defaultOllamaRetries = 3
	ollamaRetryInterval  = 500 * time.Millisecond
)

// OllamaConfig holds configuration for the Ollama embedding provider.
type OllamaConfig struct {
	URL        string
	Model      string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
}

// OllamaProvider implements Provider using Ollama's embeddings API.
type OllamaProvider struct {
	config OllamaConfig
	client *http.Client
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// NewOllamaProvider creates a new Ollama embedding provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.URL == "" {
		cfg.URL = defaultOllamaURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultOllamaTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultOllamaRetries
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &OllamaProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Embed generates an embedding for a single text, retrying transient
// failures with linear backoff.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewProviderError("ollama", "embed", ErrEmptyText)
	}

	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, NewProviderError("ollama", "embed", ErrContextCanceled)
			case <-time.After(ollamaRetryInterval * time.Duration(attempt)):
			}
		}

		embedding, err := p.doEmbed(ctx, text)
		if err == nil {
			return embedding, nil
		}
		lastErr = err
		if err == ErrContextCanceled || err == ErrModelNotFound {
			return nil, NewProviderError("ollama", "embed", err)
		}
	}
	return nil, NewProviderError("ollama", "embed", lastErr)
}

func (p *OllamaProvider) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbeddingRequest{Model: p.config.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrContextCanceled
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ollamaErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			if strings.Contains(errResp.Error, "model") && strings.Contains(errResp.Error, "not found") {
				return nil, ErrModelNotFound
			}
			return nil, fmt.Errorf("ollama error: %s", errResp.Error)
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var embResp ollamaEmbeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	embedding := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		embedding[i] = float32(v)
	}
	if p.config.Dimensions > 0 && len(embedding) != p.config.Dimensions {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, p.config.Dimensions, len(embedding))
	}
	return embedding, nil
}

// EmbedBatch embeds texts sequentially; Ollama has no native batch
// endpoint.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, NewProviderError("ollama", "embedBatch", fmt.Errorf("text %d: %w", i, err))
		}
		results[i] = vec
	}
	return results, nil
}

// Model returns the model name.
func (p *OllamaProvider) Model() string {
	return p.config.Model
}

// Dimensions returns the embedding vector dimensions.
func (p *OllamaProvider) Dimensions() int {
	return p.config.Dimensions
}

// Ping checks that Ollama is running and the model is present.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL+"/api/show",
		strings.NewReader(fmt.Sprintf(`{"name":%q}`, p.config.Model)))
	if err != nil {
		return NewProviderError("ollama", "ping", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return NewProviderError("ollama", "ping", ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return NewProviderError("ollama", "ping", ErrModelNotFound)
	default:
		return NewProviderError("ollama", "ping", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}
