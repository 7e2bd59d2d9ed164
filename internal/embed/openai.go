package embed

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const openaiDefaultBatchSize = 100

// OpenAIConfig holds configuration for the OpenAI embedding provider.
type OpenAIConfig struct {
	Model      string
	APIKey     string
	BaseURL    string // optional, for OpenAI-compatible endpoints
	Dimensions int
	BatchSize  int
}

// OpenAIProvider implements Provider using the OpenAI embeddings API.
type OpenAIProvider struct {
	config OpenAIConfig
	client *openai.Client
}

// NewOpenAIProvider creates an OpenAI-backed provider. The API key is
// held in memory only and never appears in logs or errors.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = openaiDefaultBatchSize
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIProvider{
		config: cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// Embed generates an embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewProviderError("openai", "embed", ErrEmptyText)
	}
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts using the API's
// native batching.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += p.config.BatchSize {
		if ctx.Err() != nil {
			return nil, NewProviderError("openai", "embedBatch", ErrContextCanceled)
		}

		end := i + p.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		req := openai.EmbeddingRequest{
			Input: texts[i:end],
			Model: openai.EmbeddingModel(p.config.Model),
		}
		resp, err := p.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return nil, NewProviderError("openai", "embedBatch", err)
		}
		if len(resp.Data) != end-i {
			return nil, NewProviderError("openai", "embedBatch",
				fmt.Errorf("expected %d embeddings, got %d", end-i, len(resp.Data)))
		}

		for j, data := range resp.Data {
			if p.config.Dimensions > 0 && len(data.Embedding) != p.config.Dimensions {
				return nil, NewProviderError("openai", "embedBatch",
					fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, p.config.Dimensions, len(data.Embedding)))
			}
			results[i+j] = data.Embedding
		}
	}
	return results, nil
}

// Model returns the model name.
func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

// Dimensions returns the embedding vector dimensions.
func (p *OpenAIProvider) Dimensions() int {
	return p.config.Dimensions
}

// Ping verifies the API is reachable with the configured key by
// embedding a trivial input.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	if p.config.APIKey == "" {
		return NewProviderError("openai", "ping", fmt.Errorf("%w: no API key configured", ErrProviderUnavailable))
	}
	if _, err := p.EmbedBatch(ctx, []string{"ping"}); err != nil {
		return NewProviderError("openai", "ping", ErrProviderUnavailable)
	}
	return nil
}
