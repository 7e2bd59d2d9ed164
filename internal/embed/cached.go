package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider wraps a Provider with an in-memory LRU over text
// hashes. Regenerating embeddings for an unchanged table hits the
// cache instead of the backend, which also keeps repeated runs
// byte-identical for providers that are deterministic.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// Cached wraps the provider with an LRU cache of the given size.
func Cached(inner Provider, size int) (*CachedProvider, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

func cacheKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// Embed returns a cached vector when available.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(p.inner.Model(), text)
	if vec, ok := p.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch serves cached entries and forwards only the misses to the
// backend in one batch.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := p.cache.Get(cacheKey(p.inner.Model(), text)); ok {
			results[i] = vec
		} else {
			missTexts = append(missTexts, text)
			missIdx = append(missIdx, i)
		}
	}

	if len(missTexts) > 0 {
		vecs, err := p.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			i := missIdx[j]
			results[i] = vec
			p.cache.Add(cacheKey(p.inner.Model(), texts[i]), vec)
		}
	}
	return results, nil
}

// Model returns the wrapped provider's model name.
func (p *CachedProvider) Model() string {
	return p.inner.Model()
}

// Dimensions returns the wrapped provider's dimensions.
func (p *CachedProvider) Dimensions() int {
	return p.inner.Dimensions()
}

// Ping forwards to the wrapped provider.
func (p *CachedProvider) Ping(ctx context.Context) error {
	return p.inner.Ping(ctx)
}

// Len returns the number of cached embeddings.
func (p *CachedProvider) Len() int {
	return p.cache.Len()
}
