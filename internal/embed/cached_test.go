package embed

import (
	"context"
	"sync/atomic"
	"testing"
)

// countingProvider wraps another provider and counts embed calls.
type countingProvider struct {
	Provider
	calls atomic.Int64
}

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	return p.Provider.Embed(ctx, text)
}

func (p *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(int64(len(texts)))
	return p.Provider.EmbedBatch(ctx, texts)
}

func TestCachedProviderHits(t *testing.T) {
	inner := &countingProvider{Provider: NewHashProvider("hash-384", 16)}
	p, err := Cached(inner, 8)
	if err != nil {
		t.Fatalf("Cached() error = %v", err)
	}
	ctx := context.Background()

	first, err := p.Embed(ctx, "repeated")
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Embed(ctx, "repeated")
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls.Load())
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("cached result differs from original")
		}
	}
}

func TestCachedProviderBatchOnlyEmbedsMisses(t *testing.T) {
	inner := &countingProvider{Provider: NewHashProvider("hash-384", 16)}
	p, err := Cached(inner, 8)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := p.Embed(ctx, "warm"); err != nil {
		t.Fatal(err)
	}
	inner.calls.Store(0)

	vecs, err := p.EmbedBatch(ctx, []string{"warm", "cold", "warm"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("batch size = %d", len(vecs))
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1 (only the miss)", inner.calls.Load())
	}
}

func TestCachedProviderEviction(t *testing.T) {
	inner := &countingProvider{Provider: NewHashProvider("hash-384", 16)}
	p, err := Cached(inner, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		if _, err := p.Embed(ctx, text); err != nil {
			t.Fatal(err)
		}
	}
	if p.Len() != 2 {
		t.Errorf("cache holds %d entries, want 2", p.Len())
	}
}
