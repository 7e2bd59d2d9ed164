package embed

import (
	"context"
	"math"
	"testing"
)

func TestHashProviderDeterministic(t *testing.T) {
	p := NewHashProvider("hash-384", 384)
	ctx := context.Background()

	a, err := p.Embed(ctx, "hello world")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := p.Embed(ctx, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 384 {
		t.Fatalf("dimension = %d, want 384", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("component %d differs between identical inputs", i)
		}
	}

	c, _ := p.Embed(ctx, "different text")
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different inputs produced identical vectors")
	}
}

func TestHashProviderNormalized(t *testing.T) {
	p := NewHashProvider("hash-384", 64)
	vec, err := p.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatal(err)
	}

	var norm float64
	for _, f := range vec {
		norm += float64(f) * float64(f)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Errorf("norm = %v, want 1", math.Sqrt(norm))
	}
}

func TestHashProviderEmptyText(t *testing.T) {
	p := NewHashProvider("hash-384", 32)
	if _, err := p.Embed(context.Background(), ""); err != nil {
		t.Fatalf("empty text should embed fine, got %v", err)
	}
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestHashProviderBatch(t *testing.T) {
	p := NewHashProvider("hash-384", 16)
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("batch size = %d, want 3", len(vecs))
	}

	single, _ := p.Embed(context.Background(), "b")
	for i := range single {
		if vecs[1][i] != single[i] {
			t.Fatal("batch and single results differ for same input")
		}
	}
}
