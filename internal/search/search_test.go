package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/garyhukkeri/vectab/internal/embed"
	"github.com/garyhukkeri/vectab/internal/orchestrate"
	"github.com/garyhukkeri/vectab/internal/storage"
	"github.com/garyhukkeri/vectab/internal/tabular"
)

// newTestStack creates a table with an embedded column generated by
// the deterministic hash model, so query embedding works offline.
func newTestStack(t *testing.T) (*Engine, storage.Engine) {
	t.Helper()
	st, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "tables.db"), storage.Options{})
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	schema := tabular.Schema{
		{Name: "title", Type: tabular.TypeText},
		{Name: "price", Type: tabular.TypeNumber},
	}
	d := tabular.NewDataset("title", "price")
	titles := []string{"wireless headphones", "wired headphones", "coffee grinder", "espresso machine", "desk lamp"}
	for i, title := range titles {
		_ = d.Append(title, float64((i+1)*10))
	}
	ctx := context.Background()
	if _, err := st.CreateTable(ctx, "products", schema, d); err != nil {
		t.Fatal(err)
	}

	registry := embed.NewRegistry(embed.RegistryConfig{Models: embed.DefaultModels()})
	provider, err := registry.Get("hash-384")
	if err != nil {
		t.Fatal(err)
	}
	o := orchestrate.New(st, nil)
	if _, err := o.Generate(ctx, orchestrate.Spec{
		Table:        "products",
		SourceFields: []string{"title"},
		TargetColumn: "title_vec",
	}, provider); err != nil {
		t.Fatal(err)
	}

	return New(st, registry, nil), st
}

func TestSearchRanksExactMatchFirst(t *testing.T) {
	e, _ := newTestStack(t)

	resp, err := e.Search(context.Background(), Request{
		Table:  "products",
		Column: "title_vec",
		Query:  "wireless headphones",
		TopK:   3,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(resp.Matches) != 3 {
		t.Fatalf("matches = %d, want 3", len(resp.Matches))
	}
	// The query text is identical to a stored row, so the hash model
	// gives it distance zero and the top score.
	top := resp.Matches[0]
	if top.Values["title"] != "wireless headphones" {
		t.Errorf("top match = %v", top.Values["title"])
	}
	if top.Rank != 1 {
		t.Errorf("top rank = %d, want 1", top.Rank)
	}
	if top.Score < 0.999 {
		t.Errorf("top score = %v, want ~1", top.Score)
	}
	for i := 1; i < len(resp.Matches); i++ {
		if resp.Matches[i].Score > resp.Matches[i-1].Score {
			t.Error("scores out of order")
		}
		if resp.Matches[i].Rank != i+1 {
			t.Errorf("rank %d = %d", i, resp.Matches[i].Rank)
		}
	}
	if resp.Model != "hash-384" {
		t.Errorf("model = %q", resp.Model)
	}
}

func TestSearchFewerRowsThanTopK(t *testing.T) {
	e, _ := newTestStack(t)

	resp, err := e.Search(context.Background(), Request{
		Table:  "products",
		Column: "title_vec",
		Query:  "anything",
		TopK:   50,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Matches) != 5 {
		t.Errorf("matches = %d, want all 5 rows", len(resp.Matches))
	}
}

func TestSearchWithFilter(t *testing.T) {
	e, _ := newTestStack(t)

	resp, err := e.Search(context.Background(), Request{
		Table:  "products",
		Column: "title_vec",
		Query:  "headphones",
		TopK:   10,
		Filter: tabular.Where("price", tabular.OpLte, 20.0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Matches) != 2 {
		t.Fatalf("matches = %d, want the 2 rows under the price cap", len(resp.Matches))
	}
	for _, m := range resp.Matches {
		if m.Values["price"].(float64) > 20 {
			t.Errorf("filter leaked row with price %v", m.Values["price"])
		}
	}
}

func TestSearchInvalidTopK(t *testing.T) {
	e, _ := newTestStack(t)

	// Zero is rejected like any other non-positive value, never
	// defaulted: callers wanting a default pick one before calling.
	for _, topK := range []int{0, -1, -50} {
		resp, err := e.Search(context.Background(), Request{
			Table:  "products",
			Column: "title_vec",
			Query:  "x",
			TopK:   topK,
		})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Search(top_k=%d) error = %v, want ErrInvalidArgument", topK, err)
		}
		if resp != nil {
			t.Errorf("Search(top_k=%d) returned matches", topK)
		}
	}
}

func TestSearchMissingColumn(t *testing.T) {
	e, _ := newTestStack(t)

	_, err := e.Search(context.Background(), Request{
		Table:  "products",
		Column: "no_vec",
		Query:  "x",
		TopK:   3,
	})
	if !errors.Is(err, ErrVectorColumnNotFound) {
		t.Fatalf("error = %v, want ErrVectorColumnNotFound", err)
	}

	// A scalar column is not searchable either.
	_, err = e.Search(context.Background(), Request{
		Table:  "products",
		Column: "title",
		Query:  "x",
		TopK:   3,
	})
	if !errors.Is(err, ErrVectorColumnNotFound) {
		t.Fatalf("error = %v, want ErrVectorColumnNotFound", err)
	}
}

func TestSearchEmptyColumn(t *testing.T) {
	e, st := newTestStack(t)
	ctx := context.Background()

	// An added but never populated column has no vectors to search.
	table, _ := st.OpenTable(ctx, "products")
	if err := table.AddVectorColumn(ctx, storage.ColumnMeta{
		Column: "empty_vec", Model: "hash-384", SourceFields: []string{"title"}, Dimension: 384,
	}); err != nil {
		t.Fatal(err)
	}

	_, err := e.Search(ctx, Request{Table: "products", Column: "empty_vec", Query: "x", TopK: 3})
	if !errors.Is(err, ErrVectorColumnNotFound) {
		t.Fatalf("error = %v, want ErrVectorColumnNotFound", err)
	}
}

func TestSearchRawVectorDimensionMismatch(t *testing.T) {
	e, _ := newTestStack(t)

	_, err := e.Search(context.Background(), Request{
		Table:  "products",
		Column: "title_vec",
		Vector: []float32{1, 2, 3},
		TopK:   3,
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("error = %v, want ErrDimensionMismatch", err)
	}
}

func TestSearchRawVector(t *testing.T) {
	e, _ := newTestStack(t)

	vec := make([]float32, 384)
	vec[0] = 1
	resp, err := e.Search(context.Background(), Request{
		Table:  "products",
		Column: "title_vec",
		Vector: vec,
		TopK:   2,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Matches) != 2 {
		t.Errorf("matches = %d, want 2", len(resp.Matches))
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
	}{
		{0, 1},
		{1, 0.5},
		{2, 0},
		{2.5, 0},
		{-0.1, 1},
	}
	for _, tt := range tests {
		if got := Score(tt.distance); got != tt.want {
			t.Errorf("Score(%v) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}
