// Package search answers similarity queries over vector columns:
// embed the query text with the column's own model, rank rows by
// cosine distance, and report normalized relevance scores.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garyhukkeri/vectab/internal/embed"
	"github.com/garyhukkeri/vectab/internal/storage"
	"github.com/garyhukkeri/vectab/internal/tabular"
)

// Sentinel errors for search requests.
var (
	ErrInvalidArgument      = errors.New("invalid search argument")
	ErrVectorColumnNotFound = errors.New("vector column not found")
	ErrDimensionMismatch    = errors.New("query dimension mismatch")
)

// DefaultTopK is a suggested result count for callers whose input
// leaves it unset. Search itself never applies it: TopK must be
// positive on every request.
const DefaultTopK = 10

// Request describes one similarity search.
type Request struct {
	Table  string `json:"table"`
	Column string `json:"column"`

	// Query is embedded with the model that generated the column.
	// Leave it empty to search with a raw Vector instead.
	Query  string    `json:"query,omitempty"`
	Vector []float32 `json:"vector,omitempty"`

	TopK   int                `json:"top_k,omitempty"`
	Filter *tabular.Predicate `json:"filter,omitempty"`
}

// Match is one ranked row. Values holds the row's scalar fields.
type Match struct {
	Rank     int            `json:"rank"`
	RowID    int64          `json:"row_id"`
	Distance float64        `json:"distance"`
	Score    float64        `json:"score"`
	Values   map[string]any `json:"values"`
}

// Response is a completed search.
type Response struct {
	Table   string  `json:"table"`
	Column  string  `json:"column"`
	Model   string  `json:"model,omitempty"`
	Matches []Match `json:"matches"`
	Took    string  `json:"took"`
}

// Engine executes searches against a storage engine, embedding query
// text through the model registry.
type Engine struct {
	storage  storage.Engine
	registry *embed.Registry
	logger   *slog.Logger
}

// New creates a search engine.
func New(st storage.Engine, registry *embed.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{storage: st, registry: registry, logger: logger}
}

// Search validates the request, resolves the query vector, and ranks
// rows. Fewer than TopK rows in the table simply yields fewer matches.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if req.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidArgument, req.TopK)
	}
	if req.Query == "" && len(req.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}

	table, err := e.storage.OpenTable(ctx, req.Table)
	if err != nil {
		return nil, err
	}

	meta, err := e.vectorColumn(ctx, table, req.Column)
	if err != nil {
		return nil, err
	}

	query := req.Vector
	if req.Query != "" {
		query, err = e.embedQuery(ctx, meta, req.Query)
		if err != nil {
			return nil, err
		}
	}
	if len(query) != meta.Dimension {
		return nil, fmt.Errorf("%w: query has %d components, column %q has %d",
			ErrDimensionMismatch, len(query), req.Column, meta.Dimension)
	}

	neighbors, err := table.NearestNeighbors(ctx, req.Column, query, req.TopK, req.Filter)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(neighbors))
	for i, n := range neighbors {
		matches[i] = Match{
			Rank:     i + 1,
			RowID:    n.RowID,
			Distance: n.Distance,
			Score:    Score(n.Distance),
			Values:   n.Values,
		}
	}

	e.logger.Debug("search completed",
		"table", req.Table, "column", req.Column,
		"matches", len(matches), "took", time.Since(start))

	return &Response{
		Table:   req.Table,
		Column:  req.Column,
		Model:   meta.Model,
		Matches: matches,
		Took:    time.Since(start).String(),
	}, nil
}

// vectorColumn resolves the target column and confirms it is a vector
// column with at least one populated cell.
func (e *Engine) vectorColumn(ctx context.Context, table storage.Table, column string) (storage.ColumnMeta, error) {
	if column == "" {
		return storage.ColumnMeta{}, fmt.Errorf("%w: empty column name", ErrInvalidArgument)
	}

	schema, err := table.Schema(ctx)
	if err != nil {
		return storage.ColumnMeta{}, err
	}
	field, ok := schema.Field(column)
	if !ok || !field.IsVector() {
		return storage.ColumnMeta{}, fmt.Errorf("%w: %q in table %q", ErrVectorColumnNotFound, column, table.Name())
	}

	populated, err := table.CountNonNull(ctx, column)
	if err != nil {
		return storage.ColumnMeta{}, err
	}
	if populated == 0 {
		return storage.ColumnMeta{}, fmt.Errorf("%w: %q has no vectors yet", ErrVectorColumnNotFound, column)
	}

	return storage.ColumnMeta{
		Table:        table.Name(),
		Column:       column,
		Model:        field.Model,
		SourceFields: field.SourceFields,
		Dimension:    field.Dimension,
	}, nil
}

// embedQuery turns query text into a vector with the column's model.
// Columns imported with vectors but no recorded model cannot embed
// text queries.
func (e *Engine) embedQuery(ctx context.Context, meta storage.ColumnMeta, text string) ([]float32, error) {
	if meta.Model == "" {
		return nil, fmt.Errorf("%w: column %q has no generating model, search with a raw vector",
			ErrInvalidArgument, meta.Column)
	}
	provider, err := e.registry.Get(meta.Model)
	if err != nil {
		return nil, err
	}
	return provider.Embed(ctx, text)
}

// Score maps a cosine distance in [0, 2] onto a relevance score in
// [0, 1], where 1 means identical direction.
func Score(distance float64) float64 {
	s := 1 - distance/2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
