// Package tableops implements table lifecycle operations: create from
// tabular data with inferred schemas, atomic replace, drop, row
// deletion, and inspection (schema, preview pages, listings, stats).
package tableops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/garyhukkeri/vectab/internal/storage"
	"github.com/garyhukkeri/vectab/internal/tabular"
)

// replaceSuffix names the staging table used by Replace.
const replaceSuffix = "__replace"

// Service performs table operations against one storage engine.
type Service struct {
	engine storage.Engine
	policy tabular.VectorPolicy
	logger *slog.Logger
}

// New creates a table operations service with the given vector
// inference policy.
func New(engine storage.Engine, policy tabular.VectorPolicy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, policy: policy, logger: logger}
}

// CreateOptions tune table creation.
type CreateOptions struct {
	// Schema overrides inference entirely when set.
	Schema tabular.Schema
}

// Create infers a schema from the dataset (unless options carry one)
// and creates the table with its rows loaded. Creating over an
// existing name fails with storage.ErrTableExists.
func (s *Service) Create(ctx context.Context, name string, data *tabular.Dataset, opts CreateOptions) (tabular.Schema, error) {
	schema := opts.Schema
	if schema == nil {
		var err error
		schema, err = tabular.InferSchema(data, s.policy)
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.engine.CreateTable(ctx, name, schema, data); err != nil {
		return nil, err
	}
	s.logger.Info("table created", "table", name, "rows", data.Len(), "fields", len(schema))
	return schema, nil
}

// CreateFromFile loads a CSV, JSON, NDJSON, or Parquet file and
// creates a table from it.
func (s *Service) CreateFromFile(ctx context.Context, name, path string, opts CreateOptions) (tabular.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := tabular.ReadFile(path, f)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, name, data, opts)
}

// CreateSample creates a small generated demo table.
func (s *Service) CreateSample(ctx context.Context, name string, columns []string, rows int) (tabular.Schema, error) {
	if len(columns) == 0 {
		columns = []string{"id", "title", "description", "score", "active"}
	}
	return s.Create(ctx, name, tabular.Sample(columns, rows), CreateOptions{})
}

// Replace swaps in a table with entirely new contents. The new data is
// loaded into a staging table first, then renamed over the target, so
// readers see either the old table or the new one, never a partial
// load. A failed load leaves the original untouched.
func (s *Service) Replace(ctx context.Context, name string, data *tabular.Dataset, opts CreateOptions) (tabular.Schema, error) {
	schema := opts.Schema
	if schema == nil {
		var err error
		schema, err = tabular.InferSchema(data, s.policy)
		if err != nil {
			return nil, err
		}
	}

	staging := name + replaceSuffix
	// A staging table abandoned by a crashed replace is overwritten.
	if err := s.engine.DropTable(ctx, staging); err != nil && !errors.Is(err, storage.ErrTableNotFound) {
		return nil, err
	}

	if _, err := s.engine.CreateTable(ctx, staging, schema, data); err != nil {
		return nil, err
	}
	if err := s.engine.RenameTable(ctx, staging, name); err != nil {
		if dropErr := s.engine.DropTable(ctx, staging); dropErr != nil && !errors.Is(dropErr, storage.ErrTableNotFound) {
			s.logger.Warn("staging table cleanup failed", "table", staging, "error", dropErr)
		}
		return nil, err
	}

	s.logger.Info("table replaced", "table", name, "rows", data.Len())
	return schema, nil
}

// ReplaceFromFile loads a file and swaps it in over the target table.
func (s *Service) ReplaceFromFile(ctx context.Context, name, path string, opts CreateOptions) (tabular.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := tabular.ReadFile(path, f)
	if err != nil {
		return nil, err
	}
	return s.Replace(ctx, name, data, opts)
}

// Drop removes a table. Dropping a missing table fails with
// storage.ErrTableNotFound; it is not idempotent.
func (s *Service) Drop(ctx context.Context, name string) error {
	if err := s.engine.DropTable(ctx, name); err != nil {
		return err
	}
	s.logger.Info("table dropped", "table", name)
	return nil
}

// DeleteRows removes the rows matching the filter and reports how many
// went. A filter matching nothing deletes zero rows and succeeds.
func (s *Service) DeleteRows(ctx context.Context, name string, filter *tabular.Predicate) (int64, error) {
	table, err := s.engine.OpenTable(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := table.DeleteRows(ctx, filter)
	if err != nil {
		return 0, err
	}
	s.logger.Info("rows deleted", "table", name, "rows", n)
	return n, nil
}

// Info describes a table: schema, row count, and vector column
// identities.
type Info struct {
	Name          string               `json:"name"`
	Schema        tabular.Schema       `json:"schema"`
	Rows          int64                `json:"rows"`
	VectorColumns []storage.ColumnMeta `json:"vector_columns,omitempty"`
}

// Describe returns the table's schema and metadata.
func (s *Service) Describe(ctx context.Context, name string) (*Info, error) {
	table, err := s.engine.OpenTable(ctx, name)
	if err != nil {
		return nil, err
	}
	schema, err := table.Schema(ctx)
	if err != nil {
		return nil, err
	}
	count, err := table.Count(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := table.VectorColumns(ctx)
	if err != nil {
		return nil, err
	}
	return &Info{Name: name, Schema: schema, Rows: count, VectorColumns: vectors}, nil
}

// Page is one preview page with its position in the table.
type Page struct {
	Table  string           `json:"table"`
	Offset int              `json:"offset"`
	Limit  int              `json:"limit"`
	Total  int64            `json:"total"`
	Fields []string         `json:"fields"`
	Rows   []map[string]any `json:"rows"`
}

// Preview reads a page of rows in insertion order. Vector cells are
// summarized as "vector(dim)" rather than dumped.
func (s *Service) Preview(ctx context.Context, name string, offset, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	table, err := s.engine.OpenTable(ctx, name)
	if err != nil {
		return nil, err
	}
	total, err := table.Count(ctx)
	if err != nil {
		return nil, err
	}
	data, err := table.Rows(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, data.Len())
	for i := range data.Rows {
		row := make(map[string]any, len(data.Fields))
		for j, f := range data.Fields {
			row[f] = previewCell(data.Rows[i][j])
		}
		rows[i] = row
	}

	return &Page{
		Table:  name,
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Fields: data.Fields,
		Rows:   rows,
	}, nil
}

func previewCell(v any) any {
	if vec, ok := v.([]float32); ok {
		return fmt.Sprintf("vector(%d)", len(vec))
	}
	return v
}

// Listing is one entry in the table list.
type Listing struct {
	Name       string `json:"name"`
	Rows       int64  `json:"rows"`
	HasVectors bool   `json:"has_vectors"`
}

// List returns all user tables with row counts and whether each one
// carries vector columns. Abandoned replace staging tables are hidden.
func (s *Service) List(ctx context.Context) ([]Listing, error) {
	names, err := s.engine.TableNames(ctx)
	if err != nil {
		return nil, err
	}

	listings := make([]Listing, 0, len(names))
	for _, name := range names {
		if strings.HasSuffix(name, replaceSuffix) {
			continue
		}
		table, err := s.engine.OpenTable(ctx, name)
		if err != nil {
			return nil, err
		}
		count, err := table.Count(ctx)
		if err != nil {
			return nil, err
		}
		vectors, err := table.VectorColumns(ctx)
		if err != nil {
			return nil, err
		}
		listings = append(listings, Listing{Name: name, Rows: count, HasVectors: len(vectors) > 0})
	}
	return listings, nil
}

// Stats aggregates per-column population counts for vector columns.
type Stats struct {
	Table   string        `json:"table"`
	Rows    int64         `json:"rows"`
	Columns []ColumnStats `json:"columns,omitempty"`
}

// ColumnStats reports how filled a vector column is.
type ColumnStats struct {
	Column    string `json:"column"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension"`
	Populated int64  `json:"populated"`
	Missing   int64  `json:"missing"`
}

// Stats computes vector coverage for a table.
func (s *Service) Stats(ctx context.Context, name string) (*Stats, error) {
	table, err := s.engine.OpenTable(ctx, name)
	if err != nil {
		return nil, err
	}
	count, err := table.Count(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := table.VectorColumns(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Table: name, Rows: count}
	for _, meta := range vectors {
		populated, err := table.CountNonNull(ctx, meta.Column)
		if err != nil {
			return nil, err
		}
		stats.Columns = append(stats.Columns, ColumnStats{
			Column:    meta.Column,
			Model:     meta.Model,
			Dimension: meta.Dimension,
			Populated: populated,
			Missing:   count - populated,
		})
	}
	return stats, nil
}
