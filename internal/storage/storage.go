// Package storage defines the storage-engine boundary used by the
// table, embedding, and search services, plus the sqlite-vec backed
// implementation of it. The services never issue SQL themselves; they
// talk to the Engine and Table interfaces only.
package storage

import (
	"context"
	"errors"

	"github.com/garyhukkeri/vectab/internal/tabular"
)

// Sentinel errors for engine-level failures.
var (
	ErrTableNotFound  = errors.New("table not found")
	ErrTableExists    = errors.New("table already exists")
	ErrColumnNotFound = errors.New("column not found")
	ErrColumnExists   = errors.New("column already exists")
	ErrConnection     = errors.New("database connection failed")
)

// ColumnMeta records the identity of a vector column: which model
// produced it, from which source fields, and at what dimension.
// Columns imported with the source data have an empty model.
type ColumnMeta struct {
	Table        string   `json:"table"`
	Column       string   `json:"column"`
	Model        string   `json:"model"`
	SourceFields []string `json:"source_fields"`
	Dimension    int      `json:"dimension"`
}

// Neighbor is one row returned by a nearest-neighbor query. Distance
// is the cosine distance to the query vector, in [0, 2].
type Neighbor struct {
	RowID    int64
	Distance float64
	Values   map[string]any
}

// Engine is the database-level collaborator: it resolves table names
// to handles and owns the connection lifecycle.
type Engine interface {
	// TableNames lists user tables in name order.
	TableNames(ctx context.Context) ([]string, error)

	// CreateTable creates a table with the given schema and loads the
	// dataset into it. Fails with ErrTableExists if the name is taken.
	CreateTable(ctx context.Context, name string, schema tabular.Schema, data *tabular.Dataset) (Table, error)

	// OpenTable returns a handle for an existing table, or
	// ErrTableNotFound.
	OpenTable(ctx context.Context, name string) (Table, error)

	// DropTable removes a table and its vector column metadata, or
	// ErrTableNotFound.
	DropTable(ctx context.Context, name string) error

	// RenameTable atomically replaces newName with oldName's contents.
	// Any previous table under newName is dropped in the same
	// transaction.
	RenameTable(ctx context.Context, oldName, newName string) error

	// Close releases the connection and any index resources.
	Close() error
}

// Table is the per-table collaborator.
type Table interface {
	Name() string

	// Schema reads the current schema from the engine. It is never
	// cached: mutating operations re-fetch it immediately before
	// acting.
	Schema(ctx context.Context) (tabular.Schema, error)

	// Count returns the total row count.
	Count(ctx context.Context) (int64, error)

	// CountNonNull returns the number of rows with a non-null value in
	// the given column.
	CountNonNull(ctx context.Context, column string) (int64, error)

	// Rows returns a page of rows in insertion order. Vector cells
	// decode to []float32.
	Rows(ctx context.Context, limit, offset int) (*tabular.Dataset, error)

	// ScanText walks all rows in insertion order, yielding the string
	// representation of the requested scalar fields for each row.
	// Null cells yield empty strings.
	ScanText(ctx context.Context, fields []string, fn func(rowID int64, values []string) error) error

	// AddVectorColumn adds a null-filled vector column and records its
	// identity. Fails with ErrColumnExists if the column name is taken.
	AddVectorColumn(ctx context.Context, meta ColumnMeta) error

	// DropVectorColumn removes a vector column and its metadata.
	DropVectorColumn(ctx context.Context, column string) error

	// SetVectors writes vectors for the given row ids. Lengths of ids
	// and vectors must match; a nil vector clears the cell.
	SetVectors(ctx context.Context, column string, ids []int64, vectors [][]float32) error

	// VectorColumns lists the vector column metadata for this table.
	VectorColumns(ctx context.Context) ([]ColumnMeta, error)

	// NearestNeighbors returns up to k rows closest to the query
	// vector under cosine distance, filtered before ranking, ordered
	// by ascending distance with row insertion order as tie-break.
	NearestNeighbors(ctx context.Context, column string, query []float32, k int, filter *tabular.Predicate) ([]Neighbor, error)

	// DeleteRows removes rows matching the filter and returns how many
	// were removed.
	DeleteRows(ctx context.Context, filter *tabular.Predicate) (int64, error)
}
