package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/garyhukkeri/vectab/internal/tabular"
)

// catalogTable records vector column identities. It is engine-internal
// and never shows up in TableNames or schemas.
const catalogTable = "_vectab_columns"

const catalogSQL = `
CREATE TABLE IF NOT EXISTS _vectab_columns (
	tbl           TEXT NOT NULL,
	col           TEXT NOT NULL,
	model         TEXT NOT NULL DEFAULT '',
	source_fields TEXT NOT NULL DEFAULT '',
	dim           INTEGER NOT NULL,
	created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (tbl, col)
)`

// Ensure sqlite-vec Auto() runs exactly once before any connection.
var vecAutoOnce sync.Once

var tableNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Options configures the sqlite engine.
type Options struct {
	// AnnThreshold is the minimum non-null vector count before the
	// HNSW sidecar is consulted for candidates. Zero disables it.
	AnnThreshold int

	// OpenRetries is the number of attempts when opening the database.
	OpenRetries int

	// RetryInterval is the backoff base between open attempts.
	RetryInterval time.Duration

	Logger *slog.Logger
}

// SQLiteEngine implements Engine on a single sqlite-vec database file.
type SQLiteEngine struct {
	db     *sql.DB
	path   string
	ann    *annIndex
	opts   Options
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database at path. Transient open
// failures are retried with linear backoff before surfacing as
// ErrConnection.
func OpenSQLite(path string, opts Options) (*SQLiteEngine, error) {
	vecAutoOnce.Do(func() {
		sqlite_vec.Auto()
	})

	if opts.OpenRetries <= 0 {
		opts.OpenRetries = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var db *sql.DB
	var lastErr error
	for attempt := 0; attempt < opts.OpenRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(opts.RetryInterval * time.Duration(attempt))
		}
		db, lastErr = openOnce(path)
		if lastErr == nil {
			break
		}
		logger.Warn("database open failed", "path", path, "attempt", attempt+1, "error", lastErr)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, path, lastErr)
	}

	if _, err := db.Exec(catalogSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create column catalog: %w", err)
	}

	e := &SQLiteEngine{
		db:     db,
		path:   path,
		opts:   opts,
		logger: logger,
	}
	if opts.AnnThreshold > 0 {
		e.ann = openAnnIndex(annPath(path), logger)
	}
	return e, nil
}

func openOnce(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// sql.Open is lazy; force the connection and the extension check.
	if _, err := db.Exec("SELECT vec_version()"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec extension not available: %w", err)
	}
	return db, nil
}

// Path returns the database file path.
func (e *SQLiteEngine) Path() string {
	return e.path
}

// TableNames lists user tables, excluding sqlite internals and the
// column catalog.
func (e *SQLiteEngine) TableNames(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		  AND name NOT LIKE '\_vectab\_%' ESCAPE '\'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (e *SQLiteEngine) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", name, err)
	}
	return n > 0, nil
}

func validateTableName(name string) error {
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	if strings.HasPrefix(name, "_vectab") {
		return fmt.Errorf("table name %q uses a reserved prefix", name)
	}
	return nil
}

func sqlType(t tabular.FieldType) string {
	switch t {
	case tabular.TypeNumber:
		return "REAL"
	case tabular.TypeBoolean:
		return "BOOLEAN"
	case tabular.TypeVector:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// CreateTable creates the table and bulk-loads the dataset in one
// transaction. Vector fields in the schema get catalog entries.
func (e *SQLiteEngine) CreateTable(ctx context.Context, name string, schema tabular.Schema, data *tabular.Dataset) (Table, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	exists, err := e.tableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("create table %q: empty schema", name)
	}

	cols := make([]string, len(schema))
	for i, f := range schema {
		cols[i] = tabular.QuoteIdent(f.Name) + " " + sqlType(f.Type)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", tabular.QuoteIdent(name), strings.Join(cols, ", "))

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create %q: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %q: %w", name, err)
	}

	if data != nil && data.Len() > 0 {
		if err := insertDataset(ctx, tx, name, schema, data); err != nil {
			return nil, err
		}
	}

	for _, f := range schema.VectorFields() {
		meta := ColumnMeta{
			Table:        name,
			Column:       f.Name,
			Model:        f.Model,
			SourceFields: f.SourceFields,
			Dimension:    f.Dimension,
		}
		if err := insertCatalogRow(ctx, tx, meta); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create %q: %w", name, err)
	}
	return e.table(name), nil
}

func insertDataset(ctx context.Context, tx *sql.Tx, name string, schema tabular.Schema, data *tabular.Dataset) error {
	quoted := make([]string, len(schema))
	marks := make([]string, len(schema))
	for i, f := range schema {
		quoted[i] = tabular.QuoteIdent(f.Name)
		marks[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		tabular.QuoteIdent(name), strings.Join(quoted, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for rowIdx := range data.Rows {
		args := make([]any, len(schema))
		for i, f := range schema {
			v, err := tabular.Coerce(data.Value(rowIdx, f.Name), f)
			if err != nil {
				return fmt.Errorf("row %d: %w", rowIdx+1, err)
			}
			if vec, ok := v.([]float32); ok {
				args[i] = EncodeVector(vec)
			} else {
				args[i] = v
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row %d: %w", rowIdx+1, err)
		}
	}
	return nil
}

func insertCatalogRow(ctx context.Context, tx *sql.Tx, meta ColumnMeta) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO _vectab_columns (tbl, col, model, source_fields, dim) VALUES (?, ?, ?, ?, ?)`,
		meta.Table, meta.Column, meta.Model, encodeSourceFields(meta.SourceFields), meta.Dimension)
	if err != nil {
		return fmt.Errorf("record vector column %s.%s: %w", meta.Table, meta.Column, err)
	}
	return nil
}

// OpenTable returns a handle for an existing table.
func (e *SQLiteEngine) OpenTable(ctx context.Context, name string) (Table, error) {
	exists, err := e.tableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return e.table(name), nil
}

// DropTable removes the table, its catalog rows, and any sidecar
// index collections.
func (e *SQLiteEngine) DropTable(ctx context.Context, name string) error {
	exists, err := e.tableExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	metas, err := e.vectorColumns(ctx, name)
	if err != nil {
		return err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop %q: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE "+tabular.QuoteIdent(name)); err != nil {
		return fmt.Errorf("drop table %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM _vectab_columns WHERE tbl = ?`, name); err != nil {
		return fmt.Errorf("drop catalog rows for %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit drop %q: %w", name, err)
	}

	for _, m := range metas {
		e.annInvalidate(name, m.Column)
	}
	return nil
}

// RenameTable swaps oldName into place as newName inside one
// transaction, dropping any previous newName table. This is the
// engine half of atomic replace.
func (e *SQLiteEngine) RenameTable(ctx context.Context, oldName, newName string) error {
	exists, err := e.tableExists(ctx, oldName)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, oldName)
	}

	oldMetas, err := e.vectorColumns(ctx, newName)
	if err != nil {
		return err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rename %q: %w", oldName, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+tabular.QuoteIdent(newName)); err != nil {
		return fmt.Errorf("drop old table %q: %w", newName, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM _vectab_columns WHERE tbl = ?`, newName); err != nil {
		return fmt.Errorf("clear catalog for %q: %w", newName, err)
	}
	if _, err := tx.ExecContext(ctx,
		"ALTER TABLE "+tabular.QuoteIdent(oldName)+" RENAME TO "+tabular.QuoteIdent(newName)); err != nil {
		return fmt.Errorf("rename %q to %q: %w", oldName, newName, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE _vectab_columns SET tbl = ? WHERE tbl = ?`, newName, oldName); err != nil {
		return fmt.Errorf("move catalog rows to %q: %w", newName, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rename %q: %w", oldName, err)
	}

	// Sidecar collections under either name are stale now; they are
	// rebuilt lazily on the next search.
	for _, m := range oldMetas {
		e.annInvalidate(newName, m.Column)
	}
	e.annInvalidateTable(oldName)
	return nil
}

func (e *SQLiteEngine) vectorColumns(ctx context.Context, table string) ([]ColumnMeta, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT col, model, source_fields, dim FROM _vectab_columns WHERE tbl = ? ORDER BY col`, table)
	if err != nil {
		return nil, fmt.Errorf("read vector columns for %q: %w", table, err)
	}
	defer rows.Close()

	var metas []ColumnMeta
	for rows.Next() {
		m := ColumnMeta{Table: table}
		var fields string
		if err := rows.Scan(&m.Column, &m.Model, &fields, &m.Dimension); err != nil {
			return nil, fmt.Errorf("scan vector column: %w", err)
		}
		m.SourceFields = decodeSourceFields(fields)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

func (e *SQLiteEngine) table(name string) *sqliteTable {
	return &sqliteTable{engine: e, name: name}
}

func (e *SQLiteEngine) annInvalidate(table, column string) {
	if e.ann != nil {
		e.ann.Invalidate(table, column)
	}
}

func (e *SQLiteEngine) annInvalidateTable(table string) {
	if e.ann != nil {
		e.ann.InvalidateTable(table)
	}
}

// Close closes the sidecar index and the database.
func (e *SQLiteEngine) Close() error {
	if e.ann != nil {
		e.ann.Close()
	}
	return e.db.Close()
}

func encodeSourceFields(fields []string) string {
	return strings.Join(fields, "\x1f")
}

func decodeSourceFields(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x1f")
}
