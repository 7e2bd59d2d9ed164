package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/garyhukkeri/vectab/internal/tabular"
)

type sqliteTable struct {
	engine *SQLiteEngine
	name   string
}

func (t *sqliteTable) Name() string {
	return t.name
}

// Schema merges PRAGMA table_info with the vector column catalog.
// Declared BLOB columns that the catalog knows about surface as
// vector fields with their recorded dimension and identity.
func (t *sqliteTable) Schema(ctx context.Context) (tabular.Schema, error) {
	metas, err := t.engine.vectorColumns(ctx, t.name)
	if err != nil {
		return nil, err
	}
	byColumn := make(map[string]ColumnMeta, len(metas))
	for _, m := range metas {
		byColumn[m.Column] = m
	}

	rows, err := t.engine.db.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", tabular.QuoteIdent(t.name)))
	if err != nil {
		return nil, fmt.Errorf("table info %q: %w", t.name, err)
	}
	defer rows.Close()

	var schema tabular.Schema
	for rows.Next() {
		var cid int
		var name, declType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		schema = append(schema, fieldFromColumn(name, declType, byColumn))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, t.name)
	}
	return schema, nil
}

func fieldFromColumn(name, declType string, metas map[string]ColumnMeta) tabular.Field {
	if m, ok := metas[name]; ok {
		return tabular.Field{
			Name:         name,
			Type:         tabular.TypeVector,
			Dimension:    m.Dimension,
			Model:        m.Model,
			SourceFields: m.SourceFields,
		}
	}
	switch strings.ToUpper(declType) {
	case "REAL", "INTEGER", "NUMERIC", "FLOAT", "DOUBLE", "INT":
		return tabular.Field{Name: name, Type: tabular.TypeNumber}
	case "BOOLEAN", "BOOL":
		return tabular.Field{Name: name, Type: tabular.TypeBoolean}
	case "BLOB":
		// An uncataloged blob column still ranks as a vector so it is
		// never offered as an embedding source field; its dimension is
		// unknown until generated over.
		return tabular.Field{Name: name, Type: tabular.TypeVector}
	default:
		return tabular.Field{Name: name, Type: tabular.TypeText}
	}
}

func (t *sqliteTable) Count(ctx context.Context) (int64, error) {
	var n int64
	err := t.engine.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+tabular.QuoteIdent(t.name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", t.name, err)
	}
	return n, nil
}

func (t *sqliteTable) CountNonNull(ctx context.Context, column string) (int64, error) {
	var n int64
	err := t.engine.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(%s) FROM %s", tabular.QuoteIdent(column), tabular.QuoteIdent(t.name))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count non-null %s.%s: %w", t.name, column, err)
	}
	return n, nil
}

// Rows returns a page of rows in rowid (insertion) order.
func (t *sqliteTable) Rows(ctx context.Context, limit, offset int) (*tabular.Dataset, error) {
	schema, err := t.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	cols := make([]string, len(schema))
	for i, f := range schema {
		cols[i] = tabular.QuoteIdent(f.Name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid LIMIT %d OFFSET %d",
		strings.Join(cols, ", "), tabular.QuoteIdent(t.name), limit, offset)

	rows, err := t.engine.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read rows from %q: %w", t.name, err)
	}
	defer rows.Close()

	fields := make([]string, len(schema))
	for i, f := range schema {
		fields[i] = f.Name
	}
	out := tabular.NewDataset(fields...)

	for rows.Next() {
		raw := make([]any, len(schema))
		ptrs := make([]any, len(schema))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]any, len(schema))
		for i, f := range schema {
			v, err := decodeCell(raw[i], f)
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		if err := out.Append(row...); err != nil {
			return nil, err
		}
	}
	return out, rows.Err()
}

func decodeCell(v any, f tabular.Field) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case tabular.TypeVector:
		blob, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("field %q: expected blob, got %T", f.Name, v)
		}
		return DecodeVector(blob)
	case tabular.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		}
		return nil, fmt.Errorf("field %q: expected bool, got %T", f.Name, v)
	case tabular.TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("field %q: expected number, got %T", f.Name, v)
	default:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
		return fmt.Sprintf("%v", v), nil
	}
}

// ScanText yields the string form of the selected scalar fields for
// every row, in insertion order.
func (t *sqliteTable) ScanText(ctx context.Context, fields []string, fn func(rowID int64, values []string) error) error {
	cols := make([]string, 0, len(fields)+1)
	cols = append(cols, "rowid")
	for _, f := range fields {
		cols = append(cols, tabular.QuoteIdent(f))
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid",
		strings.Join(cols, ", "), tabular.QuoteIdent(t.name))

	rows, err := t.engine.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("scan %q: %w", t.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rowID int64
		raw := make([]any, len(fields))
		ptrs := make([]any, 0, len(fields)+1)
		ptrs = append(ptrs, &rowID)
		for i := range raw {
			ptrs = append(ptrs, &raw[i])
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		values := make([]string, len(fields))
		for i, v := range raw {
			values[i] = cellText(v)
		}
		if err := fn(rowID, values); err != nil {
			return err
		}
	}
	return rows.Err()
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (t *sqliteTable) AddVectorColumn(ctx context.Context, meta ColumnMeta) error {
	schema, err := t.Schema(ctx)
	if err != nil {
		return err
	}
	if schema.Has(meta.Column) {
		return fmt.Errorf("%w: %s.%s", ErrColumnExists, t.name, meta.Column)
	}
	meta.Table = t.name

	tx, err := t.engine.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add column: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"ALTER TABLE %s ADD COLUMN %s BLOB",
		tabular.QuoteIdent(t.name), tabular.QuoteIdent(meta.Column))); err != nil {
		return fmt.Errorf("add column %s.%s: %w", t.name, meta.Column, err)
	}
	if err := insertCatalogRow(ctx, tx, meta); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add column: %w", err)
	}
	return nil
}

func (t *sqliteTable) DropVectorColumn(ctx context.Context, column string) error {
	schema, err := t.Schema(ctx)
	if err != nil {
		return err
	}
	f, ok := schema.Field(column)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, t.name, column)
	}
	if !f.IsVector() {
		return fmt.Errorf("column %s.%s is not a vector column", t.name, column)
	}

	tx, err := t.engine.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop column: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"ALTER TABLE %s DROP COLUMN %s",
		tabular.QuoteIdent(t.name), tabular.QuoteIdent(column))); err != nil {
		return fmt.Errorf("drop column %s.%s: %w", t.name, column, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM _vectab_columns WHERE tbl = ? AND col = ?`, t.name, column); err != nil {
		return fmt.Errorf("drop catalog row %s.%s: %w", t.name, column, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit drop column: %w", err)
	}

	t.engine.annInvalidate(t.name, column)
	return nil
}

func (t *sqliteTable) SetVectors(ctx context.Context, column string, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("set vectors: %d ids but %d vectors", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := t.engine.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set vectors: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"UPDATE %s SET %s = ? WHERE rowid = ?",
		tabular.QuoteIdent(t.name), tabular.QuoteIdent(column)))
	if err != nil {
		return fmt.Errorf("prepare set vectors: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		var blob any
		if vectors[i] != nil {
			blob = EncodeVector(vectors[i])
		}
		if _, err := stmt.ExecContext(ctx, blob, id); err != nil {
			return fmt.Errorf("set vector for row %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set vectors: %w", err)
	}

	// Sidecar contents for this column are stale; the next search
	// rebuilds when counts diverge.
	return nil
}

func (t *sqliteTable) VectorColumns(ctx context.Context) ([]ColumnMeta, error) {
	return t.engine.vectorColumns(ctx, t.name)
}

// NearestNeighbors ranks rows by cosine distance to the query. When
// the sidecar index holds enough vectors and no filter narrows the
// candidates, HNSW supplies a candidate set first and exact distances
// are recomputed over it, so results stay exact-metric either way.
func (t *sqliteTable) NearestNeighbors(ctx context.Context, column string, query []float32, k int, filter *tabular.Predicate) ([]Neighbor, error) {
	schema, err := t.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if !schema.Has(column) {
		return nil, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, t.name, column)
	}
	if err := filter.Validate(schema); err != nil {
		return nil, err
	}

	scalars := schema.ScalarFields()
	cols := make([]string, 0, len(scalars)+2)
	cols = append(cols, "rowid",
		fmt.Sprintf("vec_distance_cosine(%s, ?) AS distance", tabular.QuoteIdent(column)))
	for _, f := range scalars {
		cols = append(cols, tabular.QuoteIdent(f.Name))
	}

	where := []string{tabular.QuoteIdent(column) + " IS NOT NULL"}
	args := []any{EncodeVector(query)}

	if !filter.Empty() {
		clause, filterArgs := filter.SQL()
		where = append(where, clause)
		args = append(args, filterArgs...)
	} else if candidates := t.annCandidates(ctx, column, query, k); len(candidates) > 0 {
		marks := make([]string, len(candidates))
		for i, id := range candidates {
			marks[i] = "?"
			args = append(args, id)
		}
		where = append(where, "rowid IN ("+strings.Join(marks, ", ")+")")
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY distance ASC, rowid ASC LIMIT %d",
		strings.Join(cols, ", "), tabular.QuoteIdent(t.name), strings.Join(where, " AND "), k)

	rows, err := t.engine.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors on %s.%s: %w", t.name, column, err)
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		n := Neighbor{Values: make(map[string]any, len(scalars))}
		raw := make([]any, len(scalars))
		ptrs := make([]any, 0, len(scalars)+2)
		ptrs = append(ptrs, &n.RowID, &n.Distance)
		for i := range raw {
			ptrs = append(ptrs, &raw[i])
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		for i, f := range scalars {
			v, err := decodeCell(raw[i], f)
			if err != nil {
				return nil, err
			}
			n.Values[f.Name] = v
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// annCandidates consults the HNSW sidecar, rebuilding it when its
// contents have drifted from the table. Returns nil when the sidecar
// is disabled, below threshold, or unavailable; callers fall back to
// a full scan.
func (t *sqliteTable) annCandidates(ctx context.Context, column string, query []float32, k int) []int64 {
	ann := t.engine.ann
	if ann == nil {
		return nil
	}
	stored, err := t.CountNonNull(ctx, column)
	if err != nil || stored < int64(t.engine.opts.AnnThreshold) {
		return nil
	}

	if !ann.Fresh(t.name, column, stored) {
		if err := ann.Rebuild(t.name, column, len(query), func(fn func(id int64, vec []float32) error) error {
			return t.scanVectors(ctx, column, fn)
		}); err != nil {
			t.engine.logger.Warn("ann rebuild failed, falling back to scan",
				"table", t.name, "column", column, "error", err)
			return nil
		}
	}

	// Oversample so exact re-ranking has slack beyond k.
	return ann.Candidates(t.name, column, query, k*4+16)
}

func (t *sqliteTable) scanVectors(ctx context.Context, column string, fn func(id int64, vec []float32) error) error {
	rows, err := t.engine.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT rowid, %s FROM %s WHERE %s IS NOT NULL ORDER BY rowid",
		tabular.QuoteIdent(column), tabular.QuoteIdent(t.name), tabular.QuoteIdent(column)))
	if err != nil {
		return fmt.Errorf("scan vectors %s.%s: %w", t.name, column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("scan vector row: %w", err)
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			return err
		}
		if err := fn(id, vec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (t *sqliteTable) DeleteRows(ctx context.Context, filter *tabular.Predicate) (int64, error) {
	schema, err := t.Schema(ctx)
	if err != nil {
		return 0, err
	}
	if err := filter.Validate(schema); err != nil {
		return 0, err
	}

	q := "DELETE FROM " + tabular.QuoteIdent(t.name)
	var args []any
	if !filter.Empty() {
		clause, filterArgs := filter.SQL()
		q += " WHERE " + clause
		args = filterArgs
	}

	res, err := t.engine.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("delete rows from %q: %w", t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted rows: %w", err)
	}
	return n, nil
}
