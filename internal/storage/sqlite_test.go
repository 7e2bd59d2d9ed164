package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/garyhukkeri/vectab/internal/tabular"
)

func newTestEngine(t *testing.T) *SQLiteEngine {
	t.Helper()
	e, err := OpenSQLite(filepath.Join(t.TempDir(), "tables.db"), Options{})
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func productsSchema() tabular.Schema {
	return tabular.Schema{
		{Name: "title", Type: tabular.TypeText},
		{Name: "price", Type: tabular.TypeNumber},
		{Name: "active", Type: tabular.TypeBoolean},
	}
}

func productsData(t *testing.T) *tabular.Dataset {
	t.Helper()
	d := tabular.NewDataset("title", "price", "active")
	rows := [][]any{
		{"red shirt", 10.0, true},
		{"blue shirt", 12.5, true},
		{"green hat", 8.0, false},
	}
	for _, r := range rows {
		if err := d.Append(r...); err != nil {
			t.Fatal(err)
		}
	}
	return d
}

func TestCreateAndOpenTable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	table, err := e.CreateTable(ctx, "products", productsSchema(), productsData(t))
	if err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	count, err := table.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}

	names, err := e.TableNames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "products" {
		t.Errorf("TableNames() = %v", names)
	}

	if _, err := e.CreateTable(ctx, "products", productsSchema(), nil); !errors.Is(err, ErrTableExists) {
		t.Errorf("duplicate create error = %v, want ErrTableExists", err)
	}
	if _, err := e.OpenTable(ctx, "missing"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("open missing error = %v, want ErrTableNotFound", err)
	}
}

func TestCreateTableWithVectorColumn(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	schema := tabular.Schema{
		{Name: "title", Type: tabular.TypeText},
		{Name: "vec", Type: tabular.TypeVector, Dimension: 2},
	}
	d := tabular.NewDataset("title", "vec")
	_ = d.Append("a", []any{1.0, 0.0})
	_ = d.Append("b", []any{0.0, 1.0})

	table, err := e.CreateTable(ctx, "docs", schema, d)
	if err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}

	got, err := table.Schema(ctx)
	if err != nil {
		t.Fatal(err)
	}
	f, ok := got.Field("vec")
	if !ok || !f.IsVector() || f.Dimension != 2 {
		t.Errorf("vec field = %+v, want vector(2)", f)
	}

	rows, err := table.Rows(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	vec, ok := rows.Value(0, "vec").([]float32)
	if !ok || len(vec) != 2 || vec[0] != 1 {
		t.Errorf("vec cell = %v", rows.Value(0, "vec"))
	}
}

func TestTableNameValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, name := range []string{"", "1bad", "has space", "drop;table", "_vectab_x"} {
		if _, err := e.CreateTable(ctx, name, productsSchema(), nil); err == nil {
			t.Errorf("CreateTable(%q) should fail", name)
		}
	}
}

func TestDropTable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateTable(ctx, "tmp", productsSchema(), nil); err != nil {
		t.Fatal(err)
	}
	if err := e.DropTable(ctx, "tmp"); err != nil {
		t.Fatalf("DropTable() error = %v", err)
	}
	// Not idempotent: the second drop reports the missing table.
	if err := e.DropTable(ctx, "tmp"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("second drop error = %v, want ErrTableNotFound", err)
	}
}

func TestRenameTableReplacesTarget(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateTable(ctx, "products", productsSchema(), productsData(t)); err != nil {
		t.Fatal(err)
	}

	d := tabular.NewDataset("title", "price", "active")
	_ = d.Append("only row", 1.0, true)
	if _, err := e.CreateTable(ctx, "products__replace", productsSchema(), d); err != nil {
		t.Fatal(err)
	}

	if err := e.RenameTable(ctx, "products__replace", "products"); err != nil {
		t.Fatalf("RenameTable() error = %v", err)
	}

	table, err := e.OpenTable(ctx, "products")
	if err != nil {
		t.Fatal(err)
	}
	count, _ := table.Count(ctx)
	if count != 1 {
		t.Errorf("replaced table has %d rows, want 1", count)
	}

	names, _ := e.TableNames(ctx)
	if len(names) != 1 {
		t.Errorf("TableNames() = %v, staging table left behind", names)
	}
}

func TestRenameTableMovesCatalog(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	schema := tabular.Schema{
		{Name: "title", Type: tabular.TypeText},
		{Name: "vec", Type: tabular.TypeVector, Dimension: 2, Model: "hash-384", SourceFields: []string{"title"}},
	}
	d := tabular.NewDataset("title", "vec")
	_ = d.Append("a", []any{1.0, 0.0})
	if _, err := e.CreateTable(ctx, "stage", schema, d); err != nil {
		t.Fatal(err)
	}

	if err := e.RenameTable(ctx, "stage", "final"); err != nil {
		t.Fatal(err)
	}

	table, err := e.OpenTable(ctx, "final")
	if err != nil {
		t.Fatal(err)
	}
	metas, err := table.VectorColumns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 1 || metas[0].Model != "hash-384" || metas[0].Table != "final" {
		t.Errorf("VectorColumns() = %+v", metas)
	}
}

func TestAddSetAndDropVectorColumn(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	table, err := e.CreateTable(ctx, "products", productsSchema(), productsData(t))
	if err != nil {
		t.Fatal(err)
	}

	meta := ColumnMeta{Column: "title_vec", Model: "hash-384", SourceFields: []string{"title"}, Dimension: 3}
	if err := table.AddVectorColumn(ctx, meta); err != nil {
		t.Fatalf("AddVectorColumn() error = %v", err)
	}
	if err := table.AddVectorColumn(ctx, meta); !errors.Is(err, ErrColumnExists) {
		t.Errorf("duplicate add error = %v, want ErrColumnExists", err)
	}

	// Only two of three rows get a vector.
	err = table.SetVectors(ctx, "title_vec", []int64{1, 2}, [][]float32{{1, 0, 0}, {0, 1, 0}})
	if err != nil {
		t.Fatalf("SetVectors() error = %v", err)
	}
	n, err := table.CountNonNull(ctx, "title_vec")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountNonNull() = %d, want 2", n)
	}

	// Clearing one leaves the row itself in place.
	if err := table.SetVectors(ctx, "title_vec", []int64{2}, [][]float32{nil}); err != nil {
		t.Fatal(err)
	}
	n, _ = table.CountNonNull(ctx, "title_vec")
	if n != 1 {
		t.Errorf("CountNonNull() after clear = %d, want 1", n)
	}

	if err := table.DropVectorColumn(ctx, "title_vec"); err != nil {
		t.Fatalf("DropVectorColumn() error = %v", err)
	}
	schema, _ := table.Schema(ctx)
	if schema.Has("title_vec") {
		t.Error("column still in schema after drop")
	}
	if err := table.DropVectorColumn(ctx, "title_vec"); !errors.Is(err, ErrColumnNotFound) {
		t.Errorf("second drop error = %v, want ErrColumnNotFound", err)
	}
}

func TestNearestNeighbors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	schema := tabular.Schema{
		{Name: "title", Type: tabular.TypeText},
		{Name: "price", Type: tabular.TypeNumber},
		{Name: "vec", Type: tabular.TypeVector, Dimension: 2},
	}
	d := tabular.NewDataset("title", "price", "vec")
	_ = d.Append("east", 1.0, []any{1.0, 0.0})
	_ = d.Append("north", 2.0, []any{0.0, 1.0})
	_ = d.Append("northeast", 3.0, []any{1.0, 1.0})
	_ = d.Append("no vector", 4.0, nil)

	table, err := e.CreateTable(ctx, "points", schema, d)
	if err != nil {
		t.Fatal(err)
	}

	got, err := table.NearestNeighbors(ctx, "vec", []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatalf("NearestNeighbors() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d neighbors, want 2", len(got))
	}
	if got[0].Values["title"] != "east" {
		t.Errorf("closest = %v, want east", got[0].Values["title"])
	}
	if got[1].Values["title"] != "northeast" {
		t.Errorf("second = %v, want northeast", got[1].Values["title"])
	}
	if got[0].Distance > got[1].Distance {
		t.Error("distances out of order")
	}
	if _, ok := got[0].Values["vec"]; ok {
		t.Error("vector column leaked into neighbor values")
	}
}

func TestNearestNeighborsTieBreak(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	schema := tabular.Schema{
		{Name: "title", Type: tabular.TypeText},
		{Name: "vec", Type: tabular.TypeVector, Dimension: 2},
	}
	d := tabular.NewDataset("title", "vec")
	// Identical vectors: insertion order decides.
	_ = d.Append("first", []any{1.0, 0.0})
	_ = d.Append("second", []any{1.0, 0.0})

	table, err := e.CreateTable(ctx, "ties", schema, d)
	if err != nil {
		t.Fatal(err)
	}

	got, err := table.NearestNeighbors(ctx, "vec", []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Values["title"] != "first" || got[1].Values["title"] != "second" {
		t.Errorf("tie-break order = %v, %v", got[0].Values["title"], got[1].Values["title"])
	}
}

func TestNearestNeighborsFiltered(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	schema := tabular.Schema{
		{Name: "title", Type: tabular.TypeText},
		{Name: "price", Type: tabular.TypeNumber},
		{Name: "vec", Type: tabular.TypeVector, Dimension: 2},
	}
	d := tabular.NewDataset("title", "price", "vec")
	_ = d.Append("cheap far", 5.0, []any{0.0, 1.0})
	_ = d.Append("pricey near", 50.0, []any{1.0, 0.0})

	table, err := e.CreateTable(ctx, "shop", schema, d)
	if err != nil {
		t.Fatal(err)
	}

	// The filter runs before ranking, so the nearer row is excluded.
	filter := tabular.Where("price", tabular.OpLt, 10.0)
	got, err := table.NearestNeighbors(ctx, "vec", []float32{1, 0}, 5, filter)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Values["title"] != "cheap far" {
		t.Errorf("filtered neighbors = %+v", got)
	}

	// Filtering on a missing column is an error, not an empty result.
	bad := tabular.Where("nope", tabular.OpEq, 1.0)
	if _, err := table.NearestNeighbors(ctx, "vec", []float32{1, 0}, 5, bad); err == nil {
		t.Error("filter on unknown column should fail")
	}
}

func TestNearestNeighborsMissingColumn(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	table, err := e.CreateTable(ctx, "products", productsSchema(), productsData(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := table.NearestNeighbors(ctx, "nope", []float32{1}, 3, nil); !errors.Is(err, ErrColumnNotFound) {
		t.Errorf("error = %v, want ErrColumnNotFound", err)
	}
}

func TestDeleteRows(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	table, err := e.CreateTable(ctx, "products", productsSchema(), productsData(t))
	if err != nil {
		t.Fatal(err)
	}

	n, err := table.DeleteRows(ctx, tabular.Where("active", tabular.OpEq, false))
	if err != nil {
		t.Fatalf("DeleteRows() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}

	// Matching nothing is a no-op, not an error.
	n, err = table.DeleteRows(ctx, tabular.Where("price", tabular.OpGt, 1000.0))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("deleted %d rows, want 0", n)
	}

	count, _ := table.Count(ctx)
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}
}

func TestScanText(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	table, err := e.CreateTable(ctx, "products", productsSchema(), productsData(t))
	if err != nil {
		t.Fatal(err)
	}

	var ids []int64
	var texts []string
	err = table.ScanText(ctx, []string{"title", "price"}, func(rowID int64, values []string) error {
		ids = append(ids, rowID)
		texts = append(texts, values[0]+" "+values[1])
		return nil
	})
	if err != nil {
		t.Fatalf("ScanText() error = %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 {
		t.Errorf("ids = %v", ids)
	}
	if texts[0] != "red shirt 10" {
		t.Errorf("first text = %q", texts[0])
	}
}
