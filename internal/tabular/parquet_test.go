package tabular

import (
	"bytes"
	"errors"
	"testing"

	"github.com/parquet-go/parquet-go"
)

type parquetProduct struct {
	Title  string    `parquet:"title"`
	Price  float64   `parquet:"price"`
	Active bool      `parquet:"active"`
	Vec    []float64 `parquet:"vec"`
	Score  *float64  `parquet:"score,optional"`
}

func writeParquet(t *testing.T, rows []parquetProduct) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[parquetProduct](&buf)
	if _, err := w.Write(rows); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}
	return buf.Bytes()
}

func TestReadParquet(t *testing.T) {
	score := 4.5
	data := writeParquet(t, []parquetProduct{
		{Title: "red shirt", Price: 10.5, Active: true, Vec: []float64{1, 0}, Score: &score},
		{Title: "blue hat", Price: 8, Active: false, Vec: []float64{0, 1}, Score: &score},
		{Title: "green sock", Price: 3, Active: true, Vec: []float64{1, 1}},
	})

	d, err := ReadFile("products.parquet", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if d.Len() != 3 {
		t.Fatalf("rows = %d, want 3", d.Len())
	}

	if got := d.Value(0, "title"); got != "red shirt" {
		t.Errorf("title = %v", got)
	}
	if got := d.Value(0, "price"); got != 10.5 {
		t.Errorf("price = %v", got)
	}
	if got := d.Value(0, "active"); got != true {
		t.Errorf("active = %v", got)
	}
	if got := d.Value(2, "score"); got != nil {
		t.Errorf("missing score = %v, want nil", got)
	}

	vec, ok := d.Value(1, "vec").([]any)
	if !ok || len(vec) != 2 || vec[0] != 0.0 || vec[1] != 1.0 {
		t.Errorf("vec = %v", d.Value(1, "vec"))
	}

	schema, err := InferSchema(d, DefaultVectorPolicy())
	if err != nil {
		t.Fatalf("InferSchema() error = %v", err)
	}
	wantTypes := map[string]FieldType{
		"title":  TypeText,
		"price":  TypeNumber,
		"active": TypeBoolean,
		"vec":    TypeVector,
		"score":  TypeNumber,
	}
	for name, want := range wantTypes {
		f, ok := schema.Field(name)
		if !ok {
			t.Errorf("field %q missing from schema", name)
			continue
		}
		if f.Type != want {
			t.Errorf("field %q type = %q, want %q", name, f.Type, want)
		}
	}
	if f, _ := schema.Field("vec"); f.Dimension != 2 {
		t.Errorf("vec dimension = %d, want 2", f.Dimension)
	}
}

func TestReadParquetEmpty(t *testing.T) {
	data := writeParquet(t, nil)

	_, err := ReadParquet(bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, ErrSchemaInference) {
		t.Fatalf("error = %v, want ErrSchemaInference", err)
	}
}
