package tabular

import (
	"errors"
	"testing"
)

func TestInferSchemaTypes(t *testing.T) {
	d := NewDataset("title", "price", "active", "vec")
	mustAppend(t, d, "Widget", 9.5, true, []any{1.0, 2.0, 3.0})
	mustAppend(t, d, "Gadget", 12.0, false, []any{4.0, 5.0, 6.0})

	schema, err := InferSchema(d, DefaultVectorPolicy())
	if err != nil {
		t.Fatalf("InferSchema() error = %v", err)
	}

	want := map[string]FieldType{
		"title":  TypeText,
		"price":  TypeNumber,
		"active": TypeBoolean,
		"vec":    TypeVector,
	}
	for name, typ := range want {
		f, ok := schema.Field(name)
		if !ok {
			t.Fatalf("field %q missing from schema", name)
		}
		if f.Type != typ {
			t.Errorf("field %q type = %q, want %q", name, f.Type, typ)
		}
	}

	vec, _ := schema.Field("vec")
	if vec.Dimension != 3 {
		t.Errorf("vector dimension = %d, want 3", vec.Dimension)
	}
}

func TestInferSchemaStringCells(t *testing.T) {
	// CSV input arrives as strings; types still come out right.
	d := NewDataset("name", "count", "flag", "vec")
	mustAppend(t, d, "a", "10", "true", "[0.1, 0.2]")
	mustAppend(t, d, "b", "20", "false", "[0.3, 0.4]")

	schema, err := InferSchema(d, DefaultVectorPolicy())
	if err != nil {
		t.Fatalf("InferSchema() error = %v", err)
	}

	if f, _ := schema.Field("count"); f.Type != TypeNumber {
		t.Errorf("count type = %q, want number", f.Type)
	}
	if f, _ := schema.Field("flag"); f.Type != TypeBoolean {
		t.Errorf("flag type = %q, want boolean", f.Type)
	}
	if f, _ := schema.Field("vec"); f.Type != TypeVector || f.Dimension != 2 {
		t.Errorf("vec = %+v, want vector(2)", f)
	}
}

func TestInferSchemaNumericIDStaysNumber(t *testing.T) {
	d := NewDataset("id")
	mustAppend(t, d, 1.0)
	mustAppend(t, d, 2.0)

	schema, err := InferSchema(d, DefaultVectorPolicy())
	if err != nil {
		t.Fatalf("InferSchema() error = %v", err)
	}
	if f, _ := schema.Field("id"); f.Type != TypeNumber {
		t.Errorf("id type = %q, want number", f.Type)
	}
}

func TestInferSchemaShortListIsNotVector(t *testing.T) {
	// Length-1 lists are ambiguous with plain numbers.
	d := NewDataset("v")
	mustAppend(t, d, []any{1.0})
	mustAppend(t, d, []any{2.0})

	schema, err := InferSchema(d, DefaultVectorPolicy())
	if err != nil {
		t.Fatalf("InferSchema() error = %v", err)
	}
	if f, _ := schema.Field("v"); f.Type == TypeVector {
		t.Errorf("length-1 lists classified as vector")
	}
}

func TestInferSchemaRaggedListsFallBackToText(t *testing.T) {
	d := NewDataset("v")
	mustAppend(t, d, []any{1.0, 2.0})
	mustAppend(t, d, []any{1.0, 2.0, 3.0})

	schema, err := InferSchema(d, DefaultVectorPolicy())
	if err != nil {
		t.Fatalf("InferSchema() error = %v", err)
	}
	if f, _ := schema.Field("v"); f.Type != TypeText {
		t.Errorf("ragged lists type = %q, want text", f.Type)
	}
}

func TestInferSchemaAllNullColumn(t *testing.T) {
	d := NewDataset("empty")
	mustAppend(t, d, nil)
	mustAppend(t, d, nil)

	_, err := InferSchema(d, DefaultVectorPolicy())
	if !errors.Is(err, ErrSchemaInference) {
		t.Fatalf("InferSchema() error = %v, want ErrSchemaInference", err)
	}
}

func TestInferSchemaNullsTolerated(t *testing.T) {
	d := NewDataset("n")
	mustAppend(t, d, nil)
	mustAppend(t, d, 5.0)

	schema, err := InferSchema(d, DefaultVectorPolicy())
	if err != nil {
		t.Fatalf("InferSchema() error = %v", err)
	}
	if f, _ := schema.Field("n"); f.Type != TypeNumber {
		t.Errorf("n type = %q, want number", f.Type)
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		in      any
		want    any
		wantErr bool
	}{
		{"number from string", Field{Name: "n", Type: TypeNumber}, "3.5", 3.5, false},
		{"bool from string", Field{Name: "b", Type: TypeBoolean}, "true", true, false},
		{"nil passes", Field{Name: "n", Type: TypeNumber}, nil, nil, false},
		{"bad number", Field{Name: "n", Type: TypeNumber}, "abc", nil, true},
		{"wrong dimension", Field{Name: "v", Type: TypeVector, Dimension: 3}, []any{1.0, 2.0}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in, tt.field)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Coerce() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Coerce() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoerceVector(t *testing.T) {
	f := Field{Name: "v", Type: TypeVector, Dimension: 2}
	got, err := Coerce([]any{1.0, 2.0}, f)
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	vec, ok := got.([]float32)
	if !ok || len(vec) != 2 || vec[0] != 1 || vec[1] != 2 {
		t.Errorf("Coerce() = %v, want [1 2]", got)
	}
}

func mustAppend(t *testing.T, d *Dataset, values ...any) {
	t.Helper()
	if err := d.Append(values...); err != nil {
		t.Fatal(err)
	}
}
