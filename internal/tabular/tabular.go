// Package tabular defines the plain table structures exchanged between
// the core services and the storage engine: datasets, schemas, and
// scalar row filters.
package tabular

import (
	"errors"
	"fmt"
)

// ErrSchemaInference is returned when column types cannot be inferred
// from a sample of rows.
var ErrSchemaInference = errors.New("schema inference failed")

// FieldType is the semantic type of a table column.
type FieldType string

const (
	TypeText    FieldType = "text"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeVector  FieldType = "vector"
)

// Field describes a single column in a table schema.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`

	// Dimension is set for vector fields only.
	Dimension int `json:"dimension,omitempty"`

	// Model and SourceFields identify how a vector column was
	// generated. Empty for vectors imported with the source data.
	Model        string   `json:"model,omitempty"`
	SourceFields []string `json:"source_fields,omitempty"`
}

// IsVector reports whether the field holds fixed-length vectors.
func (f Field) IsVector() bool {
	return f.Type == TypeVector
}

// Schema is an ordered list of fields.
type Schema []Field

// Field returns the field with the given name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Has reports whether the schema contains a field with the given name.
func (s Schema) Has(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// ScalarFields returns the non-vector fields in schema order.
func (s Schema) ScalarFields() []Field {
	out := make([]Field, 0, len(s))
	for _, f := range s {
		if !f.IsVector() {
			out = append(out, f)
		}
	}
	return out
}

// VectorFields returns the vector fields in schema order.
func (s Schema) VectorFields() []Field {
	var out []Field
	for _, f := range s {
		if f.IsVector() {
			out = append(out, f)
		}
	}
	return out
}

// Dataset is an ordered set of rows sharing one field list. Cell
// values are nil, string, float64, bool, or []float32.
type Dataset struct {
	Fields []string
	Rows   [][]any
}

// NewDataset creates an empty dataset with the given field names.
func NewDataset(fields ...string) *Dataset {
	return &Dataset{Fields: fields}
}

// Append adds a row. The number of values must match the field list.
func (d *Dataset) Append(values ...any) error {
	if len(values) != len(d.Fields) {
		return fmt.Errorf("row has %d values, dataset has %d fields", len(values), len(d.Fields))
	}
	d.Rows = append(d.Rows, values)
	return nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// Column returns the index of the named field, or -1.
func (d *Dataset) Column(name string) int {
	for i, f := range d.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

// Value returns the cell at (row, field name), nil if absent.
func (d *Dataset) Value(row int, field string) any {
	i := d.Column(field)
	if i < 0 || row < 0 || row >= len(d.Rows) {
		return nil
	}
	return d.Rows[row][i]
}
