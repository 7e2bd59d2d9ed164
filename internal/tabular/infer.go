package tabular

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// VectorPolicy controls how numeric-list columns are classified during
// schema inference. A column is treated as a vector column only when
// every non-empty cell parses as a numeric list of at least MinLength
// elements, and (when RequireUniform is set) all lists share one
// length. Anything else stays a scalar column.
type VectorPolicy struct {
	// MinLength is the minimum list length for vector detection.
	// Length-1 lists are ambiguous with plain numbers and are never
	// treated as vectors unless MinLength is lowered explicitly.
	MinLength int

	// RequireUniform requires all lists in a column to share the same
	// length. When false the observed maximum length wins and shorter
	// rows are rejected at insert time.
	RequireUniform bool
}

// DefaultVectorPolicy returns the policy described above with
// MinLength 2.
func DefaultVectorPolicy() VectorPolicy {
	return VectorPolicy{MinLength: 2, RequireUniform: true}
}

// InferSchema derives a schema from sample rows. It is a pure
// function: it inspects the dataset's cell values (and, for string
// cells, their parsed forms) without touching any storage.
//
// Classification per column, in order:
//  1. every non-empty cell is (or parses as) a bool    -> boolean
//  2. every non-empty cell is (or parses as) a number  -> number
//  3. every non-empty cell parses as a numeric list
//     satisfying the vector policy                     -> vector
//  4. otherwise                                        -> text
//
// A column with no non-empty cells cannot be classified and fails
// with ErrSchemaInference.
func InferSchema(d *Dataset, policy VectorPolicy) (Schema, error) {
	if d == nil || len(d.Fields) == 0 {
		return nil, fmt.Errorf("%w: no fields in sample", ErrSchemaInference)
	}
	if len(d.Rows) == 0 {
		return nil, fmt.Errorf("%w: no sample rows", ErrSchemaInference)
	}

	schema := make(Schema, 0, len(d.Fields))
	for col, name := range d.Fields {
		field, err := inferField(d, col, name, policy)
		if err != nil {
			return nil, err
		}
		schema = append(schema, field)
	}
	return schema, nil
}

func inferField(d *Dataset, col int, name string, policy VectorPolicy) (Field, error) {
	allBool := true
	allNumber := true
	allVector := true
	vectorDim := -1
	seen := 0

	for _, row := range d.Rows {
		v := row[col]
		if isEmptyCell(v) {
			continue
		}
		seen++

		if allBool && !cellIsBool(v) {
			allBool = false
		}
		if allNumber && !cellIsNumber(v) {
			allNumber = false
		}
		if allVector {
			vec, ok := cellAsVector(v)
			switch {
			case !ok, len(vec) < policy.MinLength:
				allVector = false
			case vectorDim == -1:
				vectorDim = len(vec)
			case len(vec) != vectorDim:
				if policy.RequireUniform {
					allVector = false
				} else if len(vec) > vectorDim {
					vectorDim = len(vec)
				}
			}
		}
		if !allBool && !allNumber && !allVector {
			break
		}
	}

	if seen == 0 {
		return Field{}, fmt.Errorf("%w: column %q has no non-empty sample values", ErrSchemaInference, name)
	}

	switch {
	case allBool:
		return Field{Name: name, Type: TypeBoolean}, nil
	case allNumber:
		return Field{Name: name, Type: TypeNumber}, nil
	case allVector:
		return Field{Name: name, Type: TypeVector, Dimension: vectorDim}, nil
	default:
		return Field{Name: name, Type: TypeText}, nil
	}
}

func isEmptyCell(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func cellIsBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "false":
			return true
		}
	}
	return false
}

func cellIsNumber(v any) bool {
	switch t := v.(type) {
	case float64, int, int64:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return err == nil
	}
	return false
}

// cellAsVector parses a cell as a numeric list. String cells accept
// the JSON array form ("[0.1, 0.2]") produced by CSV exports.
func cellAsVector(v any) ([]float32, bool) {
	switch t := v.(type) {
	case []float32:
		return t, true
	case []float64:
		out := make([]float32, len(t))
		for i, f := range t {
			out[i] = float32(f)
		}
		return out, true
	case []any:
		out := make([]float32, len(t))
		for i, e := range t {
			f, ok := e.(float64)
			if !ok {
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	case string:
		s := strings.TrimSpace(t)
		if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
			return nil, false
		}
		var raw []float64
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return nil, false
		}
		out := make([]float32, len(raw))
		for i, f := range raw {
			out[i] = float32(f)
		}
		return out, true
	}
	return nil, false
}

// Coerce converts a raw cell value to the canonical Go representation
// for the given field type. Empty cells become nil. Values that do
// not fit the declared type are reported, not silently mangled.
func Coerce(v any, f Field) (any, error) {
	if isEmptyCell(v) {
		return nil, nil
	}
	switch f.Type {
	case TypeBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("field %q: %q is not a boolean", f.Name, t)
			}
			return b, nil
		}
	case TypeNumber:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, fmt.Errorf("field %q: %q is not a number", f.Name, t)
			}
			return n, nil
		}
	case TypeVector:
		vec, ok := cellAsVector(v)
		if !ok {
			return nil, fmt.Errorf("field %q: value is not a numeric list", f.Name)
		}
		if f.Dimension > 0 && len(vec) != f.Dimension {
			return nil, fmt.Errorf("field %q: vector has %d components, column has %d", f.Name, len(vec), f.Dimension)
		}
		return vec, nil
	case TypeText:
		switch t := v.(type) {
		case string:
			return t, nil
		default:
			return fmt.Sprintf("%v", t), nil
		}
	}
	return nil, fmt.Errorf("field %q: unsupported value %T", f.Name, v)
}
