package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
)

// firstByte peeks at the first non-whitespace byte without consuming
// anything.
func firstByte(br *bufio.Reader) (byte, error) {
	for n := 1; ; n++ {
		buf, err := br.Peek(n)
		if err != nil {
			return 0, err
		}
		switch buf[n-1] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return buf[n-1], nil
		}
	}
}

// ReadCSV parses CSV input with a header row into a dataset of string
// cells. Type classification happens later in InferSchema.
func ReadCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input", ErrSchemaInference)
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	d := NewDataset(header...)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", d.Len()+2, err)
		}
		row := make([]any, len(record))
		for i, cell := range record {
			row[i] = cell
		}
		if err := d.Append(row...); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ReadJSON parses either a JSON array of objects or newline-delimited
// JSON objects. Objects may omit fields (nil cells); the union of all
// keys, sorted, becomes the dataset field order.
func ReadJSON(r io.Reader) (*Dataset, error) {
	br := bufio.NewReader(r)
	first, err := firstByte(br)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()

	var objects []map[string]any

	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("read json: %w", err)
		}
		for dec.More() {
			var obj map[string]any
			if err := dec.Decode(&obj); err != nil {
				return nil, fmt.Errorf("read json row %d: %w", len(objects)+1, err)
			}
			objects = append(objects, obj)
		}
	} else if first == '{' {
		// Newline-delimited objects.
		for {
			var obj map[string]any
			if err := dec.Decode(&obj); err == io.EOF {
				break
			} else if err != nil {
				return nil, fmt.Errorf("read json row %d: %w", len(objects)+1, err)
			}
			objects = append(objects, obj)
		}
	} else {
		return nil, fmt.Errorf("%w: expected a JSON array of row objects", ErrSchemaInference)
	}

	return FromRecords(objects)
}

// FromRecords builds a dataset from decoded row objects. The union of
// keys is sorted for a deterministic schema, since map iteration order
// is not stable.
func FromRecords(records []map[string]any) (*Dataset, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no rows in input", ErrSchemaInference)
	}

	var order []string
	seen := map[string]bool{}
	for _, obj := range records {
		for k := range obj {
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
			}
		}
	}
	sort.Strings(order)

	d := NewDataset(order...)
	for _, obj := range records {
		row := make([]any, len(order))
		for i, k := range order {
			row[i] = normalizeJSON(obj[k])
		}
		if err := d.Append(row...); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ReadFile dispatches on the file extension: .csv, .json, .ndjson, or
// .parquet.
func ReadFile(name string, r io.Reader) (*Dataset, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return ReadCSV(r)
	case ".json", ".ndjson":
		return ReadJSON(r)
	case ".parquet":
		// Parquet needs random access; buffer the input.
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read parquet: %w", err)
		}
		return ReadParquet(bytes.NewReader(data), int64(len(data)))
	default:
		return nil, fmt.Errorf("unsupported input format %q (want .csv, .json, or .parquet)", filepath.Ext(name))
	}
}

func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeJSON(e)
		}
		return out
	case map[string]any:
		// Nested objects flatten to their JSON text form.
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return v
	}
}

// Sample generates a small demo dataset from column names, guessing a
// value style per column from its name. Used by "create --sample".
func Sample(columns []string, rows int) *Dataset {
	if rows <= 0 {
		rows = 5
	}
	d := NewDataset(columns...)
	for i := 1; i <= rows; i++ {
		row := make([]any, len(columns))
		for j, col := range columns {
			name := strings.ToLower(col)
			switch {
			case name == "id":
				row[j] = float64(i)
			case strings.Contains(name, "count") || strings.Contains(name, "num"):
				row[j] = float64(i * 10)
			case strings.Contains(name, "price") || strings.Contains(name, "score"):
				row[j] = float64(i) * 10.5
			case strings.Contains(name, "active") || strings.Contains(name, "flag"):
				row[j] = i%2 == 0
			default:
				row[j] = fmt.Sprintf("Sample %s %d", col, i)
			}
		}
		_ = d.Append(row...)
	}
	return d
}
