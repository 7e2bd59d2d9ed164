package tabular

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// ReadParquet parses a Parquet file into a dataset. Scalar leaf
// columns map to scalar cells; repeated numeric leaves become numeric
// lists, which inference can then classify as vector columns.
func ReadParquet(r io.ReaderAt, size int64) (*Dataset, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	fields := pf.Schema().Fields()
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no columns in input", ErrSchemaInference)
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name()
	}
	d := NewDataset(names...)

	buf := make([]parquet.Row, 64)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, pr := range buf[:n] {
				row, convErr := parquetRow(pr, len(names))
				if convErr != nil {
					rows.Close()
					return nil, convErr
				}
				if appendErr := d.Append(row...); appendErr != nil {
					rows.Close()
					return nil, appendErr
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("read parquet row %d: %w", d.Len()+1, err)
			}
			if n == 0 {
				break
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("close parquet row group: %w", err)
		}
	}

	if d.Len() == 0 {
		return nil, fmt.Errorf("%w: no rows in input", ErrSchemaInference)
	}
	return d, nil
}

// parquetRow converts one Dremel-encoded row. Values are grouped by
// leaf column index, so repeated fields collect into one list cell.
func parquetRow(pr parquet.Row, width int) ([]any, error) {
	cells := make([][]any, width)
	for _, v := range pr {
		ci := v.Column()
		if ci < 0 || ci >= width {
			return nil, fmt.Errorf("parquet value in column %d, schema has %d flat columns (nested schemas are not supported)", ci, width)
		}
		cells[ci] = append(cells[ci], parquetValue(v))
	}

	row := make([]any, width)
	for i, vs := range cells {
		switch len(vs) {
		case 0:
			row[i] = nil
		case 1:
			row[i] = vs[0]
		default:
			row[i] = vs
		}
	}
	return row, nil
}

func parquetValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return float64(v.Int32())
	case parquet.Int64:
		return float64(v.Int64())
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}
