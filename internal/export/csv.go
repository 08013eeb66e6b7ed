package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/joseph-ayodele/schema-extractor/internal/flatten"
)

// CSV encodes the table with a header row. Numbers use the shortest exact form.
func CSV(table *flatten.Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(table.Columns); err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i, v := range row.Values() {
			record[i] = cellString(v)
		}
		if err := w.Write(record[:len(row)]); err != nil {
			return nil, fmt.Errorf("csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv flush: %w", err)
	}
	return buf.Bytes(), nil
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
