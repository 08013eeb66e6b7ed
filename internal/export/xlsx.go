package export

import (
	"fmt"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/schema-extractor/constants"
	"github.com/joseph-ayodele/schema-extractor/internal/flatten"
)

const xlsxContentType = constants.ExcelContentType

// XLSX writes the table to a single-sheet workbook and returns its bytes.
func XLSX(table *flatten.Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := constants.ExcelSheetName
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	widths := make([]int, len(table.Columns))
	for i, h := range table.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
		widths[i] = utf8.RuneCountInString(h)
	}

	for r, row := range table.Rows {
		for c, v := range row.Values() {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("xlsx cell %s: %w", cell, err)
			}
			if s, ok := v.(string); ok && c < len(widths) {
				widths[c] = max(widths[c], utf8.RuneCountInString(s))
			}
		}
	}

	if len(table.Columns) > 0 {
		if bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
			last, _ := excelize.CoordinatesToCellName(len(table.Columns), 1)
			_ = f.SetCellStyle(sheet, "A1", last, bold)
		}
		_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, col, col, float64(min(max(w+2, 10), 60)))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
