// Package export renders a normalized batch table as an XLSX workbook.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"gridsync/engine/internal/table"
)

const sheetName = "Sheet1"

// Excel column widths are measured in characters, not pixels. The divisor
// approximates the default Calibri glyph width.
const pixelsPerWidthUnit = 7.0

// WriteXLSX writes t as a single-sheet workbook: the column names as a
// header row, then one spreadsheet row per table row. Column widths and row
// heights carry over from the stored formats.
func WriteXLSX(t *table.Table, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if t.Name != "" {
		f.SetSheetName(sheetName, t.Name)
	}
	sheet := f.GetSheetName(0)

	for _, col := range sortedColumns(t) {
		cell, err := excelize.CoordinatesToCellName(col.ColumnIndex+1, 1)
		if err != nil {
			return fmt.Errorf("header cell for column %d: %w", col.ColumnIndex, err)
		}
		if err := f.SetCellValue(sheet, cell, col.Name); err != nil {
			return fmt.Errorf("write header %d: %w", col.ColumnIndex, err)
		}
		if col.Format.Width > 0 && col.Format.Width != table.DefaultColumnWidth {
			name, err := excelize.ColumnNumberToName(col.ColumnIndex + 1)
			if err != nil {
				return fmt.Errorf("column name for %d: %w", col.ColumnIndex, err)
			}
			width := float64(col.Format.Width) / pixelsPerWidthUnit
			if err := f.SetColWidth(sheet, name, name, width); err != nil {
				return fmt.Errorf("set width for %s: %w", name, err)
			}
		}
	}

	for _, row := range t.Rows {
		if row.Format.Height > 0 && row.Format.Height != table.DefaultRowHeight {
			// Header occupies spreadsheet row 1.
			if err := f.SetRowHeight(sheet, row.RowIndex+2, float64(row.Format.Height)); err != nil {
				return fmt.Errorf("set height for row %d: %w", row.RowIndex, err)
			}
		}
	}

	for _, c := range t.Cells {
		cell, err := excelize.CoordinatesToCellName(c.ColumnIndex+1, c.RowIndex+2)
		if err != nil {
			return fmt.Errorf("cell name for (%d,%d): %w", c.RowIndex, c.ColumnIndex, err)
		}
		value := c.Value
		if c.Formula != "" {
			if err := f.SetCellFormula(sheet, cell, c.Formula); err != nil {
				return fmt.Errorf("write formula (%d,%d): %w", c.RowIndex, c.ColumnIndex, err)
			}
			continue
		}
		if value == nil {
			continue
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("write cell (%d,%d): %w", c.RowIndex, c.ColumnIndex, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func sortedColumns(t *table.Table) []table.Column {
	out := make([]table.Column, 0, len(t.Columns))
	for idx := 0; idx <= t.MaxColumnIndex; idx++ {
		if col, ok := t.Columns[idx]; ok {
			out = append(out, col)
		}
	}
	return out
}
