package table

import (
	"sort"
)

// Normalize converts a raw list-shaped payload into the indexed in-memory
// representation. Entities are visited in deterministic order (columns by
// index, rows by index, cells row-major), missing formats are backfilled
// with defaults and the grid geometry is recomputed. An empty RawTable
// yields an empty but fully usable Table.
func Normalize(raw RawTable) *Table {
	t := &Table{
		OrganizationID:    raw.OrganizationID,
		ID:                raw.ID,
		Name:              raw.Name,
		Mode:              raw.Mode,
		Columns:           make(map[int]Column, len(raw.Columns)),
		Rows:              make(map[int]Row, len(raw.Rows)),
		Cells:             make(map[string]Cell, len(raw.Cells)),
		EntitySuggestions: raw.EntitySuggestions,
		MaxColumnIndex:    -1,
		MaxRowIndex:       -1,
	}
	if t.Mode == "" {
		t.Mode = ModeExcel
	}

	columns := append([]Column(nil), raw.Columns...)
	sort.Slice(columns, func(i, j int) bool {
		return columns[i].ColumnIndex < columns[j].ColumnIndex
	})
	for _, c := range columns {
		if c.Format.Width == 0 {
			c.Format.Width = DefaultColumnWidth
		}
		t.Columns[c.ColumnIndex] = c
	}

	rows := append([]Row(nil), raw.Rows...)
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].RowIndex < rows[j].RowIndex
	})
	for _, r := range rows {
		if r.Format.Height == 0 {
			r.Format.Height = DefaultRowHeight
		}
		t.Rows[r.RowIndex] = r
	}

	cells := append([]Cell(nil), raw.Cells...)
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].RowIndex != cells[j].RowIndex {
			return cells[i].RowIndex < cells[j].RowIndex
		}
		return cells[i].ColumnIndex < cells[j].ColumnIndex
	})
	for _, c := range cells {
		t.Cells[CoordKey(c.RowIndex, c.ColumnIndex)] = c
	}

	t.Reindex()
	return t
}

// Reindex recomputes the derived geometry from the three mappings: maximum
// defined indices, padded counts and the cumulative pixel offsets used by
// the virtualized grid.
func (t *Table) Reindex() {
	t.MaxColumnIndex = -1
	for idx := range t.Columns {
		if idx > t.MaxColumnIndex {
			t.MaxColumnIndex = idx
		}
	}
	t.MaxRowIndex = -1
	for idx := range t.Rows {
		if idx > t.MaxRowIndex {
			t.MaxRowIndex = idx
		}
	}

	t.ColumnCount = t.MaxColumnIndex + 1
	t.RowCount = t.MaxRowIndex + 1
	if t.Mode == ModeExcel {
		if t.ColumnCount < MinExcelColumns {
			t.ColumnCount = MinExcelColumns
		}
		if t.RowCount < MinExcelRows {
			t.RowCount = MinExcelRows
		}
	}

	t.ColumnOffsets = make([]int, t.ColumnCount+1)
	for i := 0; i < t.ColumnCount; i++ {
		width := DefaultColumnWidth
		if c, ok := t.Columns[i]; ok && c.Format.Width > 0 {
			width = c.Format.Width
		}
		t.ColumnOffsets[i+1] = t.ColumnOffsets[i] + width
	}

	t.RowOffsets = make([]int, t.RowCount+1)
	for i := 0; i < t.RowCount; i++ {
		height := DefaultRowHeight
		if r, ok := t.Rows[i]; ok && r.Format.Height > 0 {
			height = r.Format.Height
		}
		t.RowOffsets[i+1] = t.RowOffsets[i] + height
	}
}

// ColumnOffset returns the left pixel edge of the column at idx.
func (t *Table) ColumnOffset(idx int) int {
	if idx < 0 || idx >= len(t.ColumnOffsets) {
		return 0
	}
	return t.ColumnOffsets[idx]
}

// RowOffset returns the top pixel edge of the row at idx.
func (t *Table) RowOffset(idx int) int {
	if idx < 0 || idx >= len(t.RowOffsets) {
		return 0
	}
	return t.RowOffsets[idx]
}

// ColumnAt resolves a horizontal pixel offset to a column index by binary
// search over the prefix sums.
func (t *Table) ColumnAt(px int) int {
	return offsetSearch(t.ColumnOffsets, px)
}

// RowAt resolves a vertical pixel offset to a row index.
func (t *Table) RowAt(px int) int {
	return offsetSearch(t.RowOffsets, px)
}

func offsetSearch(offsets []int, px int) int {
	if len(offsets) < 2 {
		return 0
	}
	i := sort.SearchInts(offsets, px+1) - 1
	if i < 0 {
		return 0
	}
	if i > len(offsets)-2 {
		i = len(offsets) - 2
	}
	return i
}
