package table

import "github.com/mohae/deepcopy"

// Clone returns a copy of t safe to mutate while readers keep the original:
// the three mappings are re-allocated and every payload that holds reference
// types (cell values, tool settings, sources) is deep-copied. This is the
// clone half of the clone-then-publish write discipline.
func Clone(t *Table) *Table {
	if t == nil {
		return nil
	}
	next := *t

	next.Columns = make(map[int]Column, len(t.Columns))
	for idx, c := range t.Columns {
		if c.ToolSettings != nil {
			c.ToolSettings = deepcopy.Copy(c.ToolSettings).(map[string]any)
		}
		next.Columns[idx] = c
	}

	next.Rows = make(map[int]Row, len(t.Rows))
	for idx, r := range t.Rows {
		next.Rows[idx] = r
	}

	next.Cells = make(map[string]Cell, len(t.Cells))
	for key, c := range t.Cells {
		if c.Value != nil {
			c.Value = deepcopy.Copy(c.Value)
		}
		if c.Sources != nil {
			c.Sources = append([]CellSource(nil), c.Sources...)
		}
		next.Cells[key] = c
	}

	next.EntitySuggestions = append([]EntitySuggestion(nil), t.EntitySuggestions...)
	next.ColumnOffsets = append([]int(nil), t.ColumnOffsets...)
	next.RowOffsets = append([]int(nil), t.RowOffsets...)
	return &next
}
