package patch

import (
	"log"
	"reflect"
	"sort"

	"gridsync/engine/internal/table"
)

// Diff compares curr against the last-confirmed server snapshot prev and
// returns the minimal ordered operation list that transforms prev into
// curr. Pure apart from logging.
//
// Deletions are never produced here. They are issued exclusively through
// explicit undo/redo operations; a table mutated outside that path will not
// have its deletions synchronized. The asymmetry is intentional.
func Diff(prev, curr *table.Table) []Operation {
	var ops []Operation
	ops = append(ops, diffColumns(prev, curr)...)
	ops = append(ops, diffRows(prev, curr)...)
	ops = append(ops, diffCells(prev, curr)...)
	return OrderAddsLast(ops)
}

func diffColumns(prev, curr *table.Table) []Operation {
	var ops []Operation
	for _, idx := range sortedKeys(curr.Columns) {
		if idx < 0 {
			log.Printf("diff: negative column index %d, skipping", idx)
			continue
		}
		col := curr.Columns[idx]
		before, ok := prev.Columns[idx]
		if !ok {
			colType := col.Type
			if colType == "" {
				colType = table.TypeSingleLineText
			}
			ops = append(ops, AddColumn{Data: columnAsPatch(col, colType)})
			continue
		}
		if p, changed := columnDelta(before, col); changed {
			ops = append(ops, UpdateColumn{Data: p})
		}
	}
	return ops
}

// columnDelta compares the tracked field set and returns a patch carrying
// only the changed fields.
func columnDelta(before, after table.Column) (table.ColumnPatch, bool) {
	var p table.ColumnPatch
	changed := false

	if !reflect.DeepEqual(before.Format, after.Format) {
		f := after.Format
		p.Format = &f
		changed = true
	}
	if !reflect.DeepEqual(before.ToolSettings, after.ToolSettings) {
		p.ToolSettings = after.ToolSettings
		changed = true
	}
	if before.Type != after.Type {
		t := after.Type
		p.Type = &t
		changed = true
	}
	if before.Description != after.Description {
		d := after.Description
		p.Description = &d
		changed = true
	}
	if before.AIGenerated != after.AIGenerated {
		g := after.AIGenerated
		p.AIGenerated = &g
		changed = true
	}
	if before.Prompt != after.Prompt {
		pr := after.Prompt
		p.Prompt = &pr
		changed = true
	}
	if before.Name != after.Name {
		n := after.Name
		p.Name = &n
		changed = true
	}
	if before.ColumnIndex != after.ColumnIndex {
		changed = true
	}
	if changed {
		idx := after.ColumnIndex
		p.ColumnIndex = &idx
		id := after.UUID
		p.UUID = &id
	}
	return p, changed
}

func columnAsPatch(c table.Column, colType table.ColumnType) table.ColumnPatch {
	idx := c.ColumnIndex
	id := c.UUID
	name := c.Name
	desc := c.Description
	prompt := c.Prompt
	gen := c.AIGenerated
	format := c.Format
	return table.ColumnPatch{
		ColumnIndex:  &idx,
		UUID:         &id,
		Type:         &colType,
		Name:         &name,
		Description:  &desc,
		Prompt:       &prompt,
		AIGenerated:  &gen,
		Format:       &format,
		ToolSettings: c.ToolSettings,
	}
}

func diffRows(prev, curr *table.Table) []Operation {
	var ops []Operation
	for _, idx := range sortedKeys(curr.Rows) {
		if idx < 0 {
			log.Printf("diff: negative row index %d, skipping", idx)
			continue
		}
		row := curr.Rows[idx]
		before, ok := prev.Rows[idx]
		if !ok {
			ops = append(ops, AddRow{Data: rowAsPatch(row)})
			continue
		}
		if before.RowIndex != row.RowIndex {
			ops = append(ops, UpdateRow{Data: rowAsPatch(row)})
		}
	}
	return ops
}

func rowAsPatch(r table.Row) table.RowPatch {
	idx := r.RowIndex
	id := r.UUID
	format := r.Format
	return table.RowPatch{RowIndex: &idx, UUID: &id, Format: &format}
}

func diffCells(prev, curr *table.Table) []Operation {
	keys := make([]string, 0, len(curr.Cells))
	for key := range curr.Cells {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var ops []Operation
	for _, key := range keys {
		cell := curr.Cells[key]
		if cell.RowIndex < 0 || cell.ColumnIndex < 0 {
			log.Printf("diff: invalid cell coordinate (%d,%d), skipping", cell.RowIndex, cell.ColumnIndex)
			continue
		}
		before, ok := prev.Cells[key]
		if !ok {
			// Cell creation travels as UPDATE_CELL; the diff never emits
			// CREATE_CELL.
			ops = append(ops, UpdateCell{Data: cellAsPatch(cell)})
			continue
		}
		if cellChanged(before, cell) {
			ops = append(ops, UpdateCell{Data: cellAsPatch(cell)})
		}
	}
	return ops
}

// cellChanged compares formula, then value, then format, stopping at the
// first difference.
func cellChanged(before, after table.Cell) bool {
	if before.Formula != after.Formula {
		return true
	}
	if !valueEqual(before.Value, after.Value) {
		return true
	}
	return !reflect.DeepEqual(before.Format, after.Format)
}

// valueEqual uses shallow comparison for primitives and deep equality for
// everything else (JSON objects, file reference lists).
func valueEqual(a, b any) bool {
	switch a.(type) {
	case nil, string, bool, int, int64, float64:
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func cellAsPatch(c table.Cell) table.CellPatch {
	id := c.UUID
	colUUID := c.ColumnUUID
	rowUUID := c.RowUUID
	value := c.Value
	formula := c.Formula
	format := c.Format
	status := c.AIFillStatus
	updated := c.UpdatedAt
	return table.CellPatch{
		RowIndex:     c.RowIndex,
		ColumnIndex:  c.ColumnIndex,
		UUID:         &id,
		ColumnUUID:   &colUUID,
		RowUUID:      &rowUUID,
		Value:        &value,
		Formula:      &formula,
		Format:       &format,
		AIFillStatus: &status,
		Sources:      c.Sources,
		UpdatedAt:    &updated,
	}
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
