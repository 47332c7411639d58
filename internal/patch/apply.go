package patch

import (
	"fmt"
	"log"

	"gridsync/engine/internal/table"
)

// Apply runs ops against t in order and returns the resulting table, never
// touching the network. The input table is not mutated: Apply clones first
// and publishes the clone, so concurrent readers of t keep a consistent
// view.
//
// The second return value carries any AddColumn/AddRow operations Apply had
// to synthesize because a cell update referenced a column or row that did
// not exist yet. Callers that forward ops to the backend must include them
// so the server sees the same implicit creations.
//
// An Operation type outside this package's closed union panics: that is a
// programming error, not a runtime condition.
func Apply(t *table.Table, ops []Operation, user string) (*table.Table, []Operation) {
	next := table.Clone(t)
	var synthesized []Operation

	for _, op := range ops {
		switch v := op.(type) {
		case AddColumn:
			applyColumn(next, v.Data, user)
		case UpdateColumn:
			applyColumn(next, v.Data, user)
		case DeleteColumn:
			deleteColumn(next, v.UUID)
		case AddRow:
			applyRow(next, v.Data, user)
		case UpdateRow:
			applyRow(next, v.Data, user)
		case DeleteRow:
			deleteRow(next, v.UUID)
		case UpdateCell:
			synthesized = append(synthesized, applyCell(next, v.Data, user)...)
		case CreateCell:
			synthesized = append(synthesized, applyCell(next, v.Data, user)...)
		case UpdateTable:
			v.Data.Merge(next)
		case RunAgent, BulkAddRowsWithCellValues, ApproveEntitySuggestions:
			// Server-driven side effects only; nothing changes locally.
			log.Printf("patch: %s has no local effect, skipping", op.Type())
		default:
			panic(fmt.Sprintf("patch: unhandled operation %T", op))
		}
	}

	next.Reindex()
	return next, synthesized
}

// applyColumn builds or merges the column at the patch's index. The index
// always wins: whatever sat there before is overwritten, eviction and
// shifting are the caller's concern.
func applyColumn(t *table.Table, p table.ColumnPatch, user string) table.Column {
	if p.ColumnIndex == nil {
		log.Printf("patch: column op without column_index, skipping")
		return table.Column{}
	}
	idx := *p.ColumnIndex
	col, ok := t.Columns[idx]
	if ok {
		col = p.Merge(col)
	} else {
		col = table.MakeColumn(p, user)
	}
	col.ColumnIndex = idx
	t.Columns[idx] = col
	return col
}

func applyRow(t *table.Table, p table.RowPatch, user string) table.Row {
	if p.RowIndex == nil {
		log.Printf("patch: row op without row_index, skipping")
		return table.Row{}
	}
	idx := *p.RowIndex
	row, ok := t.Rows[idx]
	if ok {
		row = p.Merge(row)
	} else {
		row = table.MakeRow(p, user)
	}
	row.RowIndex = idx
	t.Rows[idx] = row
	return row
}

// deleteColumn removes the column with the given uuid and cascades to every
// cell anchored to it. The cascade key is the uuid, not the index: indices
// are reused, uuids are not.
func deleteColumn(t *table.Table, id string) {
	col, ok := t.ColumnByUUID(id)
	if !ok {
		log.Printf("patch: delete for unknown column uuid %s, skipping", id)
		return
	}
	delete(t.Columns, col.ColumnIndex)
	for key, cell := range t.Cells {
		if cell.ColumnUUID == id {
			delete(t.Cells, key)
		}
	}
}

func deleteRow(t *table.Table, id string) {
	row, ok := t.RowByUUID(id)
	if !ok {
		log.Printf("patch: delete for unknown row uuid %s, skipping", id)
		return
	}
	delete(t.Rows, row.RowIndex)
	for key, cell := range t.Cells {
		if cell.RowUUID == id {
			delete(t.Cells, key)
		}
	}
}

// applyCell stores the cell at its coordinate. A reference to a missing
// column or row creates the entity on the spot and reports the matching
// AddColumn/AddRow so the diff/sync path sees a consistent creation.
func applyCell(t *table.Table, p table.CellPatch, user string) []Operation {
	var synthesized []Operation

	col, ok := t.Columns[p.ColumnIndex]
	if !ok {
		idx := p.ColumnIndex
		// The patch's column uuid, when present, names the entity the
		// sender already created: minting a fresh one here would leave the
		// stored cell anchored to a uuid nobody else knows.
		col = table.MakeColumn(table.ColumnPatch{ColumnIndex: &idx, UUID: p.ColumnUUID}, user)
		t.Columns[idx] = col
		colIdx := idx
		synthesized = append(synthesized, AddColumn{Data: table.ColumnPatch{
			ColumnIndex: &colIdx,
			UUID:        &col.UUID,
			Type:        &col.Type,
		}})
	}

	row, ok := t.Rows[p.RowIndex]
	if !ok {
		idx := p.RowIndex
		row = table.MakeRow(table.RowPatch{RowIndex: &idx, UUID: p.RowUUID}, user)
		t.Rows[idx] = row
		rowIdx := idx
		synthesized = append(synthesized, AddRow{Data: table.RowPatch{
			RowIndex: &rowIdx,
			UUID:     &row.UUID,
		}})
	}

	key := table.CoordKey(p.RowIndex, p.ColumnIndex)
	cell, ok := t.Cells[key]
	if ok {
		cell = p.Merge(cell)
		cell.ColumnUUID = col.UUID
		cell.RowUUID = row.UUID
	} else {
		cell = table.MakeCell(p, col, row, user)
	}
	t.Cells[key] = cell
	return synthesized
}
