package store

import (
	"gridsync/engine/internal/table"
)

// Full-entity patches for confirmed operations. Confirmations always carry
// the complete record (backend id, server timestamps included) so clients
// can reconcile without a second fetch.

func columnPatch(c table.Column) table.ColumnPatch {
	idx := c.ColumnIndex
	id := c.UUID
	colType := c.Type
	name := c.Name
	desc := c.Description
	prompt := c.Prompt
	gen := c.AIGenerated
	format := c.Format
	created := c.CreatedAt
	updated := c.UpdatedAt
	modifiedBy := c.LastModifiedBy
	return table.ColumnPatch{
		ColumnIndex:    &idx,
		UUID:           &id,
		ID:             c.ID,
		Type:           &colType,
		Name:           &name,
		Description:    &desc,
		Prompt:         &prompt,
		AIGenerated:    &gen,
		Format:         &format,
		ToolSettings:   c.ToolSettings,
		CreatedAt:      &created,
		UpdatedAt:      &updated,
		LastModifiedBy: &modifiedBy,
	}
}

func rowPatch(r table.Row) table.RowPatch {
	idx := r.RowIndex
	id := r.UUID
	format := r.Format
	created := r.CreatedAt
	updated := r.UpdatedAt
	return table.RowPatch{
		RowIndex:  &idx,
		UUID:      &id,
		ID:        r.ID,
		Format:    &format,
		CreatedAt: &created,
		UpdatedAt: &updated,
	}
}

func cellPatch(c table.Cell) table.CellPatch {
	id := c.UUID
	colUUID := c.ColumnUUID
	rowUUID := c.RowUUID
	value := c.Value
	formula := c.Formula
	format := c.Format
	status := c.AIFillStatus
	created := c.CreatedAt
	updated := c.UpdatedAt
	return table.CellPatch{
		RowIndex:     c.RowIndex,
		ColumnIndex:  c.ColumnIndex,
		UUID:         &id,
		ID:           c.ID,
		ColumnUUID:   &colUUID,
		RowUUID:      &rowUUID,
		Value:        &value,
		Formula:      &formula,
		Format:       &format,
		AIFillStatus: &status,
		Sources:      c.Sources,
		CreatedAt:    &created,
		UpdatedAt:    &updated,
	}
}
