package table

import (
	"time"

	"github.com/google/uuid"
)

// Entity factories. Each builds a record of defaults (fresh uuid, no backend
// id yet, current-user stamp, fresh timestamps) and merges the partial over
// it. Used by the local patch applier whenever an operation references an
// entity that does not exist locally yet.

func MakeColumn(p ColumnPatch, user string) Column {
	now := time.Now().UTC()
	c := Column{
		UUID:           uuid.NewString(),
		Type:           TypeSingleLineText,
		Format:         ColumnFormat{Width: DefaultColumnWidth},
		ToolSettings:   map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastModifiedBy: user,
	}
	return p.Merge(c)
}

func MakeRow(p RowPatch, user string) Row {
	now := time.Now().UTC()
	r := Row{
		UUID:      uuid.NewString(),
		Format:    RowFormat{Height: DefaultRowHeight},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return p.Merge(r)
}

// MakeCell builds a cell anchored to col and row so the cascade uuids are
// always populated.
func MakeCell(p CellPatch, col Column, row Row, user string) Cell {
	now := time.Now().UTC()
	c := Cell{
		RowIndex:    row.RowIndex,
		ColumnIndex: col.ColumnIndex,
		UUID:        uuid.NewString(),
		ColumnUUID:  col.UUID,
		RowUUID:     row.UUID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c = p.Merge(c)
	// The anchors win over whatever the partial carried: a cell can never
	// point at a column or row other than the ones it is stored under.
	c.ColumnUUID = col.UUID
	c.RowUUID = row.UUID
	return c
}
