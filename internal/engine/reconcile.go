package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gridsync/engine/internal/cache"
	"gridsync/engine/internal/patch"
	"gridsync/engine/internal/table"
)

// ErrInvariant marks a reconciliation precondition the rest of the engine
// should have made impossible. It is never recovered from silently.
var ErrInvariant = errors.New("engine: reconciliation invariant violated")

// reconcile applies backend-confirmed operations to the local table and the
// server snapshot in lockstep. The snapshot is always advanced; the local
// table only when the incoming updated_at is not older than the local
// entity's (last-write-wins, so a stale broadcast cannot regress a newer
// optimistic edit while the diff baseline stays truthful).
func (e *Engine) reconcile(ctx context.Context, ops []patch.Operation) error {
	// The whole clone-apply-publish cycle runs under the engine mutex: an
	// optimistic Push racing the confirmation either lands first and is
	// cloned here, or waits and applies on top of the reconciled pair.
	err := e.updateSnapshot(ctx, func(snap *cache.Snapshot) (*cache.Snapshot, error) {
		local := table.Clone(snap.Current)
		server := table.Clone(snap.Server)

		for _, op := range ops {
			switch v := op.(type) {
			case patch.AddColumn:
				reconcileColumn(local, server, v.Data, e.user)
			case patch.UpdateColumn:
				reconcileColumn(local, server, v.Data, e.user)
			case patch.DeleteColumn:
				removeColumn(local, v.UUID)
				removeColumn(server, v.UUID)
			case patch.AddRow:
				reconcileRow(local, server, v.Data, e.user)
			case patch.UpdateRow:
				reconcileRow(local, server, v.Data, e.user)
			case patch.DeleteRow:
				removeRow(local, v.UUID)
				removeRow(server, v.UUID)
			case patch.UpdateCell:
				if err := reconcileCell(local, server, v.Data, e.user); err != nil {
					return nil, err
				}
			case patch.CreateCell:
				if err := reconcileCell(local, server, v.Data, e.user); err != nil {
					return nil, err
				}
			case patch.UpdateTable:
				v.Data.Merge(local)
				v.Data.Merge(server)
			case patch.RunAgent, patch.BulkAddRowsWithCellValues, patch.ApproveEntitySuggestions:
				log.Printf("engine: confirmed %s has no local effect", op.Type())
			default:
				panic(fmt.Sprintf("engine: unhandled operation %T", op))
			}
		}

		local.Reindex()
		server.Reindex()
		return &cache.Snapshot{Current: local, Server: server}, nil
	})
	if err != nil {
		if errors.Is(err, ErrInvariant) {
			return err
		}
		return fmt.Errorf("reconcile on table %s/%s: %w", e.orgID, e.tableID, err)
	}
	e.publishRefresh()
	return nil
}

// incomingWins implements the staleness rule: apply when the incoming
// timestamp is not older than the local one. A confirmation without a
// timestamp always applies.
func incomingWins(incoming *time.Time, local time.Time) bool {
	return incoming == nil || !incoming.Before(local)
}

func reconcileColumn(local, server *table.Table, p table.ColumnPatch, user string) {
	if p.ColumnIndex == nil {
		log.Printf("engine: confirmed column op without column_index, skipping")
		return
	}
	idx := *p.ColumnIndex

	if cur, ok := server.Columns[idx]; ok {
		server.Columns[idx] = p.Merge(cur)
	} else {
		server.Columns[idx] = table.MakeColumn(p, user)
	}

	if cur, ok := local.Columns[idx]; ok {
		if !incomingWins(p.UpdatedAt, cur.UpdatedAt) {
			return
		}
		local.Columns[idx] = p.Merge(cur)
	} else {
		local.Columns[idx] = table.MakeColumn(p, user)
	}
}

func reconcileRow(local, server *table.Table, p table.RowPatch, user string) {
	if p.RowIndex == nil {
		log.Printf("engine: confirmed row op without row_index, skipping")
		return
	}
	idx := *p.RowIndex

	if cur, ok := server.Rows[idx]; ok {
		server.Rows[idx] = p.Merge(cur)
	} else {
		server.Rows[idx] = table.MakeRow(p, user)
	}

	if cur, ok := local.Rows[idx]; ok {
		if !incomingWins(p.UpdatedAt, cur.UpdatedAt) {
			return
		}
		local.Rows[idx] = p.Merge(cur)
	} else {
		local.Rows[idx] = table.MakeRow(p, user)
	}
}

func removeColumn(t *table.Table, id string) {
	col, ok := t.ColumnByUUID(id)
	if !ok {
		return
	}
	delete(t.Columns, col.ColumnIndex)
	for key, cell := range t.Cells {
		if cell.ColumnUUID == id {
			delete(t.Cells, key)
		}
	}
}

func removeRow(t *table.Table, id string) {
	row, ok := t.RowByUUID(id)
	if !ok {
		return
	}
	delete(t.Rows, row.RowIndex)
	for key, cell := range t.Cells {
		if cell.RowUUID == id {
			delete(t.Cells, key)
		}
	}
}

// reconcileCell requires the referenced column and row to exist in the
// server snapshot already: the applier created them before the patch went
// out, and the backend confirms adds before cell updates. A miss means the
// snapshots diverged from the protocol and must fail loudly.
func reconcileCell(local, server *table.Table, p table.CellPatch, user string) error {
	col, ok := server.Columns[p.ColumnIndex]
	if !ok {
		return fmt.Errorf("%w: confirmed cell (%d,%d) references missing column", ErrInvariant, p.RowIndex, p.ColumnIndex)
	}
	row, ok := server.Rows[p.RowIndex]
	if !ok {
		return fmt.Errorf("%w: confirmed cell (%d,%d) references missing row", ErrInvariant, p.RowIndex, p.ColumnIndex)
	}

	key := table.CoordKey(p.RowIndex, p.ColumnIndex)
	if cur, ok := server.Cells[key]; ok {
		server.Cells[key] = p.Merge(cur)
	} else {
		server.Cells[key] = table.MakeCell(p, col, row, user)
	}

	if cur, ok := local.Cells[key]; ok {
		if !incomingWins(p.UpdatedAt, cur.UpdatedAt) {
			return nil
		}
		local.Cells[key] = p.Merge(cur)
		return nil
	}
	localCol, okCol := local.Columns[p.ColumnIndex]
	localRow, okRow := local.Rows[p.RowIndex]
	if !okCol || !okRow {
		return fmt.Errorf("%w: confirmed cell (%d,%d) references missing local column/row", ErrInvariant, p.RowIndex, p.ColumnIndex)
	}
	local.Cells[key] = table.MakeCell(p, localCol, localRow, user)
	return nil
}
