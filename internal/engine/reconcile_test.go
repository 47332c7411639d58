package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"gridsync/engine/internal/cache"
	"gridsync/engine/internal/patch"
	"gridsync/engine/internal/table"
)

func TestReconcileStalenessArbitration(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw()}
	eng := newTestEngine(t, transport)
	ctx := context.Background()

	// Local cell carries a newer optimistic edit.
	t2 := time.Unix(1700005000, 0).UTC()
	newer := any("local-newer")
	snapBefore, _ := eng.cache.Get(ctx, "org", "tbl")
	localEdit, _ := patch.Apply(snapBefore.Current, []patch.Operation{
		patch.UpdateCell{Data: table.CellPatch{RowIndex: 0, ColumnIndex: 0, Value: &newer, UpdatedAt: &t2}},
	}, "tester")
	eng.cache.Set(ctx, "org", "tbl", &cache.Snapshot{Current: localEdit, Server: snapBefore.Server})

	// A stale broadcast arrives with an older timestamp.
	t1 := time.Unix(1700001000, 0).UTC()
	stale := any("server-stale")
	eng.ApplyRemote([]patch.Operation{
		patch.UpdateCell{Data: table.CellPatch{RowIndex: 0, ColumnIndex: 0, Value: &stale, UpdatedAt: &t1}},
	})

	if got := eng.Table(ctx).Cells[table.CoordKey(0, 0)].Value; got != "local-newer" {
		t.Errorf("stale broadcast regressed local value to %v", got)
	}
	if got := eng.ServerSnapshot(ctx).Cells[table.CoordKey(0, 0)].Value; got != "server-stale" {
		t.Errorf("server snapshot value = %v, want server-stale (baseline always advances)", got)
	}
}

func TestReconcileNewerIncomingWins(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw()}
	eng := newTestEngine(t, transport)
	ctx := context.Background()

	t3 := time.Unix(1700009000, 0).UTC()
	incoming := any("server-newer")
	eng.ApplyRemote([]patch.Operation{
		patch.UpdateCell{Data: table.CellPatch{RowIndex: 0, ColumnIndex: 0, Value: &incoming, UpdatedAt: &t3}},
	})

	if got := eng.Table(ctx).Cells[table.CoordKey(0, 0)].Value; got != "server-newer" {
		t.Errorf("newer broadcast not applied locally: %v", got)
	}
	if got := eng.ServerSnapshot(ctx).Cells[table.CoordKey(0, 0)].Value; got != "server-newer" {
		t.Errorf("server snapshot not advanced: %v", got)
	}
}

func TestReconcileDeleteCascadesBothSnapshots(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw()}
	eng := newTestEngine(t, transport)
	ctx := context.Background()

	eng.ApplyRemote([]patch.Operation{patch.DeleteColumn{UUID: "col-a"}})

	for name, tbl := range map[string]*table.Table{
		"local":  eng.Table(ctx),
		"server": eng.ServerSnapshot(ctx),
	} {
		if _, ok := tbl.ColumnByUUID("col-a"); ok {
			t.Errorf("%s snapshot still has col-a", name)
		}
		for key, cell := range tbl.Cells {
			if cell.ColumnUUID == "col-a" {
				t.Errorf("%s snapshot cell %s still references col-a", name, key)
			}
		}
	}
}

func TestReconcileColumnStaleness(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw()}
	eng := newTestEngine(t, transport)
	ctx := context.Background()

	t1 := time.Unix(1600000000, 0).UTC() // older than the seeded stamp
	idx := 0
	staleName := "Stale"
	eng.ApplyRemote([]patch.Operation{
		patch.UpdateColumn{Data: table.ColumnPatch{ColumnIndex: &idx, Name: &staleName, UpdatedAt: &t1}},
	})

	if got := eng.Table(ctx).Columns[0].Name; got != "A" {
		t.Errorf("stale column update applied locally: %s", got)
	}
	if got := eng.ServerSnapshot(ctx).Columns[0].Name; got != "Stale" {
		t.Errorf("server snapshot column name = %s, want Stale", got)
	}
}

func TestReconcileMissingColumnFailsLoudly(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw()}
	eng := newTestEngine(t, transport)

	val := any("x")
	err := eng.reconcile(context.Background(), []patch.Operation{
		patch.UpdateCell{Data: table.CellPatch{RowIndex: 0, ColumnIndex: 42, Value: &val}},
	})
	if !errors.Is(err, ErrInvariant) {
		t.Errorf("missing column error = %v, want ErrInvariant", err)
	}
}

func TestReconcileAddsMissingEntities(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw()}
	eng := newTestEngine(t, transport)
	ctx := context.Background()

	idx := 5
	colUUID := "col-new"
	rowIdx := 9
	rowUUID := "row-new"
	eng.ApplyRemote([]patch.Operation{
		patch.AddColumn{Data: table.ColumnPatch{ColumnIndex: &idx, UUID: &colUUID}},
		patch.AddRow{Data: table.RowPatch{RowIndex: &rowIdx, UUID: &rowUUID}},
	})

	for name, tbl := range map[string]*table.Table{
		"local":  eng.Table(ctx),
		"server": eng.ServerSnapshot(ctx),
	} {
		if _, ok := tbl.Columns[5]; !ok {
			t.Errorf("%s snapshot missing confirmed column", name)
		}
		if _, ok := tbl.Rows[9]; !ok {
			t.Errorf("%s snapshot missing confirmed row", name)
		}
	}
}
