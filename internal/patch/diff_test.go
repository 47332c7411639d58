package patch

import (
	"reflect"
	"testing"

	"gridsync/engine/internal/table"
)

func TestDiffIdentity(t *testing.T) {
	for _, tbl := range []*table.Table{emptyTable(), seededTable(t)} {
		if ops := Diff(tbl, tbl); len(ops) != 0 {
			t.Errorf("diff(T, T) produced %d ops, want none", len(ops))
		}
	}
}

func TestDiffClonedIdentity(t *testing.T) {
	tbl := seededTable(t)
	if ops := Diff(tbl, table.Clone(tbl)); len(ops) != 0 {
		t.Errorf("diff against a clone produced %d ops, want none", len(ops))
	}
}

func TestDiffDeterminism(t *testing.T) {
	prev := seededTable(t)
	curr, _ := Apply(prev, []Operation{
		cellValueOp(0, 0, "a"),
		cellValueOp(7, 4, "b"),
	}, testUser)

	first := Diff(prev, curr)
	for i := 0; i < 10; i++ {
		again := Diff(prev, curr)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("diff output changed between runs:\n%v\n%v", first, again)
		}
	}
}

func TestDiffAddOrdering(t *testing.T) {
	prev := seededTable(t)
	curr, _ := Apply(prev, []Operation{
		cellValueOp(9, 9, "new corner"),
		cellValueOp(0, 0, "edit"),
	}, testUser)

	ops := Diff(prev, curr)
	if len(ops) == 0 {
		t.Fatal("expected a non-empty diff")
	}
	seenAdd := false
	for _, op := range ops {
		if IsAdd(op) {
			seenAdd = true
			continue
		}
		if seenAdd {
			t.Fatalf("%s appears after an add op", op.Type())
		}
	}
	if !seenAdd {
		t.Fatal("expected AddColumn/AddRow ops for the new corner cell")
	}
}

func TestDiffSingleCellEdit(t *testing.T) {
	prev := seededTable(t)
	curr, _ := Apply(prev, []Operation{cellValueOp(0, 0, "hi")}, testUser)

	ops := Diff(prev, curr)
	if len(ops) != 1 {
		t.Fatalf("diff produced %d ops, want exactly 1: %v", len(ops), ops)
	}
	up, ok := ops[0].(UpdateCell)
	if !ok {
		t.Fatalf("op is %T, want UpdateCell", ops[0])
	}
	if up.Data.RowIndex != 0 || up.Data.ColumnIndex != 0 {
		t.Errorf("op coordinate = (%d,%d), want (0,0)", up.Data.RowIndex, up.Data.ColumnIndex)
	}
	if up.Data.Value == nil || *up.Data.Value != "hi" {
		t.Errorf("op value = %v, want hi", up.Data.Value)
	}
}

func TestDiffNewColumnFallsBackToText(t *testing.T) {
	prev := emptyTable()
	curr := table.Clone(prev)
	curr.Columns[0] = table.Column{ColumnIndex: 0, UUID: "col-x", Name: "X"}
	curr.Reindex()

	ops := Diff(prev, curr)
	if len(ops) != 1 {
		t.Fatalf("diff produced %d ops, want 1", len(ops))
	}
	add, ok := ops[0].(AddColumn)
	if !ok {
		t.Fatalf("op is %T, want AddColumn", ops[0])
	}
	if add.Data.Type == nil || *add.Data.Type != table.TypeSingleLineText {
		t.Errorf("untyped new column must fall back to %s", table.TypeSingleLineText)
	}
}

func TestDiffColumnCarriesOnlyChangedFields(t *testing.T) {
	prev := seededTable(t)
	curr := table.Clone(prev)
	col := curr.Columns[0]
	col.Name = "Renamed"
	curr.Columns[0] = col

	ops := Diff(prev, curr)
	if len(ops) != 1 {
		t.Fatalf("diff produced %d ops, want 1", len(ops))
	}
	up, ok := ops[0].(UpdateColumn)
	if !ok {
		t.Fatalf("op is %T, want UpdateColumn", ops[0])
	}
	if up.Data.Name == nil || *up.Data.Name != "Renamed" {
		t.Error("changed name missing from patch")
	}
	if up.Data.Type != nil || up.Data.Description != nil || up.Data.Prompt != nil || up.Data.Format != nil {
		t.Errorf("unchanged fields leaked into patch: %+v", up.Data)
	}
}

func TestDiffColumnIndexChange(t *testing.T) {
	prev := seededTable(t)
	curr := table.Clone(prev)
	// Same map slot, different declared index — a reorder the baseline has
	// not seen yet must show up in the delta like it does for rows.
	col := curr.Columns[0]
	col.ColumnIndex = 2
	curr.Columns[0] = col

	ops := Diff(prev, curr)
	if len(ops) != 1 {
		t.Fatalf("diff produced %d ops, want 1: %v", len(ops), ops)
	}
	up, ok := ops[0].(UpdateColumn)
	if !ok {
		t.Fatalf("op is %T, want UpdateColumn", ops[0])
	}
	if up.Data.ColumnIndex == nil || *up.Data.ColumnIndex != 2 {
		t.Errorf("patch column_index = %v, want 2", up.Data.ColumnIndex)
	}
}

func TestDiffFormulaWinsOverValue(t *testing.T) {
	prev := seededTable(t)
	curr := table.Clone(prev)
	cell := curr.Cells[table.CoordKey(0, 0)]
	cell.Formula = "=SUM(A1:A2)"
	cell.Value = "computed"
	curr.Cells[table.CoordKey(0, 0)] = cell

	ops := Diff(prev, curr)
	if len(ops) != 1 {
		t.Fatalf("diff produced %d ops, want 1", len(ops))
	}
	if _, ok := ops[0].(UpdateCell); !ok {
		t.Fatalf("op is %T, want UpdateCell", ops[0])
	}
}

func TestDiffDeepValueComparison(t *testing.T) {
	prev := seededTable(t)

	withMap := table.Clone(prev)
	cell := withMap.Cells[table.CoordKey(0, 0)]
	cell.Value = map[string]any{"k": []any{"a", "b"}}
	withMap.Cells[table.CoordKey(0, 0)] = cell

	same := table.Clone(withMap)
	if ops := Diff(withMap, same); len(ops) != 0 {
		t.Errorf("deep-equal values diffed as changed: %v", ops)
	}

	changed := table.Clone(withMap)
	cell = changed.Cells[table.CoordKey(0, 0)]
	cell.Value = map[string]any{"k": []any{"a", "c"}}
	changed.Cells[table.CoordKey(0, 0)] = cell
	if ops := Diff(withMap, changed); len(ops) != 1 {
		t.Errorf("deep value change produced %d ops, want 1", len(ops))
	}
}

func TestDiffNegativeIndicesSkipped(t *testing.T) {
	prev := emptyTable()
	curr := table.Clone(prev)
	curr.Columns[-1] = table.Column{ColumnIndex: -1, UUID: "bad"}
	curr.Rows[-2] = table.Row{RowIndex: -2, UUID: "also bad"}
	curr.Cells[table.CoordKey(-2, -1)] = table.Cell{RowIndex: -2, ColumnIndex: -1, UUID: "worst"}

	if ops := Diff(prev, curr); len(ops) != 0 {
		t.Errorf("negative indices must be skipped, got %v", ops)
	}
}

func TestDiffNeverEmitsDeletes(t *testing.T) {
	prev := seededTable(t)
	curr := table.Clone(prev)
	delete(curr.Columns, 1)
	delete(curr.Rows, 1)
	delete(curr.Cells, table.CoordKey(1, 1))
	curr.Reindex()

	for _, op := range Diff(prev, curr) {
		switch op.Type() {
		case OpDeleteColumn, OpDeleteRow:
			t.Fatalf("diff emitted %s; deletions only travel through undo/redo", op.Type())
		}
	}
}
