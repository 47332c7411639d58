package engine

import (
	"fmt"
	"testing"

	"gridsync/engine/internal/patch"
)

func markerEntry(i int) Entry {
	return Entry{Redos: []patch.Operation{patch.DeleteColumn{UUID: fmt.Sprintf("marker-%d", i)}}}
}

func markerOf(e Entry) string {
	return e.Redos[0].(patch.DeleteColumn).UUID
}

func TestHistoryBound(t *testing.T) {
	const max = 5
	const overflow = 3
	h := NewHistory(max)

	for i := 0; i < max+overflow; i++ {
		h.Push(markerEntry(i))
	}

	if h.UndoLen() != max {
		t.Fatalf("undo length = %d, want %d", h.UndoLen(), max)
	}
	// The survivors are the most recent entries, newest on top.
	for i := max + overflow - 1; i >= overflow; i-- {
		e, ok := h.Undo()
		if !ok {
			t.Fatalf("stack exhausted early at %d", i)
		}
		if got, want := markerOf(e), fmt.Sprintf("marker-%d", i); got != want {
			t.Errorf("popped %s, want %s", got, want)
		}
	}
	if _, ok := h.Undo(); ok {
		t.Error("stack should be empty after popping the bound")
	}
}

func TestHistoryUndoRedo(t *testing.T) {
	h := NewHistory(10)
	h.Push(markerEntry(1))
	h.Push(markerEntry(2))

	e, ok := h.Undo()
	if !ok || markerOf(e) != "marker-2" {
		t.Fatalf("Undo = %v,%v", e, ok)
	}
	if h.RedoLen() != 1 {
		t.Errorf("redo length = %d, want 1", h.RedoLen())
	}

	e, ok = h.Redo()
	if !ok || markerOf(e) != "marker-2" {
		t.Fatalf("Redo = %v,%v", e, ok)
	}
	if h.UndoLen() != 2 || h.RedoLen() != 0 {
		t.Errorf("stacks = (%d,%d), want (2,0)", h.UndoLen(), h.RedoLen())
	}
}

func TestHistoryEmptyOps(t *testing.T) {
	h := NewHistory(3)
	if _, ok := h.Undo(); ok {
		t.Error("Undo on empty history should report false")
	}
	if _, ok := h.Redo(); ok {
		t.Error("Redo on empty history should report false")
	}
}

// Push intentionally leaves the redo stack alone; a new edit after an undo
// does not invalidate the redo history here. Kept from the source system,
// see DESIGN.md.
func TestHistoryPushKeepsRedoStack(t *testing.T) {
	h := NewHistory(10)
	h.Push(markerEntry(1))
	if _, ok := h.Undo(); !ok {
		t.Fatal("Undo failed")
	}
	h.Push(markerEntry(2))
	if h.RedoLen() != 1 {
		t.Errorf("redo length after push = %d, want 1", h.RedoLen())
	}
}
