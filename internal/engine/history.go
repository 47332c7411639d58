package engine

import (
	"sync"

	"gridsync/engine/internal/patch"
)

// Entry pairs the operations that revert an edit with the ones that apply
// it. Applying Redos then Undos restores the prior observable state for
// index-addressed entities.
type Entry struct {
	Undos []patch.Operation
	Redos []patch.Operation
}

// History is the bounded undo/redo stack. Pushing a new entry does not
// clear the redo stack; see DESIGN.md for why that upstream behavior is
// kept.
type History struct {
	mu   sync.Mutex
	undo []Entry
	redo []Entry
	max  int
}

func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	return &History{max: max}
}

// Push records an entry, dropping the oldest once the bound is exceeded.
func (h *History) Push(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = append(h.undo, e)
	if len(h.undo) > h.max {
		h.undo = append(h.undo[:0], h.undo[len(h.undo)-h.max:]...)
	}
}

// Undo pops the most recent entry and parks it on the redo stack.
func (h *History) Undo() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undo) == 0 {
		return Entry{}, false
	}
	e := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, e)
	return e, true
}

// Redo pops the most recently undone entry back onto the undo stack.
func (h *History) Redo() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redo) == 0 {
		return Entry{}, false
	}
	e := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, e)
	if len(h.undo) > h.max {
		h.undo = append(h.undo[:0], h.undo[len(h.undo)-h.max:]...)
	}
	return e, true
}

func (h *History) UndoLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo)
}

func (h *History) RedoLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo)
}

// Peek returns the most recent undo entry without popping it.
func (h *History) Peek() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undo) == 0 {
		return Entry{}, false
	}
	return h.undo[len(h.undo)-1], true
}
