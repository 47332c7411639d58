package store

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gridsync/engine/internal/patch"
	"gridsync/engine/internal/table"
)

// MemoryStore keeps authoritative tables in process. Used by tests and by
// the server when no database is configured.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]*table.Table
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*table.Table)}
}

func storeKey(orgID, tableID string) string {
	return orgID + "/" + tableID
}

func (s *MemoryStore) CreateTable(_ context.Context, raw table.RawTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(raw.OrganizationID, raw.ID)
	if _, ok := s.tables[key]; ok {
		return fmt.Errorf("%w: table %s already exists", ErrConflict, raw.ID)
	}
	t := table.Normalize(raw)
	s.assignIDs(t)
	s.tables[key] = t
	return nil
}

func (s *MemoryStore) GetTable(_ context.Context, orgID, tableID string) (table.RawTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[storeKey(orgID, tableID)]
	if !ok {
		return table.RawTable{}, ErrNotFound
	}
	return denormalize(t), nil
}

func (s *MemoryStore) ApplyUpdates(_ context.Context, orgID, tableID string, ops []patch.Operation, user string) ([]patch.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tables[storeKey(orgID, tableID)]
	if !ok {
		return nil, ErrNotFound
	}

	if err := checkAddRaces(current, ops); err != nil {
		return nil, err
	}

	next, synthesized := patch.Apply(current, ops, user)
	now := time.Now().UTC()
	stampTouched(next, append(append([]patch.Operation(nil), ops...), synthesized...), now)
	s.assignIDs(next)
	s.tables[storeKey(orgID, tableID)] = next

	// Confirmations go out entity-first: a client reconciles a confirmed
	// cell against its server snapshot, so the adds for implicitly or
	// explicitly created columns and rows must land before any cell op.
	ordered := patch.OrderAddsFirst(append(append([]patch.Operation(nil), ops...), synthesized...))
	confirmed := make([]patch.Operation, 0, len(ordered))
	for _, op := range ordered {
		confirmed = append(confirmed, confirmOp(next, op))
	}
	return confirmed, nil
}

// checkAddRaces rejects adds whose index is already held by a different
// uuid: the memory-store equivalent of the Postgres unique index.
func checkAddRaces(t *table.Table, ops []patch.Operation) error {
	for _, op := range ops {
		switch v := op.(type) {
		case patch.AddColumn:
			if v.Data.ColumnIndex == nil || v.Data.UUID == nil {
				continue
			}
			if cur, ok := t.Columns[*v.Data.ColumnIndex]; ok && cur.UUID != *v.Data.UUID {
				return fmt.Errorf("%w: column index %d", ErrConflict, *v.Data.ColumnIndex)
			}
		case patch.AddRow:
			if v.Data.RowIndex == nil || v.Data.UUID == nil {
				continue
			}
			if cur, ok := t.Rows[*v.Data.RowIndex]; ok && cur.UUID != *v.Data.UUID {
				return fmt.Errorf("%w: row index %d", ErrConflict, *v.Data.RowIndex)
			}
		}
	}
	return nil
}

// stampTouched sets the server-side updated_at on every entity an op
// addressed.
func stampTouched(t *table.Table, ops []patch.Operation, now time.Time) {
	for _, op := range ops {
		switch v := op.(type) {
		case patch.AddColumn:
			stampColumn(t, v.Data, now)
		case patch.UpdateColumn:
			stampColumn(t, v.Data, now)
		case patch.AddRow:
			stampRow(t, v.Data, now)
		case patch.UpdateRow:
			stampRow(t, v.Data, now)
		case patch.UpdateCell:
			stampCell(t, v.Data, now)
		case patch.CreateCell:
			stampCell(t, v.Data, now)
		}
	}
}

func stampColumn(t *table.Table, p table.ColumnPatch, now time.Time) {
	if p.ColumnIndex == nil {
		return
	}
	if c, ok := t.Columns[*p.ColumnIndex]; ok {
		c.UpdatedAt = now
		t.Columns[*p.ColumnIndex] = c
	}
}

func stampRow(t *table.Table, p table.RowPatch, now time.Time) {
	if p.RowIndex == nil {
		return
	}
	if r, ok := t.Rows[*p.RowIndex]; ok {
		r.UpdatedAt = now
		t.Rows[*p.RowIndex] = r
	}
}

func stampCell(t *table.Table, p table.CellPatch, now time.Time) {
	key := table.CoordKey(p.RowIndex, p.ColumnIndex)
	if c, ok := t.Cells[key]; ok {
		c.UpdatedAt = now
		t.Cells[key] = c
	}
}

// assignIDs gives every unconfirmed entity a backend id.
func (s *MemoryStore) assignIDs(t *table.Table) {
	for idx, c := range t.Columns {
		if c.ID == nil {
			s.nextID++
			id := s.nextID
			c.ID = &id
			t.Columns[idx] = c
		}
	}
	for idx, r := range t.Rows {
		if r.ID == nil {
			s.nextID++
			id := s.nextID
			r.ID = &id
			t.Rows[idx] = r
		}
	}
	for key, c := range t.Cells {
		if c.ID == nil {
			s.nextID++
			id := s.nextID
			c.ID = &id
			t.Cells[key] = c
		}
	}
}

// confirmOp rebuilds an operation from the authoritative post-apply state.
func confirmOp(t *table.Table, op patch.Operation) patch.Operation {
	switch v := op.(type) {
	case patch.AddColumn:
		if v.Data.ColumnIndex != nil {
			if c, ok := t.Columns[*v.Data.ColumnIndex]; ok {
				return patch.AddColumn{Data: columnPatch(c)}
			}
		}
		return v
	case patch.UpdateColumn:
		if v.Data.ColumnIndex != nil {
			if c, ok := t.Columns[*v.Data.ColumnIndex]; ok {
				return patch.UpdateColumn{Data: columnPatch(c)}
			}
		}
		return v
	case patch.AddRow:
		if v.Data.RowIndex != nil {
			if r, ok := t.Rows[*v.Data.RowIndex]; ok {
				return patch.AddRow{Data: rowPatch(r)}
			}
		}
		return v
	case patch.UpdateRow:
		if v.Data.RowIndex != nil {
			if r, ok := t.Rows[*v.Data.RowIndex]; ok {
				return patch.UpdateRow{Data: rowPatch(r)}
			}
		}
		return v
	case patch.UpdateCell:
		if c, ok := t.Cells[table.CoordKey(v.Data.RowIndex, v.Data.ColumnIndex)]; ok {
			return patch.UpdateCell{Data: cellPatch(c)}
		}
		return v
	case patch.CreateCell:
		if c, ok := t.Cells[table.CoordKey(v.Data.RowIndex, v.Data.ColumnIndex)]; ok {
			return patch.UpdateCell{Data: cellPatch(c)}
		}
		return v
	default:
		log.Printf("store: echoing %s confirmation unchanged", op.Type())
		return op
	}
}

// denormalize flattens a normalized table back into the wire shape.
func denormalize(t *table.Table) table.RawTable {
	raw := table.RawTable{
		OrganizationID:    t.OrganizationID,
		ID:                t.ID,
		Name:              t.Name,
		Mode:              t.Mode,
		EntitySuggestions: t.EntitySuggestions,
	}
	for _, c := range t.Columns {
		raw.Columns = append(raw.Columns, c)
	}
	for _, r := range t.Rows {
		raw.Rows = append(raw.Rows, r)
	}
	for _, c := range t.Cells {
		raw.Cells = append(raw.Cells, c)
	}
	return raw
}
