// Package patch defines the closed set of operations that mutate a batch
// table, the wire codec for the PATCH protocol, the local optimistic
// applier and the diff engine.
package patch

import (
	"encoding/json"
	"fmt"

	"gridsync/engine/internal/table"
)

type OpType string

const (
	OpAddColumn                 OpType = "ADD_COLUMN"
	OpUpdateColumn              OpType = "UPDATE_COLUMN"
	OpDeleteColumn              OpType = "DELETE_COLUMN"
	OpAddRow                    OpType = "ADD_ROW"
	OpUpdateRow                 OpType = "UPDATE_ROW"
	OpDeleteRow                 OpType = "DELETE_ROW"
	OpUpdateCell                OpType = "UPDATE_CELL"
	OpCreateCell                OpType = "CREATE_CELL"
	OpUpdateTable               OpType = "UPDATE_TABLE"
	OpBulkAddRowsWithCellValues OpType = "BULK_ADD_ROWS_WITH_CELL_VALUES"
	OpApproveEntitySuggestions  OpType = "APPROVE_ENTITY_SUGGESTIONS"
	OpRunAgent                  OpType = "RUN_AGENT"
)

// Operation is the closed tagged union of table mutations. The set of
// implementations lives in this package only; applying a type outside it is
// a programming error and panics.
type Operation interface {
	Type() OpType
	isOperation()
}

type AddColumn struct {
	Data table.ColumnPatch
}

type UpdateColumn struct {
	Data table.ColumnPatch
}

type DeleteColumn struct {
	UUID string `json:"uuid"`
}

type AddRow struct {
	Data table.RowPatch
}

type UpdateRow struct {
	Data table.RowPatch
}

type DeleteRow struct {
	UUID string `json:"uuid"`
}

type UpdateCell struct {
	Data table.CellPatch
}

type CreateCell struct {
	Data table.CellPatch
}

type UpdateTable struct {
	Data table.TablePatch
}

// RunAgent asks the backend to fill a region with agent output. No local
// effect.
type RunAgent struct {
	ColumnUUID string `json:"column_uuid,omitempty"`
	RowUUIDs   []string `json:"row_uuids,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
}

// BulkAddRowsWithCellValues inserts rows plus their cell values in one
// server-side step. No local effect.
type BulkAddRowsWithCellValues struct {
	Rows  []table.RowPatch  `json:"rows"`
	Cells []table.CellPatch `json:"cells"`
}

// ApproveEntitySuggestions accepts pending suggestions server-side. No
// local effect.
type ApproveEntitySuggestions struct {
	UUIDs []string `json:"uuids"`
}

func (AddColumn) Type() OpType                 { return OpAddColumn }
func (UpdateColumn) Type() OpType              { return OpUpdateColumn }
func (DeleteColumn) Type() OpType              { return OpDeleteColumn }
func (AddRow) Type() OpType                    { return OpAddRow }
func (UpdateRow) Type() OpType                 { return OpUpdateRow }
func (DeleteRow) Type() OpType                 { return OpDeleteRow }
func (UpdateCell) Type() OpType                { return OpUpdateCell }
func (CreateCell) Type() OpType                { return OpCreateCell }
func (UpdateTable) Type() OpType               { return OpUpdateTable }
func (RunAgent) Type() OpType                  { return OpRunAgent }
func (BulkAddRowsWithCellValues) Type() OpType { return OpBulkAddRowsWithCellValues }
func (ApproveEntitySuggestions) Type() OpType  { return OpApproveEntitySuggestions }

func (AddColumn) isOperation()                 {}
func (UpdateColumn) isOperation()              {}
func (DeleteColumn) isOperation()              {}
func (AddRow) isOperation()                    {}
func (UpdateRow) isOperation()                 {}
func (DeleteRow) isOperation()                 {}
func (UpdateCell) isOperation()                {}
func (CreateCell) isOperation()                {}
func (UpdateTable) isOperation()               {}
func (RunAgent) isOperation()                  {}
func (BulkAddRowsWithCellValues) isOperation() {}
func (ApproveEntitySuggestions) isOperation()  {}

type envelope struct {
	Type OpType          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeOps marshals operations into the wire envelopes
// {"type": TAG, "data": {...}}.
func EncodeOps(ops []Operation) ([]byte, error) {
	envelopes := make([]envelope, 0, len(ops))
	for _, op := range ops {
		data, err := json.Marshal(payloadOf(op))
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", op.Type(), err)
		}
		envelopes = append(envelopes, envelope{Type: op.Type(), Data: data})
	}
	return json.Marshal(envelopes)
}

// payloadOf picks what travels inside the envelope's data field for each
// variant.
func payloadOf(op Operation) any {
	switch v := op.(type) {
	case AddColumn:
		return v.Data
	case UpdateColumn:
		return v.Data
	case AddRow:
		return v.Data
	case UpdateRow:
		return v.Data
	case UpdateCell:
		return v.Data
	case CreateCell:
		return v.Data
	case UpdateTable:
		return v.Data
	case DeleteColumn, DeleteRow, RunAgent, BulkAddRowsWithCellValues, ApproveEntitySuggestions:
		return v
	default:
		panic(fmt.Sprintf("patch: unhandled operation %T", op))
	}
}

// DecodeOps is the inverse of EncodeOps. An unknown type tag is a decode
// error: the union is closed.
func DecodeOps(raw []byte) ([]Operation, error) {
	var envelopes []envelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	ops := make([]Operation, 0, len(envelopes))
	for _, env := range envelopes {
		op, err := decodeOne(env)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func decodeOne(env envelope) (Operation, error) {
	unmarshal := func(target any) error {
		if len(env.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.Data, target); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return nil
	}

	switch env.Type {
	case OpAddColumn:
		var p table.ColumnPatch
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return AddColumn{Data: p}, nil
	case OpUpdateColumn:
		var p table.ColumnPatch
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return UpdateColumn{Data: p}, nil
	case OpDeleteColumn:
		var op DeleteColumn
		if err := unmarshal(&op); err != nil {
			return nil, err
		}
		return op, nil
	case OpAddRow:
		var p table.RowPatch
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return AddRow{Data: p}, nil
	case OpUpdateRow:
		var p table.RowPatch
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return UpdateRow{Data: p}, nil
	case OpDeleteRow:
		var op DeleteRow
		if err := unmarshal(&op); err != nil {
			return nil, err
		}
		return op, nil
	case OpUpdateCell:
		var p table.CellPatch
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return UpdateCell{Data: p}, nil
	case OpCreateCell:
		var p table.CellPatch
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return CreateCell{Data: p}, nil
	case OpUpdateTable:
		var p table.TablePatch
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return UpdateTable{Data: p}, nil
	case OpRunAgent:
		var op RunAgent
		if err := unmarshal(&op); err != nil {
			return nil, err
		}
		return op, nil
	case OpBulkAddRowsWithCellValues:
		var op BulkAddRowsWithCellValues
		if err := unmarshal(&op); err != nil {
			return nil, err
		}
		return op, nil
	case OpApproveEntitySuggestions:
		var op ApproveEntitySuggestions
		if err := unmarshal(&op); err != nil {
			return nil, err
		}
		return op, nil
	default:
		return nil, fmt.Errorf("unknown operation type %q", env.Type)
	}
}

// IsAdd reports whether op creates a column or row. Adds must trail every
// other op type inside a batch so the backend never sees an insert for an
// index before the op that vacated it.
func IsAdd(op Operation) bool {
	switch op.(type) {
	case AddColumn, AddRow:
		return true
	default:
		return false
	}
}

// OrderAddsLast stably partitions ops so every AddColumn/AddRow comes after
// all other operations.
func OrderAddsLast(ops []Operation) []Operation {
	ordered := make([]Operation, 0, len(ops))
	var adds []Operation
	for _, op := range ops {
		if IsAdd(op) {
			adds = append(adds, op)
			continue
		}
		ordered = append(ordered, op)
	}
	return append(ordered, adds...)
}

// OrderAddsFirst stably partitions ops so every AddColumn/AddRow comes
// before all other operations. Confirmation batches use this order: a
// client reconciling a confirmed cell must already hold its column and row.
func OrderAddsFirst(ops []Operation) []Operation {
	adds := make([]Operation, 0, len(ops))
	var rest []Operation
	for _, op := range ops {
		if IsAdd(op) {
			adds = append(adds, op)
			continue
		}
		rest = append(rest, op)
	}
	return append(adds, rest...)
}
