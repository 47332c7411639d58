// Package table holds the normalized batch-table data model: the indexed
// column/row/cell mappings derived from the raw list-shaped backend payload,
// the coordinate codec, entity factories and grid geometry.
package table

import "time"

type ColumnType string

const (
	TypeSingleLineText ColumnType = "SINGLE_LINE_TEXT"
	TypeLongText       ColumnType = "LONG_TEXT"
	TypeNumber         ColumnType = "NUMBER"
	TypeBoolean        ColumnType = "BOOLEAN"
	TypeJSON           ColumnType = "JSON"
	TypeFile           ColumnType = "FILE"
)

type TableMode string

const (
	// ModeTable sizes the grid strictly to the defined columns and rows.
	ModeTable TableMode = "TABLE"
	// ModeExcel pads the grid up to fixed minimums so a full sheet renders.
	ModeExcel TableMode = "EXCEL"
)

const (
	DefaultColumnWidth = 180
	DefaultRowHeight   = 36
	MinExcelColumns    = 26
	MinExcelRows       = 150
)

type ColumnFormat struct {
	Width  int  `json:"width"`
	Hidden bool `json:"hidden,omitempty"`
}

type RowFormat struct {
	Height int `json:"height"`
}

type CellFormat struct {
	Bold      bool   `json:"bold,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Wrap      bool   `json:"wrap,omitempty"`
	Alignment string `json:"alignment,omitempty"`
}

type CellSource struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

// Column is one table column. ID is the backend-assigned numeric id; it is
// nil for optimistic records the server has not confirmed yet. UUID is the
// stable identity and survives index moves.
type Column struct {
	ColumnIndex    int            `json:"column_index"`
	UUID           string         `json:"uuid"`
	ID             *int64         `json:"id,omitempty"`
	Type           ColumnType     `json:"type"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Prompt         string         `json:"prompt,omitempty"`
	AIGenerated    bool           `json:"ai_generated,omitempty"`
	Format         ColumnFormat   `json:"format"`
	ToolSettings   map[string]any `json:"tool_settings,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastModifiedBy string         `json:"last_modified_by,omitempty"`
}

type Row struct {
	RowIndex  int       `json:"row_index"`
	UUID      string    `json:"uuid"`
	ID        *int64    `json:"id,omitempty"`
	Format    RowFormat `json:"format"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cell belongs to exactly one column and one row, referenced by index and,
// redundantly, by uuid. The uuids are the cascade keys for deletes: indices
// can be reused, uuids cannot.
type Cell struct {
	RowIndex     int          `json:"row_index"`
	ColumnIndex  int          `json:"column_index"`
	UUID         string       `json:"uuid"`
	ID           *int64       `json:"id,omitempty"`
	ColumnUUID   string       `json:"column_uuid,omitempty"`
	RowUUID      string       `json:"row_uuid,omitempty"`
	Value        any          `json:"value,omitempty"`
	Formula      string       `json:"formula,omitempty"`
	Format       CellFormat   `json:"format"`
	AIFillStatus string       `json:"ai_fill_status,omitempty"`
	Sources      []CellSource `json:"sources,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type EntitySuggestion struct {
	UUID        string `json:"uuid"`
	ColumnIndex int    `json:"column_index"`
	Name        string `json:"name"`
}

// RawTable is the wire shape: unordered entity lists as fetched from the
// backend. Normalize turns it into a Table.
type RawTable struct {
	OrganizationID    string             `json:"organization_id"`
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Mode              TableMode          `json:"mode"`
	Columns           []Column           `json:"columns"`
	Rows              []Row              `json:"rows"`
	Cells             []Cell             `json:"cells"`
	EntitySuggestions []EntitySuggestion `json:"entity_suggestions,omitempty"`
}

// Table is the normalized in-memory representation. The three mappings are
// the authoritative state; everything under geometry is derived. Tables are
// treated as immutable once published: mutators clone first (see Clone).
type Table struct {
	OrganizationID    string             `json:"organization_id"`
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Mode              TableMode          `json:"mode"`
	Columns           map[int]Column     `json:"columns"`
	Rows              map[int]Row        `json:"rows"`
	Cells             map[string]Cell    `json:"cells"`
	EntitySuggestions []EntitySuggestion `json:"entity_suggestions,omitempty"`

	// Derived geometry, recomputed by Normalize/Reindex.
	MaxColumnIndex int   `json:"max_column_index"`
	MaxRowIndex    int   `json:"max_row_index"`
	ColumnCount    int   `json:"column_count"`
	RowCount       int   `json:"row_count"`
	ColumnOffsets  []int `json:"-"`
	RowOffsets     []int `json:"-"`
}

// ColumnByUUID scans the column mapping for a uuid. Returns the zero Column
// and false when absent.
func (t *Table) ColumnByUUID(id string) (Column, bool) {
	for _, c := range t.Columns {
		if c.UUID == id {
			return c, true
		}
	}
	return Column{}, false
}

func (t *Table) RowByUUID(id string) (Row, bool) {
	for _, r := range t.Rows {
		if r.UUID == id {
			return r, true
		}
	}
	return Row{}, false
}
