package table

import "time"

// Partial entity shapes carried by patch operations. Pointer fields encode
// presence: a nil field means "leave as is" when merging, a set field wins.
// Value on CellPatch is *any so a patch can distinguish "no value change"
// from "set value to null".

type ColumnPatch struct {
	ColumnIndex    *int           `json:"column_index,omitempty"`
	UUID           *string        `json:"uuid,omitempty"`
	ID             *int64         `json:"id,omitempty"`
	Type           *ColumnType    `json:"type,omitempty"`
	Name           *string        `json:"name,omitempty"`
	Description    *string        `json:"description,omitempty"`
	Prompt         *string        `json:"prompt,omitempty"`
	AIGenerated    *bool          `json:"ai_generated,omitempty"`
	Format         *ColumnFormat  `json:"format,omitempty"`
	ToolSettings   map[string]any `json:"tool_settings,omitempty"`
	CreatedAt      *time.Time     `json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `json:"updated_at,omitempty"`
	LastModifiedBy *string        `json:"last_modified_by,omitempty"`
}

type RowPatch struct {
	RowIndex  *int       `json:"row_index,omitempty"`
	UUID      *string    `json:"uuid,omitempty"`
	ID        *int64     `json:"id,omitempty"`
	Format    *RowFormat `json:"format,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type CellPatch struct {
	RowIndex     int          `json:"row_index"`
	ColumnIndex  int          `json:"column_index"`
	UUID         *string      `json:"uuid,omitempty"`
	ID           *int64       `json:"id,omitempty"`
	ColumnUUID   *string      `json:"column_uuid,omitempty"`
	RowUUID      *string      `json:"row_uuid,omitempty"`
	Value        *any         `json:"value,omitempty"`
	Formula      *string      `json:"formula,omitempty"`
	Format       *CellFormat  `json:"format,omitempty"`
	AIFillStatus *string      `json:"ai_fill_status,omitempty"`
	Sources      []CellSource `json:"sources,omitempty"`
	CreatedAt    *time.Time   `json:"created_at,omitempty"`
	UpdatedAt    *time.Time   `json:"updated_at,omitempty"`
}

type TablePatch struct {
	Name              *string            `json:"name,omitempty"`
	Mode              *TableMode         `json:"mode,omitempty"`
	EntitySuggestions []EntitySuggestion `json:"entity_suggestions,omitempty"`
}

// Merge applies the set fields of p onto c and returns the result.
func (p ColumnPatch) Merge(c Column) Column {
	if p.ColumnIndex != nil {
		c.ColumnIndex = *p.ColumnIndex
	}
	if p.UUID != nil {
		c.UUID = *p.UUID
	}
	if p.ID != nil {
		c.ID = p.ID
	}
	if p.Type != nil {
		c.Type = *p.Type
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Prompt != nil {
		c.Prompt = *p.Prompt
	}
	if p.AIGenerated != nil {
		c.AIGenerated = *p.AIGenerated
	}
	if p.Format != nil {
		c.Format = *p.Format
	}
	if p.ToolSettings != nil {
		c.ToolSettings = p.ToolSettings
	}
	if p.CreatedAt != nil {
		c.CreatedAt = *p.CreatedAt
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
	if p.LastModifiedBy != nil {
		c.LastModifiedBy = *p.LastModifiedBy
	}
	return c
}

func (p RowPatch) Merge(r Row) Row {
	if p.RowIndex != nil {
		r.RowIndex = *p.RowIndex
	}
	if p.UUID != nil {
		r.UUID = *p.UUID
	}
	if p.ID != nil {
		r.ID = p.ID
	}
	if p.Format != nil {
		r.Format = *p.Format
	}
	if p.CreatedAt != nil {
		r.CreatedAt = *p.CreatedAt
	}
	if p.UpdatedAt != nil {
		r.UpdatedAt = *p.UpdatedAt
	}
	return r
}

func (p CellPatch) Merge(c Cell) Cell {
	c.RowIndex = p.RowIndex
	c.ColumnIndex = p.ColumnIndex
	if p.UUID != nil {
		c.UUID = *p.UUID
	}
	if p.ID != nil {
		c.ID = p.ID
	}
	if p.ColumnUUID != nil {
		c.ColumnUUID = *p.ColumnUUID
	}
	if p.RowUUID != nil {
		c.RowUUID = *p.RowUUID
	}
	if p.Value != nil {
		c.Value = *p.Value
	}
	if p.Formula != nil {
		c.Formula = *p.Formula
	}
	if p.Format != nil {
		c.Format = *p.Format
	}
	if p.AIFillStatus != nil {
		c.AIFillStatus = *p.AIFillStatus
	}
	if p.Sources != nil {
		c.Sources = p.Sources
	}
	if p.CreatedAt != nil {
		c.CreatedAt = *p.CreatedAt
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
	return c
}

// Merge applies the set fields of p onto t. The three entity mappings are
// never touched here: UPDATE_TABLE must not blindly overwrite them.
func (p TablePatch) Merge(t *Table) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Mode != nil {
		t.Mode = *p.Mode
	}
	if p.EntitySuggestions != nil {
		t.EntitySuggestions = p.EntitySuggestions
	}
}
