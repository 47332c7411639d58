package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"gridsync/engine/internal/patch"
	"gridsync/engine/internal/table"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const uniqueViolation = "23505"

func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func (s *PostgresStore) CreateTable(ctx context.Context, raw table.RawTable) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create table: %w", err)
	}
	defer tx.Rollback()

	const insertTable = `
		INSERT INTO batch_tables (org_id, id, name, mode)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.ExecContext(ctx, insertTable, raw.OrganizationID, raw.ID, raw.Name, string(raw.Mode)); err != nil {
		return mapConstraintError(fmt.Errorf("insert table: %w", err))
	}

	now := time.Now().UTC()
	for _, c := range raw.Columns {
		if _, err := insertColumn(ctx, tx, raw.OrganizationID, raw.ID, c, now); err != nil {
			return err
		}
	}
	for _, r := range raw.Rows {
		if _, err := insertRow(ctx, tx, raw.OrganizationID, raw.ID, r, now); err != nil {
			return err
		}
	}
	for _, c := range raw.Cells {
		if _, err := upsertCell(ctx, tx, raw.OrganizationID, raw.ID, c, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create table: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTable(ctx context.Context, orgID, tableID string) (table.RawTable, error) {
	raw := table.RawTable{OrganizationID: orgID, ID: tableID}

	const selectTable = `SELECT name, mode FROM batch_tables WHERE org_id = $1 AND id = $2`
	var mode string
	err := s.db.QueryRowContext(ctx, selectTable, orgID, tableID).Scan(&raw.Name, &mode)
	if errors.Is(err, sql.ErrNoRows) {
		return table.RawTable{}, ErrNotFound
	}
	if err != nil {
		return table.RawTable{}, fmt.Errorf("select table: %w", err)
	}
	raw.Mode = table.TableMode(mode)

	raw.Columns, err = s.selectColumns(ctx, orgID, tableID)
	if err != nil {
		return table.RawTable{}, err
	}
	raw.Rows, err = s.selectRows(ctx, orgID, tableID)
	if err != nil {
		return table.RawTable{}, err
	}
	raw.Cells, err = s.selectCells(ctx, orgID, tableID)
	if err != nil {
		return table.RawTable{}, err
	}
	return raw, nil
}

func (s *PostgresStore) selectColumns(ctx context.Context, orgID, tableID string) ([]table.Column, error) {
	const query = `
		SELECT id, column_index, uuid, type, name, description, prompt, ai_generated,
		       format, tool_settings, created_at, updated_at, last_modified_by
		FROM batch_columns
		WHERE org_id = $1 AND table_id = $2
		ORDER BY column_index
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, tableID)
	if err != nil {
		return nil, fmt.Errorf("select columns: %w", err)
	}
	defer rows.Close()

	var out []table.Column
	for rows.Next() {
		var c table.Column
		var id int64
		var colType string
		var format, toolSettings []byte
		if err := rows.Scan(&id, &c.ColumnIndex, &c.UUID, &colType, &c.Name, &c.Description,
			&c.Prompt, &c.AIGenerated, &format, &toolSettings, &c.CreatedAt, &c.UpdatedAt,
			&c.LastModifiedBy); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.ID = &id
		c.Type = table.ColumnType(colType)
		if err := json.Unmarshal(format, &c.Format); err != nil {
			return nil, fmt.Errorf("decode column format: %w", err)
		}
		if len(toolSettings) > 0 {
			if err := json.Unmarshal(toolSettings, &c.ToolSettings); err != nil {
				return nil, fmt.Errorf("decode tool settings: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) selectRows(ctx context.Context, orgID, tableID string) ([]table.Row, error) {
	const query = `
		SELECT id, row_index, uuid, format, created_at, updated_at
		FROM batch_rows
		WHERE org_id = $1 AND table_id = $2
		ORDER BY row_index
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, tableID)
	if err != nil {
		return nil, fmt.Errorf("select rows: %w", err)
	}
	defer rows.Close()

	var out []table.Row
	for rows.Next() {
		var r table.Row
		var id int64
		var format []byte
		if err := rows.Scan(&id, &r.RowIndex, &r.UUID, &format, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.ID = &id
		if err := json.Unmarshal(format, &r.Format); err != nil {
			return nil, fmt.Errorf("decode row format: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) selectCells(ctx context.Context, orgID, tableID string) ([]table.Cell, error) {
	const query = `
		SELECT id, row_index, column_index, uuid, column_uuid, row_uuid,
		       value, formula, format, ai_fill_status, sources, created_at, updated_at
		FROM batch_cells
		WHERE org_id = $1 AND table_id = $2
		ORDER BY row_index, column_index
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, tableID)
	if err != nil {
		return nil, fmt.Errorf("select cells: %w", err)
	}
	defer rows.Close()

	var out []table.Cell
	for rows.Next() {
		var c table.Cell
		var id int64
		var value, format, sources []byte
		if err := rows.Scan(&id, &c.RowIndex, &c.ColumnIndex, &c.UUID, &c.ColumnUUID, &c.RowUUID,
			&value, &c.Formula, &format, &c.AIFillStatus, &sources, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		c.ID = &id
		if len(value) > 0 {
			if err := json.Unmarshal(value, &c.Value); err != nil {
				return nil, fmt.Errorf("decode cell value: %w", err)
			}
		}
		if err := json.Unmarshal(format, &c.Format); err != nil {
			return nil, fmt.Errorf("decode cell format: %w", err)
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &c.Sources); err != nil {
				return nil, fmt.Errorf("decode cell sources: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ApplyUpdates runs the batch in one transaction, serialized per table via
// a row lock so concurrent PATCHes apply in a single order.
func (s *PostgresStore) ApplyUpdates(ctx context.Context, orgID, tableID string, ops []patch.Operation, user string) ([]patch.Operation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin updates: %w", err)
	}
	defer tx.Rollback()

	const lockTable = `SELECT 1 FROM batch_tables WHERE org_id = $1 AND id = $2 FOR UPDATE`
	var one int
	err = tx.QueryRowContext(ctx, lockTable, orgID, tableID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock table: %w", err)
	}

	now := time.Now().UTC()
	a := txApplier{tx: tx, orgID: orgID, tableID: tableID, user: user, now: now}
	var confirmed []patch.Operation
	for _, op := range ops {
		extra, err := a.apply(ctx, op)
		if err != nil {
			return nil, mapConstraintError(err)
		}
		confirmed = append(confirmed, extra...)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapConstraintError(fmt.Errorf("commit updates: %w", err))
	}
	// Entity-first confirmation order, same contract as the memory store.
	return patch.OrderAddsFirst(confirmed), nil
}

// txApplier applies one operation batch inside a transaction, mirroring the
// local applier's semantics on relational state.
type txApplier struct {
	tx      *sql.Tx
	orgID   string
	tableID string
	user    string
	now     time.Time
}

func (a *txApplier) apply(ctx context.Context, op patch.Operation) ([]patch.Operation, error) {
	switch v := op.(type) {
	case patch.AddColumn:
		col, err := a.upsertColumn(ctx, v.Data)
		if err != nil {
			return nil, err
		}
		return []patch.Operation{patch.AddColumn{Data: columnPatch(col)}}, nil
	case patch.UpdateColumn:
		col, err := a.upsertColumn(ctx, v.Data)
		if err != nil {
			return nil, err
		}
		return []patch.Operation{patch.UpdateColumn{Data: columnPatch(col)}}, nil
	case patch.DeleteColumn:
		if err := a.deleteColumn(ctx, v.UUID); err != nil {
			return nil, err
		}
		return []patch.Operation{v}, nil
	case patch.AddRow:
		row, err := a.upsertRow(ctx, v.Data)
		if err != nil {
			return nil, err
		}
		return []patch.Operation{patch.AddRow{Data: rowPatch(row)}}, nil
	case patch.UpdateRow:
		row, err := a.upsertRow(ctx, v.Data)
		if err != nil {
			return nil, err
		}
		return []patch.Operation{patch.UpdateRow{Data: rowPatch(row)}}, nil
	case patch.DeleteRow:
		if err := a.deleteRow(ctx, v.UUID); err != nil {
			return nil, err
		}
		return []patch.Operation{v}, nil
	case patch.UpdateCell:
		return a.applyCell(ctx, v.Data)
	case patch.CreateCell:
		return a.applyCell(ctx, v.Data)
	case patch.UpdateTable:
		if err := a.updateTable(ctx, v.Data); err != nil {
			return nil, err
		}
		return []patch.Operation{v}, nil
	case patch.RunAgent, patch.BulkAddRowsWithCellValues, patch.ApproveEntitySuggestions:
		// Accepted but not persisted here; downstream workers consume them.
		return []patch.Operation{op}, nil
	default:
		panic(fmt.Sprintf("store: unhandled operation %T", op))
	}
}

func (a *txApplier) upsertColumn(ctx context.Context, p table.ColumnPatch) (table.Column, error) {
	if p.ColumnIndex == nil {
		return table.Column{}, fmt.Errorf("column op without column_index")
	}
	idx := *p.ColumnIndex

	existing, found, err := a.columnByIndex(ctx, idx)
	if err != nil {
		return table.Column{}, err
	}
	if found && (p.UUID == nil || *p.UUID == existing.UUID) {
		merged := p.Merge(existing)
		merged.ColumnIndex = idx
		merged.UpdatedAt = a.now
		merged.LastModifiedBy = a.user
		return merged, a.updateColumnRow(ctx, merged)
	}

	col := table.MakeColumn(p, a.user)
	col.ColumnIndex = idx
	col.UpdatedAt = a.now
	return insertColumn(ctx, a.tx, a.orgID, a.tableID, col, a.now)
}

func (a *txApplier) columnByIndex(ctx context.Context, idx int) (table.Column, bool, error) {
	const query = `
		SELECT id, column_index, uuid, type, name, description, prompt, ai_generated,
		       format, tool_settings, created_at, updated_at, last_modified_by
		FROM batch_columns
		WHERE org_id = $1 AND table_id = $2 AND column_index = $3
	`
	var c table.Column
	var id int64
	var colType string
	var format, toolSettings []byte
	err := a.tx.QueryRowContext(ctx, query, a.orgID, a.tableID, idx).Scan(
		&id, &c.ColumnIndex, &c.UUID, &colType, &c.Name, &c.Description, &c.Prompt,
		&c.AIGenerated, &format, &toolSettings, &c.CreatedAt, &c.UpdatedAt, &c.LastModifiedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return table.Column{}, false, nil
	}
	if err != nil {
		return table.Column{}, false, fmt.Errorf("select column %d: %w", idx, err)
	}
	c.ID = &id
	c.Type = table.ColumnType(colType)
	if err := json.Unmarshal(format, &c.Format); err != nil {
		return table.Column{}, false, fmt.Errorf("decode column format: %w", err)
	}
	if len(toolSettings) > 0 {
		if err := json.Unmarshal(toolSettings, &c.ToolSettings); err != nil {
			return table.Column{}, false, fmt.Errorf("decode tool settings: %w", err)
		}
	}
	return c, true, nil
}

func (a *txApplier) updateColumnRow(ctx context.Context, c table.Column) error {
	format, _ := json.Marshal(c.Format)
	toolSettings, _ := json.Marshal(c.ToolSettings)
	const query = `
		UPDATE batch_columns
		SET type = $4, name = $5, description = $6, prompt = $7, ai_generated = $8,
		    format = $9, tool_settings = $10, updated_at = $11, last_modified_by = $12
		WHERE org_id = $1 AND table_id = $2 AND uuid = $3
	`
	if _, err := a.tx.ExecContext(ctx, query, a.orgID, a.tableID, c.UUID,
		string(c.Type), c.Name, c.Description, c.Prompt, c.AIGenerated,
		format, toolSettings, c.UpdatedAt, c.LastModifiedBy); err != nil {
		return fmt.Errorf("update column %s: %w", c.UUID, err)
	}
	return nil
}

func insertColumn(ctx context.Context, tx *sql.Tx, orgID, tableID string, c table.Column, now time.Time) (table.Column, error) {
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	format, _ := json.Marshal(c.Format)
	toolSettings, _ := json.Marshal(c.ToolSettings)
	const query = `
		INSERT INTO batch_columns (org_id, table_id, column_index, uuid, type, name,
			description, prompt, ai_generated, format, tool_settings, created_at,
			updated_at, last_modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	var id int64
	if err := tx.QueryRowContext(ctx, query, orgID, tableID, c.ColumnIndex, c.UUID,
		string(c.Type), c.Name, c.Description, c.Prompt, c.AIGenerated, format,
		toolSettings, c.CreatedAt, c.UpdatedAt, c.LastModifiedBy).Scan(&id); err != nil {
		return table.Column{}, fmt.Errorf("insert column %d: %w", c.ColumnIndex, err)
	}
	c.ID = &id
	return c, nil
}

func (a *txApplier) upsertRow(ctx context.Context, p table.RowPatch) (table.Row, error) {
	if p.RowIndex == nil {
		return table.Row{}, fmt.Errorf("row op without row_index")
	}
	idx := *p.RowIndex

	existing, found, err := a.rowByIndex(ctx, idx)
	if err != nil {
		return table.Row{}, err
	}
	if found && (p.UUID == nil || *p.UUID == existing.UUID) {
		merged := p.Merge(existing)
		merged.RowIndex = idx
		merged.UpdatedAt = a.now
		format, _ := json.Marshal(merged.Format)
		const query = `
			UPDATE batch_rows SET format = $4, updated_at = $5
			WHERE org_id = $1 AND table_id = $2 AND uuid = $3
		`
		if _, err := a.tx.ExecContext(ctx, query, a.orgID, a.tableID, merged.UUID, format, merged.UpdatedAt); err != nil {
			return table.Row{}, fmt.Errorf("update row %s: %w", merged.UUID, err)
		}
		return merged, nil
	}

	row := table.MakeRow(p, a.user)
	row.RowIndex = idx
	row.UpdatedAt = a.now
	return insertRow(ctx, a.tx, a.orgID, a.tableID, row, a.now)
}

func (a *txApplier) rowByIndex(ctx context.Context, idx int) (table.Row, bool, error) {
	const query = `
		SELECT id, row_index, uuid, format, created_at, updated_at
		FROM batch_rows
		WHERE org_id = $1 AND table_id = $2 AND row_index = $3
	`
	var r table.Row
	var id int64
	var format []byte
	err := a.tx.QueryRowContext(ctx, query, a.orgID, a.tableID, idx).Scan(
		&id, &r.RowIndex, &r.UUID, &format, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return table.Row{}, false, nil
	}
	if err != nil {
		return table.Row{}, false, fmt.Errorf("select row %d: %w", idx, err)
	}
	r.ID = &id
	if err := json.Unmarshal(format, &r.Format); err != nil {
		return table.Row{}, false, fmt.Errorf("decode row format: %w", err)
	}
	return r, true, nil
}

func insertRow(ctx context.Context, tx *sql.Tx, orgID, tableID string, r table.Row, now time.Time) (table.Row, error) {
	if r.UUID == "" {
		r.UUID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	format, _ := json.Marshal(r.Format)
	const query = `
		INSERT INTO batch_rows (org_id, table_id, row_index, uuid, format, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	var id int64
	if err := tx.QueryRowContext(ctx, query, orgID, tableID, r.RowIndex, r.UUID,
		format, r.CreatedAt, r.UpdatedAt).Scan(&id); err != nil {
		return table.Row{}, fmt.Errorf("insert row %d: %w", r.RowIndex, err)
	}
	r.ID = &id
	return r, nil
}

func (a *txApplier) deleteColumn(ctx context.Context, id string) error {
	const deleteCells = `DELETE FROM batch_cells WHERE org_id = $1 AND table_id = $2 AND column_uuid = $3`
	if _, err := a.tx.ExecContext(ctx, deleteCells, a.orgID, a.tableID, id); err != nil {
		return fmt.Errorf("cascade cells for column %s: %w", id, err)
	}
	const deleteColumn = `DELETE FROM batch_columns WHERE org_id = $1 AND table_id = $2 AND uuid = $3`
	if _, err := a.tx.ExecContext(ctx, deleteColumn, a.orgID, a.tableID, id); err != nil {
		return fmt.Errorf("delete column %s: %w", id, err)
	}
	return nil
}

func (a *txApplier) deleteRow(ctx context.Context, id string) error {
	const deleteCells = `DELETE FROM batch_cells WHERE org_id = $1 AND table_id = $2 AND row_uuid = $3`
	if _, err := a.tx.ExecContext(ctx, deleteCells, a.orgID, a.tableID, id); err != nil {
		return fmt.Errorf("cascade cells for row %s: %w", id, err)
	}
	const deleteRow = `DELETE FROM batch_rows WHERE org_id = $1 AND table_id = $2 AND uuid = $3`
	if _, err := a.tx.ExecContext(ctx, deleteRow, a.orgID, a.tableID, id); err != nil {
		return fmt.Errorf("delete row %s: %w", id, err)
	}
	return nil
}

// applyCell resolves the column and row first, creating them implicitly
// like the local applier, so the confirmed batch carries the same adds.
func (a *txApplier) applyCell(ctx context.Context, p table.CellPatch) ([]patch.Operation, error) {
	var confirmed []patch.Operation

	col, found, err := a.columnByIndex(ctx, p.ColumnIndex)
	if err != nil {
		return nil, err
	}
	if !found {
		idx := p.ColumnIndex
		colPatch := table.ColumnPatch{ColumnIndex: &idx, UUID: p.ColumnUUID}
		made := table.MakeColumn(colPatch, a.user)
		made.UpdatedAt = a.now
		col, err = insertColumn(ctx, a.tx, a.orgID, a.tableID, made, a.now)
		if err != nil {
			return nil, err
		}
		confirmed = append(confirmed, patch.AddColumn{Data: columnPatch(col)})
	}

	row, found, err := a.rowByIndex(ctx, p.RowIndex)
	if err != nil {
		return nil, err
	}
	if !found {
		idx := p.RowIndex
		rowPatchData := table.RowPatch{RowIndex: &idx, UUID: p.RowUUID}
		made := table.MakeRow(rowPatchData, a.user)
		made.UpdatedAt = a.now
		row, err = insertRow(ctx, a.tx, a.orgID, a.tableID, made, a.now)
		if err != nil {
			return nil, err
		}
		confirmed = append(confirmed, patch.AddRow{Data: rowPatch(row)})
	}

	cell := table.MakeCell(p, col, row, a.user)
	cell.UpdatedAt = a.now
	stored, err := upsertCell(ctx, a.tx, a.orgID, a.tableID, cell, a.now)
	if err != nil {
		return nil, err
	}
	return append(confirmed, patch.UpdateCell{Data: cellPatch(stored)}), nil
}

func upsertCell(ctx context.Context, tx *sql.Tx, orgID, tableID string, c table.Cell, now time.Time) (table.Cell, error) {
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	value, _ := json.Marshal(c.Value)
	format, _ := json.Marshal(c.Format)
	sources, _ := json.Marshal(c.Sources)
	const query = `
		INSERT INTO batch_cells (org_id, table_id, row_index, column_index, uuid,
			column_uuid, row_uuid, value, formula, format, ai_fill_status, sources,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (org_id, table_id, row_index, column_index) DO UPDATE
		SET value = EXCLUDED.value, formula = EXCLUDED.formula,
		    format = EXCLUDED.format, ai_fill_status = EXCLUDED.ai_fill_status,
		    sources = EXCLUDED.sources, updated_at = EXCLUDED.updated_at
		RETURNING id, uuid, created_at
	`
	var id int64
	if err := tx.QueryRowContext(ctx, query, orgID, tableID, c.RowIndex, c.ColumnIndex,
		c.UUID, c.ColumnUUID, c.RowUUID, value, c.Formula, format, c.AIFillStatus,
		sources, c.CreatedAt, c.UpdatedAt).Scan(&id, &c.UUID, &c.CreatedAt); err != nil {
		return table.Cell{}, fmt.Errorf("upsert cell (%d,%d): %w", c.RowIndex, c.ColumnIndex, err)
	}
	c.ID = &id
	return c, nil
}

func (a *txApplier) updateTable(ctx context.Context, p table.TablePatch) error {
	if p.Name != nil {
		const query = `UPDATE batch_tables SET name = $3, updated_at = $4 WHERE org_id = $1 AND id = $2`
		if _, err := a.tx.ExecContext(ctx, query, a.orgID, a.tableID, *p.Name, a.now); err != nil {
			return fmt.Errorf("update table name: %w", err)
		}
	}
	if p.Mode != nil {
		const query = `UPDATE batch_tables SET mode = $3, updated_at = $4 WHERE org_id = $1 AND id = $2`
		if _, err := a.tx.ExecContext(ctx, query, a.orgID, a.tableID, string(*p.Mode), a.now); err != nil {
			return fmt.Errorf("update table mode: %w", err)
		}
	}
	return nil
}
