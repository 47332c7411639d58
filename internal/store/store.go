// Package store persists authoritative batch tables for the reference
// backend: a Postgres implementation for deployment and an in-memory one
// for development and tests.
package store

import (
	"context"
	"errors"

	"gridsync/engine/internal/patch"
	"gridsync/engine/internal/table"
)

// ErrNotFound is returned when the (organization, table) pair is unknown.
var ErrNotFound = errors.New("store: table not found")

// ErrConflict is returned when an update collides with a unique index,
// typically two clients adding a column or row at the same position.
// Clients treat it as a benign race and refetch.
var ErrConflict = errors.New("store: update conflicts with existing entity")

// TableStore is the persistence seam consumed by the HTTP layer.
type TableStore interface {
	CreateTable(ctx context.Context, raw table.RawTable) error
	GetTable(ctx context.Context, orgID, tableID string) (table.RawTable, error)
	// ApplyUpdates applies a patch batch transactionally and returns the
	// confirmed operations: the incoming ops enriched with backend-assigned
	// ids and server-side timestamps, plus any implicitly created columns
	// and rows.
	ApplyUpdates(ctx context.Context, orgID, tableID string, ops []patch.Operation, user string) ([]patch.Operation, error)
}
