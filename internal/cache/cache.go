// Package cache provides the keyed snapshot repository shared by the sync
// engine: for every (organization, table) pair it holds the current
// optimistic table next to the last-confirmed server snapshot used as the
// diff baseline.
package cache

import (
	"context"
	"errors"

	"gridsync/engine/internal/table"
)

// ErrNotFound is returned when no snapshot exists for the key.
var ErrNotFound = errors.New("cache: snapshot not found")

// Snapshot pairs the two tables the engine works with. Current is the
// optimistic local state; Server is only ever written by the initial fetch
// and by server reconciliation.
type Snapshot struct {
	Current *table.Table `json:"current"`
	Server  *table.Table `json:"server"`
}

// Store is the repository interface injected into the engine. Lookups are
// always keyed by organization and table id; nothing reaches a process-wide
// singleton.
type Store interface {
	Get(ctx context.Context, orgID, tableID string) (*Snapshot, error)
	Set(ctx context.Context, orgID, tableID string, snap *Snapshot) error
	Delete(ctx context.Context, orgID, tableID string) error
}
