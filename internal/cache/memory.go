package cache

import (
	"context"
	"sync"
)

// Memory is the in-process Store used by a single engine instance.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

func NewMemory() *Memory {
	return &Memory{snapshots: make(map[string]*Snapshot)}
}

func snapshotKey(orgID, tableID string) string {
	return orgID + "/" + tableID
}

func (m *Memory) Get(_ context.Context, orgID, tableID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[snapshotKey(orgID, tableID)]
	if !ok {
		return nil, ErrNotFound
	}
	return snap, nil
}

func (m *Memory) Set(_ context.Context, orgID, tableID string, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshotKey(orgID, tableID)] = snap
	return nil
}

func (m *Memory) Delete(_ context.Context, orgID, tableID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, snapshotKey(orgID, tableID))
	return nil
}
