package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cart-recovery-agent/internal/domain"
)

// MemorySink keeps the last snapshot in memory. Snapshots are stored encoded
// so callers never share maps with the State.
type MemorySink struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) LoadSnapshot(_ context.Context) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return domain.Snapshot{}, ErrSnapshotNotFound
	}
	return decodeSnapshot(m.data)
}

func (m *MemorySink) SaveSnapshot(_ context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("repository: encode snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.saves++
	return nil
}

// Saves reports how many snapshots were written.
func (m *MemorySink) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func decodeSnapshot(data []byte) (domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	return snap, nil
}
