package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// MemoryStore keeps snapshots in a process-local map. It is the default
// store for replays and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[types.InstanceKey]types.Snapshot
}

var _ SnapshotStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[types.InstanceKey]types.Snapshot),
	}
}

// Save inserts or replaces the snapshot under its instance key.
func (s *MemoryStore) Save(ctx context.Context, snapshot types.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.Key()] = snapshot.Clone()
	return nil
}

// Load returns the snapshot stored for the given key.
func (s *MemoryStore) Load(ctx context.Context, playbookID string, symbol string) (types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := types.InstanceKey{PlaybookID: playbookID, Symbol: symbol}
	snapshot, ok := s.snapshots[key]
	if !ok {
		return types.Snapshot{}, errors.Newf(errors.ErrCodeSnapshotNotFound, "no snapshot for %s", key)
	}
	return snapshot.Clone(), nil
}

// Delete removes the snapshot stored for the given key.
func (s *MemoryStore) Delete(ctx context.Context, playbookID string, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, types.InstanceKey{PlaybookID: playbookID, Symbol: symbol})
	return nil
}

// List returns every stored snapshot ordered by instance key.
func (s *MemoryStore) List(ctx context.Context) ([]types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshots := make([]types.Snapshot, 0, len(s.snapshots))
	for _, snapshot := range s.snapshots {
		snapshots = append(snapshots, snapshot.Clone())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Key().String() < snapshots[j].Key().String()
	})
	return snapshots, nil
}
