// Package store persists playbook instance snapshots so an engine can
// resume from where a previous process stopped.
package store

import (
	"context"

	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// SnapshotStore keeps the latest snapshot per (playbook_id, symbol) key.
// The engine's in-memory state stays authoritative; a store only has to
// return the most recently saved snapshot for each key.
type SnapshotStore interface {
	// Save inserts or replaces the snapshot under its instance key.
	Save(ctx context.Context, snapshot types.Snapshot) error
	// Load returns the snapshot for the given key, or an error carrying
	// ErrCodeSnapshotNotFound when none exists.
	Load(ctx context.Context, playbookID string, symbol string) (types.Snapshot, error)
	// Delete removes the snapshot for the given key. A missing key is not
	// an error.
	Delete(ctx context.Context, playbookID string, symbol string) error
	// List returns every stored snapshot ordered by instance key.
	List(ctx context.Context) ([]types.Snapshot, error)
}
