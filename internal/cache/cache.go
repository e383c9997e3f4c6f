// Package cache persists catalog snapshots between restarts so the
// server can answer model listings before the local backend has been
// probed. Local file and Redis backends share one interface; Redis is
// for multi-instance deployments.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cespare/xxhash/v2"

	"inferd/internal/core"
)

// Snapshot is the cached catalog state.
type Snapshot struct {
	Version   int              `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Models    []core.ModelSpec `json:"models"`

	// Fingerprint is the xxhash of the serialized model list. Writers
	// use it to skip redundant stores when nothing changed.
	Fingerprint uint64 `json:"fingerprint"`
}

// Fingerprint computes the content hash of a model list.
func Fingerprint(models []core.ModelSpec) uint64 {
	data, err := json.Marshal(models)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

// Store is the snapshot persistence interface. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get retrieves the snapshot, nil when none exists yet.
	Get(ctx context.Context) (*Snapshot, error)

	// Set persists the snapshot.
	Set(ctx context.Context, snap *Snapshot) error

	// Close releases backend resources.
	Close() error
}

// Write fingerprints models and stores them, skipping the write when
// the stored snapshot already carries the same fingerprint.
func Write(ctx context.Context, store Store, models []core.ModelSpec) error {
	fp := Fingerprint(models)
	if prev, err := store.Get(ctx); err == nil && prev != nil && prev.Fingerprint == fp {
		return nil
	}
	return store.Set(ctx, &Snapshot{
		Version:     1,
		UpdatedAt:   time.Now().UTC(),
		Models:      models,
		Fingerprint: fp,
	})
}
