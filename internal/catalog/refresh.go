package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"inferd/internal/cache"
	"inferd/internal/core"
)

// LocalBackend is the slice of the local provider the refresher needs:
// listing pulled models and probing their declared context windows.
type LocalBackend interface {
	ListModels(ctx context.Context) ([]core.ModelSpec, error)
	Show(ctx context.Context, modelID string) (int, error)
}

// Refresher keeps the catalog in sync with the local backend and the
// configured external models, persisting snapshots between restarts.
type Refresher struct {
	catalog   *Catalog
	backend   LocalBackend
	external  []core.ModelSpec
	snapshots cache.Store // nil disables persistence

	// activeID names the local model that should be live. Empty means
	// the first local model wins.
	activeID string
}

// NewRefresher builds a refresher. backend may be nil when no local
// provider is configured; external models then make up the whole
// catalog.
func NewRefresher(cat *Catalog, backend LocalBackend, external []core.ModelSpec, snapshots cache.Store, activeID string) *Refresher {
	return &Refresher{
		catalog:   cat,
		backend:   backend,
		external:  external,
		snapshots: snapshots,
		activeID:  activeID,
	}
}

// LoadCached seeds the catalog from the persisted snapshot so model
// listings work before the first live probe. Returns the number of
// models loaded.
func (r *Refresher) LoadCached(ctx context.Context) int {
	if r.snapshots == nil {
		return 0
	}
	snap, err := r.snapshots.Get(ctx)
	if err != nil {
		slog.Warn("failed to load catalog snapshot", "error", err)
		return 0
	}
	if snap == nil || len(snap.Models) == 0 {
		return 0
	}

	r.catalog.Replace(snap.Models)
	slog.Info("serving cached catalog while refreshing",
		"models", len(snap.Models), "snapshot_updated_at", snap.UpdatedAt)
	return len(snap.Models)
}

// Refresh probes the local backend, merges its models with the
// configured external ones, swaps the catalog and updates the active
// model snapshot. The snapshot store is only written when the model
// list actually changed.
func (r *Refresher) Refresh(ctx context.Context) error {
	models := append([]core.ModelSpec(nil), r.external...)

	if r.backend != nil {
		local, err := r.backend.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("local backend listing failed: %w", err)
		}
		for i := range local {
			window, err := r.backend.Show(ctx, local[i].ID)
			if err != nil {
				slog.Warn("context window probe failed", "model", local[i].ID, "error", err)
				continue
			}
			local[i].ContextWindow = window
		}
		models = append(models, local...)
		r.updateActive(local)
	}

	r.catalog.Replace(models)

	if r.snapshots != nil {
		if err := cache.Write(ctx, r.snapshots, models); err != nil {
			slog.Warn("failed to persist catalog snapshot", "error", err)
		}
	}

	slog.Info("catalog refreshed", "models", len(models))
	return nil
}

// updateActive points the active snapshot at the configured local
// model, or the first local model when none is configured. A missing
// model clears the snapshot and bumps its version.
func (r *Refresher) updateActive(local []core.ModelSpec) {
	active := r.catalog.Active()
	if active == nil {
		return
	}

	wanted := r.activeID
	if wanted == "" && len(local) > 0 {
		wanted = local[0].ID
	}

	for _, spec := range local {
		if spec.ID == wanted {
			active.Set(spec, spec.ContextWindow)
			return
		}
	}
	active.Clear()
}

// Start runs an initial refresh in the background and then refreshes
// every interval. The returned function stops the loop.
func (r *Refresher) Start(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		refresh := func() {
			refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
			defer refreshCancel()
			if err := r.Refresh(refreshCtx); err != nil {
				slog.Warn("catalog refresh failed", "error", err)
			}
		}

		refresh()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()

	return cancel
}
