// Package catalog holds the model table: which models exist, which
// backend serves them, their prompt families, and their context windows.
// It also owns the single piece of state shared across requests — the
// currently active local model.
package catalog

import (
	"sync"

	"inferd/internal/core"
)

// ActiveSnapshot is an immutable view of the active local model, taken
// once per request at dispatch time. A concurrent model swap bumps the
// version and affects only requests dispatched afterwards, never an
// in-flight one.
type ActiveSnapshot struct {
	Spec core.ModelSpec
	// Window is the context window the local backend reported for the
	// loaded model. Overrides the declared value while active.
	Window  int
	Version uint64
}

// ActiveModel is the versioned holder of the active local model pointer.
type ActiveModel struct {
	mu      sync.RWMutex
	snap    *ActiveSnapshot
	version uint64
}

// Set activates a local model with its live-reported context window.
func (a *ActiveModel) Set(spec core.ModelSpec, liveWindow int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.version++
	a.snap = &ActiveSnapshot{Spec: spec, Window: liveWindow, Version: a.version}
}

// Clear deactivates the local model.
func (a *ActiveModel) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.version++
	a.snap = nil
}

// Snapshot returns the current active model, if any. The returned value
// is a copy; callers hold it for the duration of their request.
func (a *ActiveModel) Snapshot() (ActiveSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.snap == nil {
		return ActiveSnapshot{}, false
	}
	return *a.snap, true
}
