package catalog

import (
	"sort"
	"sync"

	"inferd/internal/core"
)

// DefaultContextWindow is assumed for models with no declared window.
const DefaultContextWindow = 4096

// Catalog implements core.ModelLookup and core.ContextSource over a
// declared model table plus the active-local-model override.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]core.ModelSpec
	active *ActiveModel
}

// New builds a catalog from the declared model table. active may be nil
// when no local backend is configured.
func New(models []core.ModelSpec, active *ActiveModel) *Catalog {
	c := &Catalog{
		models: make(map[string]core.ModelSpec, len(models)),
		active: active,
	}
	for _, m := range models {
		c.models[m.ID] = m
	}
	return c
}

// Get returns the model record for id.
func (c *Catalog) Get(id string) (*core.ModelSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	if !ok {
		return nil, false
	}
	return &m, true
}

// List returns all models, sorted by ID for stable output.
func (c *Catalog) List() []core.ModelSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.ModelSpec, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Replace swaps the model table, e.g. after a refresh from the local
// backend's model list.
func (c *Catalog) Replace(models []core.ModelSpec) {
	next := make(map[string]core.ModelSpec, len(models))
	for _, m := range models {
		next[m.ID] = m
	}
	c.mu.Lock()
	c.models = next
	c.mu.Unlock()
}

// WindowFor returns the usable context window for a model: the declared
// size, overridden by the live-reported value when the model is the
// currently active local model.
func (c *Catalog) WindowFor(modelID string) int {
	if c.active != nil {
		if snap, ok := c.active.Snapshot(); ok && snap.Spec.ID == modelID && snap.Window > 0 {
			return snap.Window
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.models[modelID]; ok && m.ContextWindow > 0 {
		return m.ContextWindow
	}
	return DefaultContextWindow
}

// Active returns the active-model holder, or nil.
func (c *Catalog) Active() *ActiveModel {
	return c.active
}
