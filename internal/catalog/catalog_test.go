package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferd/internal/core"
)

func table() []core.ModelSpec {
	return []core.ModelSpec{
		{ID: "llama3:8b", Provider: "ollama", ContextWindow: 8192},
		{ID: "gpt-4o-mini", Provider: "openai", ContextWindow: 128000},
		{ID: "no-window", Provider: "openai"},
	}
}

func TestGetAndList(t *testing.T) {
	c := New(table(), nil)

	m, ok := c.Get("llama3:8b")
	require.True(t, ok)
	assert.Equal(t, "ollama", m.Provider)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, "gpt-4o-mini", list[0].ID, "sorted by id")
}

func TestWindowForDeclaredAndDefault(t *testing.T) {
	c := New(table(), nil)
	assert.Equal(t, 8192, c.WindowFor("llama3:8b"))
	assert.Equal(t, DefaultContextWindow, c.WindowFor("no-window"))
	assert.Equal(t, DefaultContextWindow, c.WindowFor("missing"))
}

func TestWindowForLiveOverride(t *testing.T) {
	active := &ActiveModel{}
	c := New(table(), active)

	active.Set(core.ModelSpec{ID: "llama3:8b", Provider: "ollama"}, 4096)
	assert.Equal(t, 4096, c.WindowFor("llama3:8b"), "live value overrides declared")
	assert.Equal(t, 128000, c.WindowFor("gpt-4o-mini"), "other models unaffected")

	active.Clear()
	assert.Equal(t, 8192, c.WindowFor("llama3:8b"), "declared value after deactivation")
}

func TestActiveSnapshotVersioning(t *testing.T) {
	active := &ActiveModel{}

	_, ok := active.Snapshot()
	assert.False(t, ok)

	active.Set(core.ModelSpec{ID: "a"}, 2048)
	first, ok := active.Snapshot()
	require.True(t, ok)

	active.Set(core.ModelSpec{ID: "b"}, 2048)
	second, _ := active.Snapshot()

	assert.Greater(t, second.Version, first.Version)
	assert.Equal(t, "a", first.Spec.ID, "snapshot is immutable under concurrent swap")
}

func TestReplace(t *testing.T) {
	c := New(table(), nil)
	c.Replace([]core.ModelSpec{{ID: "new-only", Provider: "groq", ContextWindow: 32768}})

	_, ok := c.Get("llama3:8b")
	assert.False(t, ok)
	assert.Equal(t, 32768, c.WindowFor("new-only"))
}
