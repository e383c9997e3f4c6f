package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferd/internal/core"
)

func testModels() []core.ModelSpec {
	return []core.ModelSpec{
		{ID: "llama3.1:8b", Provider: "ollama", Family: "llama", ContextWindow: 8192},
		{ID: "gpt-phony", Provider: "openai", ContextWindow: 128000},
	}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "catalog.json"))
	ctx := context.Background()

	snap, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap, "missing file is not an error")

	require.NoError(t, Write(ctx, store, testModels()))

	snap, err = store.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, testModels(), snap.Models)
	assert.Equal(t, Fingerprint(testModels()), snap.Fingerprint)
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestWriteSkipsUnchangedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	store := NewLocalStore(path)
	ctx := context.Background()

	require.NoError(t, Write(ctx, store, testModels()))
	first, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, Write(ctx, store, testModels()))
	second, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, first.ModTime(), second.ModTime(), "unchanged content must not rewrite the file")

	changed := testModels()
	changed[0].ContextWindow = 131072
	require.NoError(t, Write(ctx, store, changed))

	snap, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 131072, snap.Models[0].ContextWindow)
}

func TestFingerprintSensitivity(t *testing.T) {
	a := Fingerprint(testModels())
	changed := testModels()
	changed[1].ID = "gpt-phony-2"
	b := Fingerprint(changed)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Fingerprint(testModels()), "fingerprint is deterministic")
}

func TestLocalStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewLocalStore(path)
	_, err := store.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}
