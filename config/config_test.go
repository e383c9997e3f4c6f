package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: "9090"
local:
  enabled: true
  base_url: http://ollama.internal:11434
  model: llama3.1:8b
providers:
  openai:
    type: openai
    base_url: https://api.openai.com/v1
    api_key_env: OPENAI_API_KEY
models:
  - id: gpt-phony
    provider: openai
    context_window: 128000
  - id: mix-phony
    provider: openai
    family_override: mistral
    context_window: 32000
history:
  type: postgresql
  postgresql:
    url: postgres://localhost/inferd
cache:
  type: redis
  redis:
    url: redis://localhost:6379
routing:
  guard_anomalies: true
  sanitize_code_spans: false
  refresh_interval: 60
`

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("INFERD_CONFIG", path)
}

func TestLoadFromYAML(t *testing.T) {
	writeConfig(t, sampleYAML)
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "llama3.1:8b", cfg.Local.Model)
	assert.Equal(t, "sk-from-env", cfg.Providers["openai"].APIKey)
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, 128000, cfg.Models[0].ContextWindow)
	assert.Equal(t, "mistral", cfg.Models[1].FamilyOverride)
	assert.Equal(t, "postgresql", cfg.History.Type)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.False(t, cfg.Routing.SanitizeCodeSpans)
	assert.Equal(t, time.Minute, cfg.RefreshInterval())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("INFERD_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8087", cfg.Server.Port)
	assert.True(t, cfg.Local.Enabled)
	assert.Equal(t, "sqlite", cfg.History.Type)
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval())
}

func TestEnvironmentOverrides(t *testing.T) {
	writeConfig(t, sampleYAML)
	t.Setenv("PORT", "7000")
	t.Setenv("INFERD_MASTER_KEY", "top-secret")
	t.Setenv("OLLAMA_BASE_URL", "http://other:11434")
	t.Setenv("INFERD_LOCAL_MODEL", "phi4:latest")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "top-secret", cfg.Server.MasterKey)
	assert.Equal(t, "http://other:11434", cfg.Local.BaseURL)
	assert.Equal(t, "phi4:latest", cfg.Local.Model)
}

func TestLoadMalformedYAML(t *testing.T) {
	writeConfig(t, "server: [not a mapping")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestValidateRejectsIncompleteProvider(t *testing.T) {
	writeConfig(t, `
providers:
  broken:
    base_url: https://api.example.com
`)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no type")
}

func TestValidateRejectsModelWithoutProvider(t *testing.T) {
	writeConfig(t, `
models:
  - id: orphan
`)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no provider")
}
