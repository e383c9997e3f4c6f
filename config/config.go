// Package config loads server configuration from a YAML file plus
// environment overrides. A .env file is honored for local development;
// secrets only ever come from the environment, never the YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"inferd/internal/core"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Local     LocalConfig               `yaml:"local"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Models    []core.ModelSpec          `yaml:"models"`
	History   HistoryConfig             `yaml:"history"`
	Cache     CacheConfig               `yaml:"cache"`
	Routing   RoutingConfig             `yaml:"routing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `yaml:"port"`

	// MasterKey gates the API when non-empty. Environment only.
	MasterKey string `yaml:"-"`
}

// LocalConfig points at the local Ollama backend.
type LocalConfig struct {
	// Enabled turns the local backend on.
	Enabled bool `yaml:"enabled"`

	// BaseURL of the daemon, default http://localhost:11434.
	BaseURL string `yaml:"base_url"`

	// Model names the local model to keep active. Empty picks the
	// first model the daemon reports.
	Model string `yaml:"model"`
}

// ProviderConfig describes one external provider.
type ProviderConfig struct {
	// Type selects the dispatcher implementation.
	Type string `yaml:"type"`

	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env"`

	// APIKey is resolved from APIKeyEnv at load time.
	APIKey string `yaml:"-"`
}

// HistoryConfig selects the message store backend.
type HistoryConfig struct {
	Type string `yaml:"type"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	PostgreSQL struct {
		URL      string `yaml:"url"`
		MaxConns int    `yaml:"max_conns"`
	} `yaml:"postgresql"`

	MongoDB struct {
		URL      string `yaml:"url"`
		Database string `yaml:"database"`
	} `yaml:"mongodb"`
}

// CacheConfig selects the catalog snapshot store.
type CacheConfig struct {
	Type string `yaml:"type"`

	// Path of the local snapshot file.
	Path string `yaml:"path"`

	Redis struct {
		URL string `yaml:"url"`
		Key string `yaml:"key"`
		// TTL in seconds.
		TTL int `yaml:"ttl"`
	} `yaml:"redis"`
}

// RoutingConfig holds router behavior toggles.
type RoutingConfig struct {
	GuardAnomalies    bool `yaml:"guard_anomalies"`
	SanitizeCodeSpans bool `yaml:"sanitize_code_spans"`

	// RefreshInterval is the catalog refresh period in seconds.
	RefreshInterval int `yaml:"refresh_interval"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8087"},
		Local: LocalConfig{
			Enabled: true,
			BaseURL: "http://localhost:11434",
		},
		History: HistoryConfig{Type: "sqlite"},
		Cache:   CacheConfig{Type: "local", Path: ".cache/catalog.json"},
		Routing: RoutingConfig{
			GuardAnomalies:    true,
			SanitizeCodeSpans: true,
			RefreshInterval:   300,
		},
	}
}

// Load reads the YAML file named by INFERD_CONFIG (default
// config.yaml), then applies environment overrides. A missing file is
// not an error; a malformed one is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	path := os.Getenv("INFERD_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults plus environment
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	cfg.Server.MasterKey = os.Getenv("INFERD_MASTER_KEY")

	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		cfg.Local.BaseURL = url
	}
	if model := os.Getenv("INFERD_LOCAL_MODEL"); model != "" {
		cfg.Local.Model = model
	}

	for name, provider := range cfg.Providers {
		if provider.APIKeyEnv != "" {
			provider.APIKey = os.Getenv(provider.APIKeyEnv)
		}
		cfg.Providers[name] = provider
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.History.Type = "postgresql"
		cfg.History.PostgreSQL.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.Redis.URL = url
	}
	if interval := os.Getenv("INFERD_REFRESH_INTERVAL"); interval != "" {
		if secs, err := strconv.Atoi(interval); err == nil && secs > 0 {
			cfg.Routing.RefreshInterval = secs
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	for name, provider := range cfg.Providers {
		if provider.Type == "" {
			return fmt.Errorf("provider %q has no type", name)
		}
		if provider.BaseURL == "" {
			return fmt.Errorf("provider %q has no base_url", name)
		}
	}
	for _, model := range cfg.Models {
		if model.ID == "" {
			return fmt.Errorf("model entry without id")
		}
		if model.Provider == "" {
			return fmt.Errorf("model %q has no provider", model.ID)
		}
	}
	return nil
}

// RefreshInterval returns the catalog refresh period as a duration.
func (c *Config) RefreshInterval() time.Duration {
	secs := c.Routing.RefreshInterval
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}
