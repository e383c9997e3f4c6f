// Package main is the entry point for the inference routing server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"inferd/config"
	"inferd/internal/cache"
	"inferd/internal/catalog"
	"inferd/internal/contextwin"
	"inferd/internal/core"
	"inferd/internal/history"
	"inferd/internal/logging"
	"inferd/internal/observability"
	"inferd/internal/providers"
	"inferd/internal/providers/ollama"
	"inferd/internal/router"
	"inferd/internal/server"
	"inferd/internal/sink"
	"inferd/internal/version"

	// register external dispatchers
	_ "inferd/internal/providers/openaicompat"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("inferd %s (%s)\n", version.Version, version.Commit)
		os.Exit(0)
	}

	logging.Setup(logging.LevelFromEnv())

	slog.Info("starting inferd",
		"version", version.Version,
		"commit", version.Commit,
	)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	// Catalog snapshot store.
	var snapshots cache.Store
	switch cfg.Cache.Type {
	case "redis":
		redisStore, err := cache.NewRedisStore(cache.RedisConfig{
			URL: cfg.Cache.Redis.URL,
			Key: cfg.Cache.Redis.Key,
			TTL: time.Duration(cfg.Cache.Redis.TTL) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("snapshot store: %w", err)
		}
		snapshots = redisStore
	default:
		snapshots = cache.NewLocalStore(cfg.Cache.Path)
	}
	defer snapshots.Close()

	// Message store.
	var store history.Store
	if cfg.History.Type != "" {
		historyCfg := history.Config{Type: cfg.History.Type}
		historyCfg.SQLite.Path = cfg.History.SQLite.Path
		historyCfg.PostgreSQL.URL = cfg.History.PostgreSQL.URL
		historyCfg.PostgreSQL.MaxConns = cfg.History.PostgreSQL.MaxConns
		historyCfg.MongoDB.URL = cfg.History.MongoDB.URL
		historyCfg.MongoDB.Database = cfg.History.MongoDB.Database
		if historyCfg.Type == history.TypeSQLite && historyCfg.SQLite.Path == "" {
			historyCfg.SQLite.Path = "data/inferd.db"
		}
		opened, err := history.New(ctx, historyCfg)
		if err != nil {
			return fmt.Errorf("message store: %w", err)
		}
		store = opened
		defer store.Close()
		slog.Info("message store ready", "backend", cfg.History.Type)
	} else {
		slog.Warn("no message store configured, conversations will not persist")
	}

	// Local backend and external dispatchers.
	var local *ollama.Client
	if cfg.Local.Enabled {
		local = ollama.New(cfg.Local.BaseURL)
	}

	external := make(map[string]core.Dispatcher)
	keys := make(map[string]string)
	for name, providerCfg := range cfg.Providers {
		dispatcher, err := providers.Create(providerCfg.Type, providers.Options{
			BaseURL: providerCfg.BaseURL,
		})
		if err != nil {
			slog.Error("failed to initialize provider", "name", name, "error", err)
			continue
		}
		external[providerCfg.Type] = dispatcher
		if providerCfg.APIKey != "" {
			keys[providerCfg.Type] = providerCfg.APIKey
		}
		slog.Info("provider initialized", "name", name, "type", providerCfg.Type)
	}

	// Catalog and refresher.
	active := &catalog.ActiveModel{}
	cat := catalog.New(cfg.Models, active)
	var backend catalog.LocalBackend
	if local != nil {
		backend = local
	}
	refresher := catalog.NewRefresher(cat, backend, cfg.Models, snapshots, cfg.Local.Model)
	refresher.LoadCached(ctx)
	stopRefresh := refresher.Start(cfg.RefreshInterval())
	defer stopRefresh()

	// Router.
	broker := sink.New()
	metrics := observability.New(prometheus.DefaultRegisterer)
	var localDispatcher core.Dispatcher
	var summarizer *contextwin.Summarizer
	if local != nil {
		localDispatcher = local
		summarizer = contextwin.NewSummarizer(local)
	}
	var messageStore core.MessageStore
	if store != nil {
		messageStore = store
	}
	rt := router.New(router.Config{
		Models:            cat,
		Windows:           cat,
		Active:            active,
		Local:             localDispatcher,
		External:          external,
		Keys:              keys,
		Store:             messageStore,
		Sink:              broker,
		Summarizer:        summarizer,
		Metrics:           metrics,
		GuardAnomalies:    cfg.Routing.GuardAnomalies,
		SanitizeCodeSpans: cfg.Routing.SanitizeCodeSpans,
	})

	if cfg.Server.MasterKey == "" {
		slog.Warn("INFERD_MASTER_KEY not set, unauthenticated access allowed")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	srv := server.New(rt, cat, broker, store, &server.Config{
		MasterKey: cfg.Server.MasterKey,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		slog.Info("http server listening", "addr", addr)
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	slog.Info("bye")
	return nil
}
