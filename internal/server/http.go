// Package server exposes the inference router over HTTP. Completions
// stream as server-sent events; everything else is plain JSON.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/internal/catalog"
	"inferd/internal/history"
	"inferd/internal/router"
	"inferd/internal/sink"
)

// DefaultBodySizeLimit caps request bodies at 10MB; long histories are
// big but nothing legitimate is bigger.
const DefaultBodySizeLimit int64 = 10 << 20

// Config holds server settings.
type Config struct {
	// MasterKey gates all API routes when non-empty. Health and
	// metrics stay public.
	MasterKey string

	// BodySizeLimit in bytes, DefaultBodySizeLimit when zero.
	BodySizeLimit int64
}

// Server wraps the Echo instance.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// New wires routes and middleware around the router.
func New(rt *router.Router, cat *catalog.Catalog, broker *sink.Broker, store history.Store, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(rt, cat, broker, store)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	bodyLimit := DefaultBodySizeLimit
	if cfg != nil && cfg.BodySizeLimit > 0 {
		bodyLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodyLimit, 10)))

	if cfg != nil && cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, []string{"/health", "/metrics"}))
	}

	e.GET("/health", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/v1/models", handler.ListModels)
	e.POST("/v1/chat", handler.Chat)
	e.POST("/v1/chat/:message_id/cancel", handler.Cancel)

	return &Server{echo: e, handler: handler}
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server run under httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
