// Package server wires the proxy, catalog and ops endpoints onto one chi
// router and runs it until the context ends.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/layer-atlas/internal/catalog"
	"github.com/mohammed-shakir/layer-atlas/internal/core/config"
	"github.com/mohammed-shakir/layer-atlas/internal/core/health"
	middleware "github.com/mohammed-shakir/layer-atlas/internal/core/middleware"
	"github.com/mohammed-shakir/layer-atlas/internal/proxy"
)

type Deps struct {
	Proxy   *proxy.Handler
	Catalog *catalog.Catalog
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Checks  map[string]health.Checker
}

func NewRouter(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Checks, 2*time.Second))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Proxy != nil {
		r.Route("/api/titiler", d.Proxy.Routes)
	}
	if d.Catalog != nil {
		r.Route("/api/layers", d.Catalog.Routes)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
