package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bizportal/internal/platform/config"
	"bizportal/internal/platform/httpserver"
	"bizportal/internal/platform/logger"
	"bizportal/internal/platform/metrics"
	"bizportal/internal/platform/middleware"
	"bizportal/internal/platform/tracing"
	"bizportal/pkg/platform/httputil"
	"bizportal/pkg/platform/middleware/metadata"
	"bizportal/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.IsDevelopment())
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("bizportal exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing.Setup()

	infra, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.close(log)

	app, err := build(ctx, cfg, log, infra)
	if err != nil {
		return err
	}

	app.dispatcher.Start(ctx)
	auditDone := make(chan struct{})
	auditCtx, stopAudit := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		defer close(auditDone)
		if err := app.auditQueue.Run(auditCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit writer stopped", "error", err)
		}
	}()
	workerDone := make(chan struct{})
	workerCtx, stopWorker := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		defer close(workerDone)
		if app.anchorWorker == nil {
			return
		}
		if err := app.anchorWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit anchor worker stopped", "error", err)
		}
	}()

	if cfg.Forms.SeedFile != "" {
		if err := seedForms(ctx, cfg.Forms.SeedFile, app.formsStore, log); err != nil {
			stopAudit()
			stopWorker()
			return err
		}
	}

	srv := httpserver.New(cfg.Server, router(cfg, log, infra, app))
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting bizportal", "addr", cfg.Server.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if err := app.dispatcher.Stop(shutdownCtx); err != nil {
		log.Warn("notification dispatcher did not drain", "error", err)
	}
	// audit writes enqueue anchors, so the writer drains first
	stopAudit()
	select {
	case <-auditDone:
	case <-shutdownCtx.Done():
		log.Warn("audit writer did not drain in time", "queued", app.auditQueue.Queued())
	}
	stopWorker()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn("audit anchor worker did not stop in time")
	}
	log.Info("bizportal stopped")
	return nil
}

func router(cfg config.Config, log *slog.Logger, infra *infra, app *app) http.Handler {
	httpMetrics := metrics.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.LatencyMiddleware(httpMetrics))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.ContentTypeJSON)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := infra.health(r.Context()); err != nil {
			log.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		for _, h := range app.handlers {
			h.Register(r)
		}
	})
	return r
}
