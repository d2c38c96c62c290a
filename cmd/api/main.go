package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/controller/http/handlers"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/controller/http/middleware"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/app"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/config"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := config.SetupLogger(cfg)
	logger.Info("Starting URL verdict API",
		"env", cfg.App.Env,
		"port", cfg.App.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, logger, app.Options{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		logger.Error("Failed to build scan engine", "error", err)
		os.Exit(1)
	}
	engine.Run(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port),
		Handler:      newRouter(cfg, engine, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Error("Scan engine did not drain", "error", err)
	}
	stats := engine.Sink.Stats()
	logger.Info("Server stopped",
		"results_written", stats.Written,
		"results_dropped", stats.Dropped,
	)
}

func newRouter(cfg *config.Config, engine *app.App, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://localhost:*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Caller-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	checks := make(map[string]handlers.HealthCheck, len(engine.Checks))
	for name, check := range engine.Checks {
		checks[name] = check
	}
	r.Get("/health", handlers.Health(cfg, checks))
	r.Handle("/metrics", promhttp.Handler())

	chains := make(map[entity.ScanPath]handlers.ChainInspector, len(engine.Chains))
	for path, c := range engine.Chains {
		chains[path] = c
	}
	scanHandler := handlers.NewScanHandler(engine.Scan, logger)
	sourcesHandler := handlers.NewSourcesHandler(engine.Registry, chains)

	var setter handlers.SnapshotSetter
	if engine.Static != nil {
		setter = engine.Static
	}
	rolloutHandler := handlers.NewRolloutHandler(engine.Rollout, setter, engine.Store)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(httprate.LimitByIP(cfg.App.RateLimit, time.Minute)).Post("/scan", scanHandler.Scan)
		r.Get("/sources", sourcesHandler.List)
		r.Get("/stream", engine.Hub.ServeWS)

		r.Route("/rollout", func(r chi.Router) {
			r.Get("/", rolloutHandler.Get)
			r.Put("/", rolloutHandler.Update)
			r.Get("/agreement", rolloutHandler.Agreement)
		})
	})

	return r
}
