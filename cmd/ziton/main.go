package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ziton/internal/config"
	"ziton/internal/events"
	"ziton/internal/http"
	"ziton/internal/indexer"
	"ziton/internal/metrics"
	"ziton/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	// Index settings; an invalid file falls back to the defaults
	provider, err := config.OpenFileProvider(cfg.ConfigPath)
	if errors.Is(err, config.ErrInvalidConfig) {
		slog.Warn("Invalid configuration file, using defaults", "path", cfg.ConfigPath, "error", err)
	} else if err != nil {
		log.Fatalf("Failed to load index settings: %v", err)
	}
	settings := provider.Settings()

	// Initialize catalog
	catalog, err := storage.OpenCatalog(settings.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer func() {
		_ = catalog.Close()
	}()
	slog.Info("Catalog opened", "path", catalog.Path(), "created", catalog.Created())
	metrics.ObserveCatalog(func() (int, error) {
		return catalog.Count(context.Background())
	})

	bus := events.NewBus()
	engine := indexer.NewEngine(catalog, provider, bus, indexer.Options{
		RestartInterval: cfg.MonitorRestartInterval,
	})

	// Create router with dependencies
	router := http.NewRouter(&http.Deps{
		Index:       engine,
		EventBuffer: cfg.EventBuffer,
	})
	server := &nethttp.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("Starting API server", "addr", cfg.APIAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")

		// Ends open event streams so Shutdown does not wait on them.
		bus.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Exited with error", "error", err)
		_ = catalog.Close()
		os.Exit(1)
	}
	slog.Info("Stopped")
}
