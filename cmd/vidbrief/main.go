package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	appcfg "github.com/vidbrief/vidbrief/internal/config"
	"github.com/vidbrief/vidbrief/internal/content"
	"github.com/vidbrief/vidbrief/internal/content/aiproxy"
	"github.com/vidbrief/vidbrief/internal/content/mock"
	"github.com/vidbrief/vidbrief/internal/export"
	"github.com/vidbrief/vidbrief/internal/jobs"
	"github.com/vidbrief/vidbrief/internal/processor"
	"github.com/vidbrief/vidbrief/internal/server"
	"github.com/vidbrief/vidbrief/internal/storage"
)

func main() {
	// Bootstrap logger; level is re-applied from config below.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load config
	cfg, err := appcfg.Load("")
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	// Job store
	var store jobs.Store
	switch cfg.Server.Store {
	case "sqlite":
		store, err = jobs.NewSQLiteStore(cfg.Server.DatabasePath)
		if err != nil {
			logger.Error("sqlite open", "err", err)
			os.Exit(1)
		}
	case "memory":
		store = jobs.NewMemoryStore()
	default:
		logger.Error("unsupported store", "store", cfg.Server.Store)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	// Uploader
	uploader := storage.NewUploader(cfg.Server.StorageDir)

	// Content generator
	var generator content.Generator
	switch strings.ToLower(cfg.Content.Provider) {
	case "mock":
		generator = mock.New(cfg.Content.Mock)
	case "aiproxy":
		generator = aiproxy.New(cfg.Content.AIProxy)
	default:
		logger.Error("unsupported content provider", "provider", cfg.Content.Provider)
		os.Exit(1)
	}

	// Exporters
	exports := export.NewRegistry()
	if cfg.Export.Enabled {
		exports.Add(export.NewFileExporter(cfg.Export.Dir))
	}

	// Pipeline driver and queue
	worker := processor.New(logger, cfg, store, generator, exports)
	queue := jobs.NewQueue(logger, cfg.Server.QueueCapacity, cfg.Server.WorkerCount)
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := queue.Start(rootCtx, worker); err != nil {
		logger.Error("start queue", "err", err)
		os.Exit(1)
	}

	orch := processor.NewOrchestrator(logger, cfg, store, queue)

	// HTTP server
	svc := &server.Service{
		Log:          logger,
		Cfg:          cfg,
		Orchestrator: orch,
		Uploader:     uploader,
	}
	httpSrv := server.NewHTTPServer(svc)

	// Run server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	// Stop workers
	queue.Shutdown(cfg.Server.ShutdownGrace)
	logger.Info("server stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
