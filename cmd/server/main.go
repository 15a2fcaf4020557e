package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/ledgerimport/internal/config"
	"github.com/JonMunkholm/ledgerimport/internal/core"
	_ "github.com/JonMunkholm/ledgerimport/internal/formats" // Register all formats
	"github.com/JonMunkholm/ledgerimport/internal/logging"
	"github.com/JonMunkholm/ledgerimport/internal/store"
	"github.com/JonMunkholm/ledgerimport/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Database.Driver,
		"db_max_conns", cfg.Database.MaxConns,
		"publish_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	ledger, closeStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	presets, err := core.LoadPresets(cfg.Import.PresetsFile)
	if err != nil {
		slog.Error("failed to load presets", "error", err)
		os.Exit(1)
	}

	service := core.NewService(ledger, core.Options{
		DefaultCurrency: cfg.Import.DefaultCurrency,
		MaxFileSize:     cfg.Import.MaxFileSize,
		MaxConcurrent:   cfg.Import.MaxConcurrent,
		MaxWait:         cfg.Import.MaxWaitTime,
		PublishTimeout:  cfg.Import.PublishTimeout,
		Presets:         presets,
	})

	// Log registered formats
	slog.Info("formats registered",
		"count", core.FormatCount(),
		"presets", len(presets.All()),
	)
	for _, f := range service.Formats() {
		slog.Debug("format", "kind", f.Kind, "dedup", f.Dedup)
	}

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for running and queued ledger writes (with timeout)
		limiter := service.Limiter()
		if status := limiter.Status(); status.Active+status.Waiting > 0 {
			slog.Info("waiting for publishes to complete", "active", status.Active, "waiting", status.Waiting)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("publishes did not complete in time", "error", err)
			} else {
				slog.Info("all publishes completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
