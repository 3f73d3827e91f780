package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheetport/internal/application"
	"github.com/JonMunkholm/sheetport/internal/config"
	"github.com/JonMunkholm/sheetport/internal/logging"
	"github.com/JonMunkholm/sheetport/internal/metrics"
	"github.com/JonMunkholm/sheetport/internal/resultlog"
	"github.com/JonMunkholm/sheetport/internal/schema"
	"github.com/JonMunkholm/sheetport/internal/store/sqlstore"
	"github.com/JonMunkholm/sheetport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	st, err := sqlstore.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	slog.Info("connected to database", "driver", cfg.Database.Driver)

	reg, err := schema.NewRegistry(cfg.Import.EntityDir)
	if err != nil {
		slog.Error("failed to load entities", "dir", cfg.Import.EntityDir, "error", err)
		os.Exit(1)
	}
	slog.Info("entities registered", "count", len(reg.Names()), "entities", reg.Names())

	var results *resultlog.Log
	if cfg.ResultLog.Enabled {
		results, err = resultlog.Dial(ctx, cfg.ResultLog)
		if err != nil {
			slog.Error("failed to connect result log", "addr", cfg.ResultLog.Addr, "error", err)
			os.Exit(1)
		}
		slog.Info("publishing import results", "addr", cfg.ResultLog.Addr, "ttl", cfg.ResultLog.TTL)
	}

	engine := application.New(st, reg, application.Options{
		Import:    cfg.Import,
		Export:    cfg.Export,
		ResultLog: results,
		Metrics:   metrics.New(),
		Logger:    slog.Default(),
	})
	server := web.NewServer(engine, cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Wait for running imports before closing the store under them
		if status := engine.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := engine.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done

	if err := engine.Close(); err != nil {
		slog.Error("close error", "error", err)
	}
	slog.Info("server stopped")
}
