package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/kennel/internal/app"
	"github.com/dukerupert/kennel/internal/config"
	"github.com/dukerupert/kennel/internal/database"
	"github.com/dukerupert/kennel/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, db, logger)
	if err != nil {
		logger.Error("failed to build app", "error", err)
		os.Exit(1)
	}

	if cfg.Scheduler.Disabled {
		logger.Warn("scheduler disabled")
	} else {
		a.Scheduler.Start(ctx)
		defer a.Scheduler.Stop()
	}

	go a.Server.RateLimiter().RunCleanup(ctx, 10*time.Minute)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("kennel starting", "addr", httpServer.Addr, "timezone", cfg.Timezone)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
