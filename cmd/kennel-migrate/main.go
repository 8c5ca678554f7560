// Command kennel-migrate runs the one-time notification migration and prints
// the report as JSON. It exits non-zero when any row or step failed.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

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

	report := a.Migrator.Run(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Error("write report", "error", err)
		os.Exit(1)
	}

	failedSteps := 0
	for _, s := range report.Steps {
		if s.Error != "" {
			failedSteps++
		}
	}
	if report.Failed > 0 || failedSteps > 0 {
		logger.Warn("migration finished with failures", "rows", report.Failed, "steps", failedSteps)
		os.Exit(2)
	}
}
