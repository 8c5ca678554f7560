package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/kennel/internal/migrate"
)

// MigrationRunner runs the one-time notification migration.
type MigrationRunner interface {
	Run(ctx context.Context) *migrate.Report
}

type AdminHandler struct {
	migrator MigrationRunner
	logger   *slog.Logger
}

func NewAdminHandler(m MigrationRunner, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{migrator: m, logger: logger}
}

// Migrate handles POST /api/admin/migrate. The report is returned even when
// some rows or steps failed.
func (h *AdminHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	report := h.migrator.Run(r.Context())
	h.logger.Info("migration requested",
		"total", report.Total,
		"successful", report.Successful,
		"failed", report.Failed,
	)
	writeJSON(w, http.StatusOK, report)
}
