package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/kennel/internal/auth"
	"github.com/dukerupert/kennel/internal/model"
	"github.com/dukerupert/kennel/internal/store"
)

type TemplateHandler struct {
	templates *store.TemplateStore
	logger    *slog.Logger
}

func NewTemplateHandler(ts *store.TemplateStore, logger *slog.Logger) *TemplateHandler {
	return &TemplateHandler{templates: ts, logger: logger}
}

// List handles GET /api/templates. Admins may pass ?all=true to include
// inactive templates.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := !(r.URL.Query().Get("all") == "true" && auth.IsAdmin(r.Context()))

	list, err := h.templates.List(r.Context(), activeOnly)
	if err != nil {
		respondError(w, h.logger, "list templates", err)
		return
	}
	if list == nil {
		list = []model.NotificationTemplate{}
	}
	writeJSON(w, http.StatusOK, list)
}
