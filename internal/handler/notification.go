package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/kennel/internal/auth"
	"github.com/dukerupert/kennel/internal/model"
	"github.com/dukerupert/kennel/internal/notify"
)

type NotificationHandler struct {
	service *notify.Service
	logger  *slog.Logger
}

func NewNotificationHandler(svc *notify.Service, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{service: svc, logger: logger}
}

// load fetches a notification the caller may act on. Other users'
// notifications are reported as missing.
func (h *NotificationHandler) load(ctx context.Context, id string) (*model.Notification, error) {
	n, err := h.service.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccess(ctx, n.UserID) {
		return nil, notify.ErrNotFound
	}
	return n, nil
}

// List handles GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	list, err := h.service.List(r.Context(), auth.UserID(r.Context()), limit, offset)
	if err != nil {
		respondError(w, h.logger, "list notifications", err)
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Create handles POST /api/notifications. Only admins may create
// notifications for another user.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req notify.CreateParams
	if !decodeJSON(w, r, &req) {
		return
	}

	caller := auth.UserID(r.Context())
	switch {
	case req.UserID == "":
		req.UserID = caller
	case !auth.CanAccess(r.Context(), req.UserID):
		writeError(w, http.StatusForbidden, "cannot notify another user")
		return
	}

	n, err := h.service.Create(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, "create notification", err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// Get handles GET /api/notifications/{id}
func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := h.load(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, "get notification", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// MarkRead handles POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.load(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, "mark notification read", err)
		return
	}
	n, err = h.service.MarkRead(r.Context(), n.ID)
	if err != nil {
		respondError(w, h.logger, "mark notification read", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// Delete handles DELETE /api/notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	n, err := h.load(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, "delete notification", err)
		return
	}
	if err := h.service.Delete(r.Context(), n.ID); err != nil {
		respondError(w, h.logger, "delete notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnreadCount handles GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.UnreadCount(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		respondError(w, h.logger, "count unread notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}
