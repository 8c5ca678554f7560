package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/kennel/internal/auth"
	"github.com/dukerupert/kennel/internal/model"
	"github.com/dukerupert/kennel/internal/push"
	"github.com/dukerupert/kennel/internal/store"
)

type PushHandler struct {
	subs    *store.SubscriptionStore
	service *push.Service
	tester  push.Sender
	logger  *slog.Logger
}

// NewPushHandler wires the push routes. tester delivers /api/push/test; it is
// the relay client when one is configured and the local service otherwise.
func NewPushHandler(subs *store.SubscriptionStore, svc *push.Service, tester push.Sender, logger *slog.Logger) *PushHandler {
	if tester == nil {
		tester = svc
	}
	return &PushHandler{subs: subs, service: svc, tester: tester, logger: logger}
}

// subscribeRequest accepts both the browser's PushSubscription.toJSON()
// shape and flat key fields.
type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	P256dh      string `json:"p256dh"`
	Auth        string `json:"auth"`
	DeviceType  string `json:"device_type"`
	BrowserName string `json:"browser_name"`
}

// Subscribe handles POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sub := &model.PushSubscription{
		UserID:      auth.UserID(r.Context()),
		Endpoint:    strings.TrimSpace(req.Endpoint),
		P256dhKey:   firstNonEmpty(req.Keys.P256dh, req.P256dh),
		AuthKey:     firstNonEmpty(req.Keys.Auth, req.Auth),
		DeviceType:  req.DeviceType,
		BrowserName: req.BrowserName,
	}
	if sub.DeviceType == "" {
		sub.DeviceType = "web"
	}

	saved, err := h.subs.Upsert(r.Context(), sub)
	if err != nil {
		respondError(w, h.logger, "save subscription", err)
		return
	}
	h.logger.Info("push subscription saved", "user_id", saved.UserID, "browser", saved.BrowserName)
	writeJSON(w, http.StatusCreated, saved)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe handles POST /api/push/unsubscribe. The row is deactivated,
// not deleted.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	ok, err := h.subs.DeactivateForUser(r.Context(), auth.UserID(r.Context()), req.Endpoint, time.Now())
	if err != nil {
		respondError(w, h.logger, "remove subscription", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		respondError(w, h.logger, "list subscriptions", err)
		return
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	key := h.service.VAPIDPublicKey()
	if key == "" {
		respondError(w, h.logger, "get vapid key", push.ErrNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": key})
}

type testRequest struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Browser string `json:"browser"`
}

// TestNotification handles POST /api/push/test
func (h *PushHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	payload := push.Payload{
		Title: firstNonEmpty(req.Title, "Notificación de prueba"),
		Body:  firstNonEmpty(req.Body, "Las notificaciones push funcionan correctamente."),
		Tag:   "test",
		Data:  map[string]any{"url": "/settings", "test": true},
	}

	delivery, err := h.tester.Send(r.Context(), auth.UserID(r.Context()), payload)
	if err != nil {
		h.logger.Warn("test push failed", "user_id", auth.UserID(r.Context()), "error", err)
		status := http.StatusInternalServerError
		var relayErr *push.RelayError
		if errors.As(err, &relayErr) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]string{
			"error":    err.Error(),
			"guidance": push.Guidance(err, req.Browser),
		})
		return
	}
	writeJSON(w, http.StatusOK, delivery)
}

// Relay handles POST /api/push/relay: it performs the protocol handshake for
// a RelayClient. Callers may only relay to themselves unless they are admins.
func (h *PushHandler) Relay(w http.ResponseWriter, r *http.Request) {
	var req push.RelayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, push.RelayResponse{Error: "userId is required"})
		return
	}
	if !auth.CanAccess(r.Context(), req.UserID) {
		writeJSON(w, http.StatusForbidden, push.RelayResponse{Error: "cannot relay for another user"})
		return
	}
	if strings.TrimSpace(req.Notification.Title) == "" {
		writeJSON(w, http.StatusBadRequest, push.RelayResponse{Error: "notification title is required"})
		return
	}

	delivery, err := h.service.Send(r.Context(), req.UserID, req.Notification)
	if err != nil {
		h.logger.Error("relay push", "user_id", req.UserID, "error", err)
		writeJSON(w, http.StatusBadGateway, push.RelayResponse{Error: err.Error(), Delivery: &delivery})
		return
	}
	writeJSON(w, http.StatusOK, push.RelayResponse{
		Success:  delivery.Attempted == 0 || delivery.Delivered > 0,
		Error:    relayFailure(delivery),
		Delivery: &delivery,
	})
}

func relayFailure(d push.Delivery) string {
	if d.Attempted > 0 && d.Delivered == 0 {
		return "no device accepted the notification"
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
