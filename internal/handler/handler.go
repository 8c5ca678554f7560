package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/kennel/internal/model"
	"github.com/dukerupert/kennel/internal/notify"
	"github.com/dukerupert/kennel/internal/push"
	"github.com/dukerupert/kennel/internal/render"
	"github.com/dukerupert/kennel/internal/scheduler"
	"github.com/dukerupert/kennel/internal/store"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a bounded JSON body into v. It writes the 400 itself and
// reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// respondError maps service errors onto status codes. Anything unrecognized
// is logged and reported as a 500 without leaking the cause.
func respondError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var relayErr *push.RelayError
	switch {
	case errors.Is(err, notify.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, render.ErrTemplateNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrInvalidStateTransition),
		errors.Is(err, store.ErrEndpointTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, push.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "push notifications are not configured")
	case errors.As(err, &relayErr):
		logger.Warn(op, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// pageParams reads limit and offset from the query string. Missing or
// malformed values become 0 and are defaulted downstream.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
