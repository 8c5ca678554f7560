package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/kennel/internal/auth"
	"github.com/dukerupert/kennel/internal/model"
	"github.com/dukerupert/kennel/internal/store"
)

// userWideDogID addresses the preference row that applies to all of a
// user's dogs.
const userWideDogID = "default"

type PreferenceHandler struct {
	prefs  *store.PreferenceStore
	logger *slog.Logger
}

func NewPreferenceHandler(ps *store.PreferenceStore, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{prefs: ps, logger: logger}
}

func dogParam(r *http.Request) string {
	id := r.PathValue("dog_id")
	if id == userWideDogID {
		return ""
	}
	return id
}

// Get handles GET /api/preferences/{dog_id}. It returns the preference that
// applies, falling back to the user-wide row and then to defaults.
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	pref, err := h.prefs.Effective(r.Context(), auth.UserID(r.Context()), dogParam(r))
	if err != nil {
		respondError(w, h.logger, "get preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

type preferenceRequest struct {
	Categories        map[model.Category]bool `json:"categories"`
	PriorityFilter    model.Priority          `json:"priority_filter"`
	DeviceTokens      []string                `json:"device_tokens"`
	QuietHoursEnabled bool                    `json:"quiet_hours_enabled"`
	QuietStartTime    string                  `json:"quiet_start_time"`
	QuietEndTime      string                  `json:"quiet_end_time"`
}

// Update handles PUT /api/preferences/{dog_id}
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID, dogID := auth.UserID(r.Context()), dogParam(r)
	current, err := h.prefs.Effective(r.Context(), userID, dogID)
	if err != nil {
		respondError(w, h.logger, "update preferences", err)
		return
	}

	pref := &model.NotificationPreference{
		UserID:            userID,
		DogID:             dogID,
		Categories:        req.Categories,
		PriorityFilter:    req.PriorityFilter,
		DeviceTokens:      req.DeviceTokens,
		QuietHoursEnabled: req.QuietHoursEnabled,
		QuietStartTime:    req.QuietStartTime,
		QuietEndTime:      req.QuietEndTime,
		VaccineReminders:  current.VaccineReminders,
		RoutineReminders:  current.RoutineReminders,
	}
	if pref.Categories == nil {
		pref.Categories = current.Categories
	}

	saved, err := h.prefs.Upsert(r.Context(), pref)
	if err != nil {
		respondError(w, h.logger, "update preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
