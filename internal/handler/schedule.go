package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/kennel/internal/auth"
	"github.com/dukerupert/kennel/internal/model"
	"github.com/dukerupert/kennel/internal/notify"
	"github.com/dukerupert/kennel/internal/recurrence"
	"github.com/dukerupert/kennel/internal/scheduler"
)

const upcomingPreview = 5

type ScheduleHandler struct {
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

func NewScheduleHandler(s *scheduler.Scheduler, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{scheduler: s, logger: logger}
}

var validScheduleStatuses = map[model.ScheduleStatus]bool{
	model.ScheduleStatusPending:   true,
	model.ScheduleStatusSent:      true,
	model.ScheduleStatusFailed:    true,
	model.ScheduleStatusCancelled: true,
}

// List handles GET /api/schedules?status=pending
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	status := model.ScheduleStatus(r.URL.Query().Get("status"))
	if status != "" && !validScheduleStatuses[status] {
		writeError(w, http.StatusBadRequest, "status must be pending, sent, failed, or cancelled")
		return
	}

	list, err := h.scheduler.ListForUser(r.Context(), auth.UserID(r.Context()), status)
	if err != nil {
		respondError(w, h.logger, "list scheduled notifications", err)
		return
	}
	if list == nil {
		list = []model.ScheduledNotification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Create handles POST /api/schedules
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req scheduler.ScheduleParams
	if !decodeJSON(w, r, &req) {
		return
	}

	caller := auth.UserID(r.Context())
	switch {
	case req.UserID == "":
		req.UserID = caller
	case !auth.CanAccess(r.Context(), req.UserID):
		writeError(w, http.StatusForbidden, "cannot schedule for another user")
		return
	}

	e, err := h.scheduler.Schedule(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, "schedule notification", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type scheduleDetail struct {
	*model.ScheduledNotification
	Recurrence string      `json:"recurrence,omitempty"`
	Upcoming   []time.Time `json:"upcoming,omitempty"`
}

// Get handles GET /api/schedules/{id}. Recurring pending entries include a
// readable rule and the next few fire times.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.scheduler.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, "get scheduled notification", err)
		return
	}
	if !auth.CanAccess(r.Context(), e.UserID) {
		respondError(w, h.logger, "get scheduled notification", notify.ErrNotFound)
		return
	}

	detail := scheduleDetail{ScheduledNotification: e}
	if e.IsRecurring {
		rule, err := recurrence.Parse(e.RecurrenceRule)
		if err != nil {
			h.logger.Warn("stored recurrence rule is invalid", "id", e.ID, "rule", e.RecurrenceRule, "error", err)
		} else {
			detail.Recurrence = rule.Describe()
			if e.Status == model.ScheduleStatusPending {
				detail.Upcoming = append([]time.Time{e.ScheduledFor}, recurrence.Upcoming(rule, e.ScheduledFor, upcomingPreview-1)...)
			}
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

// Cancel handles POST /api/schedules/{id}/cancel
func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, err := h.scheduler.Get(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, "cancel scheduled notification", err)
		return
	}
	if !auth.CanAccess(r.Context(), e.UserID) {
		respondError(w, h.logger, "cancel scheduled notification", notify.ErrNotFound)
		return
	}

	e, err = h.scheduler.Cancel(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, "cancel scheduled notification", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
