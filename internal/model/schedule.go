package model

import (
	"fmt"
	"strings"
	"time"
)

type ScheduleStatus string

const (
	ScheduleStatusPending   ScheduleStatus = "pending"
	ScheduleStatusSent      ScheduleStatus = "sent"
	ScheduleStatusFailed    ScheduleStatus = "failed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

// CanTransition reports whether a scheduled entry may move from s to next.
// Only pending entries move; sent, failed and cancelled are terminal.
func (s ScheduleStatus) CanTransition(next ScheduleStatus) bool {
	if s != ScheduleStatusPending {
		return false
	}
	switch next {
	case ScheduleStatusSent, ScheduleStatusFailed, ScheduleStatusCancelled:
		return true
	}
	return false
}

type ScheduledNotification struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	DogID          *string           `json:"dog_id"`
	TemplateKey    string            `json:"template_key"`
	Variables      map[string]string `json:"variables"`
	ScheduledFor   time.Time         `json:"scheduled_for"`
	IsRecurring    bool              `json:"is_recurring"`
	RecurrenceRule string            `json:"recurrence_rule,omitempty"`
	Status         ScheduleStatus    `json:"status"`
	Error          string            `json:"error,omitempty"`
	NotificationID *string           `json:"notification_id,omitempty"`
	SentAt         *time.Time        `json:"sent_at"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (s *ScheduledNotification) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: scheduled notification user_id is required", ErrInvalid)
	}
	if strings.TrimSpace(s.TemplateKey) == "" {
		return fmt.Errorf("%w: template_key is required", ErrInvalid)
	}
	if s.ScheduledFor.IsZero() {
		return fmt.Errorf("%w: scheduled_for is required", ErrInvalid)
	}
	if s.IsRecurring != (s.RecurrenceRule != "") {
		return fmt.Errorf("%w: recurrence_rule must be set exactly when is_recurring", ErrInvalid)
	}
	return nil
}
