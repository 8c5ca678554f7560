package model

import (
	"fmt"
	"strings"
	"time"
)

type PushSubscription struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Endpoint    string     `json:"endpoint"`
	P256dhKey   string     `json:"p256dh_key"`
	AuthKey     string     `json:"auth_key"`
	DeviceType  string     `json:"device_type"`
	BrowserName string     `json:"browser_name"`
	IsActive    bool       `json:"is_active"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (s *PushSubscription) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: subscription user_id is required", ErrInvalid)
	}
	if s.Endpoint == "" || s.P256dhKey == "" || s.AuthKey == "" {
		return fmt.Errorf("%w: endpoint, p256dh and auth keys are required", ErrInvalid)
	}
	return nil
}

// NotificationPreference holds delivery settings for a (user, dog) pair.
// DogID "" is the user-wide row.
type NotificationPreference struct {
	UserID            string            `json:"user_id"`
	DogID             string            `json:"dog_id"`
	Categories        map[Category]bool `json:"categories"`
	PriorityFilter    Priority          `json:"priority_filter"`
	DeviceTokens      []string          `json:"device_tokens"`
	QuietHoursEnabled bool              `json:"quiet_hours_enabled"`
	QuietStartTime    string            `json:"quiet_start_time"`
	QuietEndTime      string            `json:"quiet_end_time"`

	// Flags from the original preference schema, read by the migrator.
	VaccineReminders bool `json:"vaccine_reminders"`
	RoutineReminders bool `json:"routine_reminders"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPreference is what applies when no row exists: everything on.
func DefaultPreference(userID, dogID string) NotificationPreference {
	cats := make(map[Category]bool, len(Categories))
	for _, c := range Categories {
		cats[c] = true
	}
	return NotificationPreference{
		UserID:           userID,
		DogID:            dogID,
		Categories:       cats,
		PriorityFilter:   PriorityLow,
		QuietStartTime:   "22:00",
		QuietEndTime:     "07:00",
		VaccineReminders: true,
		RoutineReminders: true,
	}
}

func (p *NotificationPreference) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: preference user_id is required", ErrInvalid)
	}
	if p.PriorityFilter != "" && !p.PriorityFilter.Valid() {
		return fmt.Errorf("%w: unknown priority_filter %q", ErrInvalid, p.PriorityFilter)
	}
	for c := range p.Categories {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalid, c)
		}
	}
	if p.QuietHoursEnabled {
		if _, err := parseClock(p.QuietStartTime); err != nil {
			return fmt.Errorf("%w: quiet_start_time: %v", ErrInvalid, err)
		}
		if _, err := parseClock(p.QuietEndTime); err != nil {
			return fmt.Errorf("%w: quiet_end_time: %v", ErrInvalid, err)
		}
	}
	return nil
}

// CategoryEnabled treats categories missing from the map as enabled.
func (p *NotificationPreference) CategoryEnabled(c Category) bool {
	enabled, ok := p.Categories[c]
	return !ok || enabled
}

// InQuietHours reports whether t falls inside the quiet window. The window
// may wrap midnight (22:00–07:00). Equal start and end means no window.
func (p *NotificationPreference) InQuietHours(t time.Time) bool {
	if !p.QuietHoursEnabled {
		return false
	}
	start, err := parseClock(p.QuietStartTime)
	if err != nil {
		return false
	}
	end, err := parseClock(p.QuietEndTime)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// parseClock converts "HH:MM" (or "HH:MM:SS") to minutes after midnight.
func parseClock(s string) (int, error) {
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

type Dog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
