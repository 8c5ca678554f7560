package notify

import (
	"time"

	"github.com/dukerupert/kennel/internal/model"
)

// Reasons a push is withheld. The empty string means deliver.
const (
	SkipCategoryDisabled = "category_disabled"
	SkipBelowPriority    = "below_priority_filter"
	SkipQuietHours       = "quiet_hours"
)

// Gate decides whether n may be pushed under pref at local time now.
// Urgent notifications ignore quiet hours but not the category switch.
func Gate(pref model.NotificationPreference, n *model.Notification, now time.Time) string {
	if !pref.CategoryEnabled(n.Category) {
		return SkipCategoryDisabled
	}
	if pref.PriorityFilter != "" && !n.Priority.AtLeast(pref.PriorityFilter) {
		return SkipBelowPriority
	}
	if n.Priority != model.PriorityUrgent && pref.InQuietHours(now) {
		return SkipQuietHours
	}
	return ""
}
