package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/kennel/internal/model"
)

type PreferenceStore struct {
	db *sql.DB
}

func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

const preferenceCols = `user_id, dog_id, categories, priority_filter, device_tokens, quiet_hours_enabled, quiet_start_time, quiet_end_time, vaccine_reminders, routine_reminders, created_at, updated_at`

func scanPreference(sc scanner) (*model.NotificationPreference, error) {
	var p model.NotificationPreference
	var cats, tokens, filter string
	var quiet, vaccine, routine int
	err := sc.Scan(&p.UserID, &p.DogID, &cats, &filter, &tokens, &quiet,
		&p.QuietStartTime, &p.QuietEndTime, &vaccine, &routine, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.PriorityFilter = model.Priority(filter)
	p.QuietHoursEnabled = quiet != 0
	p.VaccineReminders = vaccine != 0
	p.RoutineReminders = routine != 0
	if err := unmarshalJSON(cats, &p.Categories); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tokens, &p.DeviceTokens); err != nil {
		return nil, err
	}
	return &p, nil
}

// Get returns the preference row for (userID, dogID), or nil when none exists.
func (s *PreferenceStore) Get(ctx context.Context, userID, dogID string) (*model.NotificationPreference, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+preferenceCols+` FROM notification_preferences WHERE user_id = ? AND dog_id = ?`,
		userID, dogID,
	)
	p, err := scanPreference(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification preference: %w", err)
	}
	return p, nil
}

// Effective returns the dog-specific row, falling back to the user-wide row
// and then to defaults.
func (s *PreferenceStore) Effective(ctx context.Context, userID, dogID string) (model.NotificationPreference, error) {
	if dogID != "" {
		p, err := s.Get(ctx, userID, dogID)
		if err != nil {
			return model.NotificationPreference{}, err
		}
		if p != nil {
			return *p, nil
		}
	}
	p, err := s.Get(ctx, userID, "")
	if err != nil {
		return model.NotificationPreference{}, err
	}
	if p != nil {
		return *p, nil
	}
	return model.DefaultPreference(userID, dogID), nil
}

func (s *PreferenceStore) Upsert(ctx context.Context, p *model.NotificationPreference) (*model.NotificationPreference, error) {
	if p.PriorityFilter == "" {
		p.PriorityFilter = model.PriorityLow
	}
	if p.QuietStartTime == "" {
		p.QuietStartTime = "22:00"
	}
	if p.QuietEndTime == "" {
		p.QuietEndTime = "07:00"
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	cats, err := marshalJSON(p.Categories, "{}")
	if err != nil {
		return nil, err
	}
	tokens, err := marshalJSON(p.DeviceTokens, "[]")
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notification_preferences (`+preferenceCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, dog_id) DO UPDATE SET
		   categories = excluded.categories,
		   priority_filter = excluded.priority_filter,
		   device_tokens = excluded.device_tokens,
		   quiet_hours_enabled = excluded.quiet_hours_enabled,
		   quiet_start_time = excluded.quiet_start_time,
		   quiet_end_time = excluded.quiet_end_time,
		   vaccine_reminders = excluded.vaccine_reminders,
		   routine_reminders = excluded.routine_reminders,
		   updated_at = excluded.updated_at`,
		p.UserID, p.DogID, cats, string(p.PriorityFilter), tokens, boolInt(p.QuietHoursEnabled),
		p.QuietStartTime, p.QuietEndTime, boolInt(p.VaccineReminders), boolInt(p.RoutineReminders), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert notification preference: %w", err)
	}
	return s.Get(ctx, p.UserID, p.DogID)
}

func (s *PreferenceStore) ListAll(ctx context.Context) ([]model.NotificationPreference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+preferenceCols+` FROM notification_preferences ORDER BY user_id, dog_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list notification preferences: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationPreference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification preference: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateCategories replaces only the categories map of an existing row.
func (s *PreferenceStore) UpdateCategories(ctx context.Context, userID, dogID string, cats map[model.Category]bool) error {
	raw, err := marshalJSON(cats, "{}")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE notification_preferences SET categories = ?, updated_at = ? WHERE user_id = ? AND dog_id = ?`,
		raw, time.Now().UTC(), userID, dogID,
	)
	if err != nil {
		return fmt.Errorf("update preference categories: %w", err)
	}
	return nil
}

// DeviceTokens returns the distinct FCM tokens across all of a user's rows.
func (s *PreferenceStore) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_tokens FROM notification_preferences WHERE user_id = ? ORDER BY dog_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	defer rows.Close()

	var raws []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan device tokens: %w", err)
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	for _, raw := range raws {
		var toks []string
		if err := unmarshalJSON(raw, &toks); err != nil {
			return nil, err
		}
		for _, tok := range toks {
			if tok != "" && !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
		}
	}
	return out, nil
}
