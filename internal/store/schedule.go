package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/kennel/internal/model"
)

type ScheduleStore struct {
	db *sql.DB
}

func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

const scheduleCols = `id, user_id, dog_id, template_key, variables, scheduled_for, is_recurring, recurrence_rule, status, error, notification_id, sent_at, created_at, updated_at`

func scanSchedule(sc scanner) (*model.ScheduledNotification, error) {
	var e model.ScheduledNotification
	var dogID, rule, notifID sql.NullString
	var sentAt sql.NullTime
	var recurring int
	var vars, status string

	err := sc.Scan(&e.ID, &e.UserID, &dogID, &e.TemplateKey, &vars, &e.ScheduledFor,
		&recurring, &rule, &status, &e.Error, &notifID, &sentAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.DogID = stringPtr(dogID)
	e.IsRecurring = recurring != 0
	e.RecurrenceRule = rule.String
	e.Status = model.ScheduleStatus(status)
	e.NotificationID = stringPtr(notifID)
	e.SentAt = timePtr(sentAt)
	if err := unmarshalJSON(vars, &e.Variables); err != nil {
		return nil, err
	}
	return &e, nil
}

// Insert stores a new pending entry.
func (s *ScheduleStore) Insert(ctx context.Context, e *model.ScheduledNotification) (*model.ScheduledNotification, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.ID == "" {
		e.ID = newID()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	e.Status = model.ScheduleStatusPending

	vars, err := marshalJSON(e.Variables, "{}")
	if err != nil {
		return nil, err
	}
	rule := sql.NullString{String: e.RecurrenceRule, Valid: e.RecurrenceRule != ""}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_notifications (`+scheduleCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', NULL, NULL, ?, ?)`,
		e.ID, e.UserID, nullString(e.DogID), e.TemplateKey, vars, e.ScheduledFor.UTC(),
		boolInt(e.IsRecurring), rule, string(e.Status), e.CreatedAt.UTC(), e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert scheduled notification: %w", err)
	}
	return s.GetByID(ctx, e.ID)
}

func (s *ScheduleStore) GetByID(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM scheduled_notifications WHERE id = ?`, id)
	e, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled notification: %w", err)
	}
	return e, nil
}

// ListDue returns pending entries with scheduled_for <= now, oldest first.
func (s *ScheduleStore) ListDue(ctx context.Context, now time.Time) ([]model.ScheduledNotification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM scheduled_notifications
		 WHERE status = 'pending' AND scheduled_for <= ?
		 ORDER BY scheduled_for, id`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list due scheduled notifications: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (s *ScheduleStore) ListByUser(ctx context.Context, userID string, status model.ScheduleStatus) ([]model.ScheduledNotification, error) {
	query := `SELECT ` + scheduleCols + ` FROM scheduled_notifications WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY scheduled_for, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scheduled notifications: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// Transition moves a pending entry to next. It returns false when the entry
// was no longer pending, so concurrent ticks cannot both claim it.
func (s *ScheduleStore) Transition(ctx context.Context, id string, next model.ScheduleStatus, errMsg string, notificationID *string, at time.Time) (bool, error) {
	if !model.ScheduleStatusPending.CanTransition(next) {
		return false, fmt.Errorf("%w: cannot move scheduled notification to %q", model.ErrInvalid, next)
	}
	var sentAt sql.NullTime
	if next == model.ScheduleStatusSent {
		sentAt = sql.NullTime{Time: at.UTC(), Valid: true}
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications
		 SET status = ?, error = ?, notification_id = COALESCE(?, notification_id), sent_at = COALESCE(?, sent_at), updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		string(next), errMsg, nullString(notificationID), sentAt, at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("update scheduled notification status: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Claim moves a due pending entry to sent before it fires. It returns false
// when the entry is no longer pending (cancelled, or claimed by another tick).
func (s *ScheduleStore) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.Transition(ctx, id, model.ScheduleStatusSent, "", nil, at)
}

// Settle records the outcome of a claimed entry. A non-empty errMsg turns
// the claim into failed; otherwise the created notification is linked.
func (s *ScheduleStore) Settle(ctx context.Context, id string, notificationID *string, errMsg string, at time.Time) error {
	var err error
	if errMsg != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE scheduled_notifications
			 SET status = 'failed', error = ?, sent_at = NULL, updated_at = ?
			 WHERE id = ? AND status = 'sent'`,
			errMsg, at.UTC(), id,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE scheduled_notifications SET notification_id = ?, updated_at = ?
			 WHERE id = ? AND status = 'sent'`,
			nullString(notificationID), at.UTC(), id,
		)
	}
	if err != nil {
		return fmt.Errorf("settle scheduled notification: %w", err)
	}
	return nil
}

// HasPending reports whether the user already has a pending entry for
// templateKey on the same dog (nil dogID matches only user-wide entries).
func (s *ScheduleStore) HasPending(ctx context.Context, userID string, dogID *string, templateKey string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scheduled_notifications
		 WHERE user_id = ? AND COALESCE(dog_id, '') = COALESCE(?, '') AND template_key = ?
		   AND status = 'pending'`,
		userID, nullString(dogID), templateKey,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check pending scheduled notification: %w", err)
	}
	return count > 0, nil
}

func scanSchedules(rows *sql.Rows) ([]model.ScheduledNotification, error) {
	var out []model.ScheduledNotification
	for rows.Next() {
		e, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled notification: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
