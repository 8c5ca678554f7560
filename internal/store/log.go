package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/kennel/internal/model"
)

// LogStore is the append-only delivery audit trail.
type LogStore struct {
	db *sql.DB
}

func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

const logCols = `id, notification_id, user_id, title, body, category, priority, sent_push, delivery_status, opened_at, sent_at`

func (s *LogStore) Append(ctx context.Context, l *model.NotificationLog) (*model.NotificationLog, error) {
	if err := appendLog(ctx, s.db, l); err != nil {
		return nil, err
	}
	return l, nil
}

func appendLog(ctx context.Context, ex execer, l *model.NotificationLog) error {
	if l.ID == "" {
		l.ID = newID()
	}
	if l.SentAt.IsZero() {
		l.SentAt = time.Now().UTC()
	}
	if l.DeliveryStatus == "" {
		l.DeliveryStatus = model.DeliveryStatusSent
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO notification_logs (`+logCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.NotificationID, l.UserID, l.Title, l.Body, string(l.Category), string(l.Priority),
		boolInt(l.SentPush), l.DeliveryStatus, nullTime(l.OpenedAt), l.SentAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append notification log: %w", err)
	}
	return nil
}

func (s *LogStore) ListByNotification(ctx context.Context, notificationID string) ([]model.NotificationLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logCols+` FROM notification_logs WHERE notification_id = ? ORDER BY sent_at, id`,
		notificationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notification logs: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationLog
	for rows.Next() {
		var l model.NotificationLog
		var cat, pri string
		var sentPush int
		var opened sql.NullTime
		if err := rows.Scan(&l.ID, &l.NotificationID, &l.UserID, &l.Title, &l.Body, &cat, &pri,
			&sentPush, &l.DeliveryStatus, &opened, &l.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		l.Category = model.Category(cat)
		l.Priority = model.Priority(pri)
		l.SentPush = sentPush != 0
		l.OpenedAt = timePtr(opened)
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkOpened stamps opened_at on every log row of a notification that has
// not been opened yet.
func (s *LogStore) MarkOpened(ctx context.Context, notificationID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_logs SET opened_at = ? WHERE notification_id = ? AND opened_at IS NULL`,
		at.UTC(), notificationID,
	)
	if err != nil {
		return fmt.Errorf("mark notification log opened: %w", err)
	}
	return nil
}

// Count returns the number of log rows, optionally filtered by status.
func (s *LogStore) Count(ctx context.Context, status string) (int64, error) {
	query := `SELECT COUNT(*) FROM notification_logs`
	var args []any
	if status != "" {
		query += ` WHERE delivery_status = ?`
		args = append(args, status)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notification logs: %w", err)
	}
	return n, nil
}
