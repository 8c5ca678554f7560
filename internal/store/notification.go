package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/kennel/internal/model"
)

type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

const notificationCols = `id, user_id, dog_id, title, message, category, priority, read, read_at, data, delivery_confirmed, created_at, sent_at, expires_at`

func scanNotification(sc scanner) (*model.Notification, error) {
	var n model.Notification
	var dogID, category, priority sql.NullString
	var readAt, sentAt, expiresAt sql.NullTime
	var confirmed sql.NullInt64
	var read int
	var data string

	err := sc.Scan(
		&n.ID, &n.UserID, &dogID, &n.Title, &n.Message, &category, &priority,
		&read, &readAt, &data, &confirmed, &n.CreatedAt, &sentAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	n.DogID = stringPtr(dogID)
	n.Category = model.Category(category.String)
	n.Priority = model.Priority(priority.String)
	n.Read = read != 0
	n.ReadAt = timePtr(readAt)
	n.SentAt = timePtr(sentAt)
	n.ExpiresAt = timePtr(expiresAt)
	if confirmed.Valid {
		c := confirmed.Int64 != 0
		n.DeliveryConfirmed = &c
	}
	if err := unmarshalJSON(data, &n.Data); err != nil {
		return nil, err
	}
	return &n, nil
}

// Insert validates and stores n, assigning an ID and created_at when unset.
func (s *NotificationStore) Insert(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	if err := insertNotification(ctx, s.db, n); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, n.ID)
}

// InsertWithLog stores n and its first delivery log row atomically. The log's
// notification and user ids are taken from n.
func (s *NotificationStore) InsertWithLog(ctx context.Context, n *model.Notification, l *model.NotificationLog) (*model.Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertNotification(ctx, tx, n); err != nil {
		return nil, err
	}
	l.NotificationID = n.ID
	l.UserID = n.UserID
	if err := appendLog(ctx, tx, l); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit notification: %w", err)
	}
	return s.GetByID(ctx, n.ID)
}

func insertNotification(ctx context.Context, ex execer, n *model.Notification) error {
	if n.ID == "" {
		n.ID = newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := n.Validate(); err != nil {
		return err
	}

	data, err := marshalJSON(n.Data, "{}")
	if err != nil {
		return err
	}
	var confirmed sql.NullInt64
	if n.DeliveryConfirmed != nil {
		confirmed = sql.NullInt64{Int64: int64(boolInt(*n.DeliveryConfirmed)), Valid: true}
	}

	_, err = ex.ExecContext(ctx,
		`INSERT INTO notifications (`+notificationCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, nullString(n.DogID), n.Title, n.Message, string(n.Category), string(n.Priority),
		boolInt(n.Read), nullTime(n.ReadAt), data, confirmed, n.CreatedAt.UTC(), nullTime(n.SentAt), nullTime(n.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *NotificationStore) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// List returns a user's notifications, newest first.
func (s *NotificationStore) List(ctx context.Context, userID string, limit, offset int) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationCols+` FROM notifications
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// ListAll returns every notification ordered by creation time.
func (s *NotificationStore) ListAll(ctx context.Context) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+notificationCols+` FROM notifications ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list all notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func scanNotifications(rows *sql.Rows) ([]model.Notification, error) {
	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkRead sets read=1. read_at keeps its first value on repeat calls.
// Returns nil, nil when the notification does not exist.
func (s *NotificationStore) MarkRead(ctx context.Context, id string, at time.Time) (*model.Notification, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1, read_at = COALESCE(read_at, ?) WHERE id = ?`,
		at.UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

// Delete removes a notification. Returns false when it did not exist.
func (s *NotificationStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete notification: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *NotificationStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// UpdateClassification writes back category, priority and expiration.
func (s *NotificationStore) UpdateClassification(ctx context.Context, id string, category model.Category, priority model.Priority, expiresAt *time.Time) error {
	if !category.Valid() || !priority.Valid() {
		return fmt.Errorf("%w: classification %q/%q", model.ErrInvalid, category, priority)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET category = ?, priority = ?, expires_at = ? WHERE id = ?`,
		string(category), string(priority), nullTime(expiresAt), id,
	)
	if err != nil {
		return fmt.Errorf("update notification classification: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("update notification classification: %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// SetSent stamps sent_at and the optional delivery confirmation.
func (s *NotificationStore) SetSent(ctx context.Context, id string, at time.Time, confirmed *bool) error {
	var c sql.NullInt64
	if confirmed != nil {
		c = sql.NullInt64{Int64: int64(boolInt(*confirmed)), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET sent_at = ?, delivery_confirmed = COALESCE(?, delivery_confirmed) WHERE id = ?`,
		at.UTC(), c, id,
	)
	if err != nil {
		return fmt.Errorf("set notification sent: %w", err)
	}
	return nil
}

// ExpireOlderThan sets expires_at = now on notifications created before
// cutoff that have no expiration yet.
func (s *NotificationStore) ExpireOlderThan(ctx context.Context, cutoff, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET expires_at = ? WHERE expires_at IS NULL AND created_at < ?`,
		now.UTC(), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("expire old notifications: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DistinctUserIDs returns every user that owns at least one notification.
func (s *NotificationStore) DistinctUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM notifications ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list notification users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Backup copies every notification row into notifications_backup and returns
// the number of rows copied.
func (s *NotificationStore) Backup(ctx context.Context, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications_backup (`+notificationCols+`, backed_up_at)
		 SELECT `+notificationCols+`, ? FROM notifications`,
		at.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("backup notifications: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (s *NotificationStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return n, nil
}
