package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/kennel/internal/model"
)

// ErrEndpointTaken is returned when an active endpoint already belongs to a
// different user.
var ErrEndpointTaken = errors.New("push endpoint is registered to another user")

type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionCols = `id, user_id, endpoint, p256dh_key, auth_key, device_type, browser_name, is_active, last_used_at, created_at`

func scanSubscription(sc scanner) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	var active int
	var lastUsed sql.NullTime
	err := sc.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey,
		&sub.DeviceType, &sub.BrowserName, &active, &lastUsed, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	sub.IsActive = active != 0
	sub.LastUsedAt = timePtr(lastUsed)
	return &sub, nil
}

// Upsert registers a subscription. An endpoint the caller already owns gets
// the new keys and is reactivated. An inactive endpoint may change owner; an
// active one owned by someone else is refused with ErrEndpointTaken.
func (s *SubscriptionStore) Upsert(ctx context.Context, sub *model.PushSubscription) (*model.PushSubscription, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if sub.ID == "" {
		sub.ID = newID()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh_key, auth_key, device_type, browser_name, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET
		   user_id = excluded.user_id,
		   p256dh_key = excluded.p256dh_key,
		   auth_key = excluded.auth_key,
		   device_type = excluded.device_type,
		   browser_name = excluded.browser_name,
		   is_active = 1
		 WHERE push_subscriptions.user_id = excluded.user_id OR push_subscriptions.is_active = 0`,
		sub.ID, sub.UserID, sub.Endpoint, sub.P256dhKey, sub.AuthKey, sub.DeviceType, sub.BrowserName, sub.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}
	saved, err := s.GetByEndpoint(ctx, sub.Endpoint)
	if err != nil {
		return nil, err
	}
	if saved == nil || saved.UserID != sub.UserID {
		return nil, ErrEndpointTaken
	}
	return saved, nil
}

func (s *SubscriptionStore) GetByEndpoint(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription by endpoint: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) ListByUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by user: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListActiveByUser returns the subscriptions a push fan-out should target.
func (s *SubscriptionStore) ListActiveByUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionCols+` FROM push_subscriptions
		 WHERE user_id = ? AND is_active = 1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active push subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// Deactivate marks a subscription inactive. The row is kept so a later
// subscribe on the same endpoint revives it.
func (s *SubscriptionStore) Deactivate(ctx context.Context, endpoint string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE push_subscriptions SET is_active = 0 WHERE endpoint = ?`, endpoint,
	)
	if err != nil {
		return false, fmt.Errorf("deactivate push subscription: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// DeactivateForUser deactivates endpoint only when it belongs to userID and
// stamps last_used_at with the time of the unsubscribe.
func (s *SubscriptionStore) DeactivateForUser(ctx context.Context, userID, endpoint string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE push_subscriptions SET is_active = 0, last_used_at = ? WHERE endpoint = ? AND user_id = ?`,
		at.UTC(), endpoint, userID,
	)
	if err != nil {
		return false, fmt.Errorf("deactivate push subscription: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Touch records a successful delivery on the subscription.
func (s *SubscriptionStore) Touch(ctx context.Context, endpoint string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE push_subscriptions SET last_used_at = ? WHERE endpoint = ?`, at.UTC(), endpoint,
	)
	if err != nil {
		return fmt.Errorf("touch push subscription: %w", err)
	}
	return nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
