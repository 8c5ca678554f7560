package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/kennel/internal/model"
)

type DogStore struct {
	db *sql.DB
}

func NewDogStore(db *sql.DB) *DogStore {
	return &DogStore{db: db}
}

func (s *DogStore) Create(ctx context.Context, userID, name string) (*model.Dog, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: dog user_id and name are required", model.ErrInvalid)
	}
	d := model.Dog{
		ID:        newID(),
		UserID:    userID,
		Name:      name,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dogs (id, user_id, name, is_active, created_at) VALUES (?, ?, ?, 1, ?)`,
		d.ID, d.UserID, d.Name, d.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create dog: %w", err)
	}
	return &d, nil
}

// ListActive returns active dogs across all users.
func (s *DogStore) ListActive(ctx context.Context) ([]model.Dog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, is_active, created_at FROM dogs WHERE is_active = 1 ORDER BY user_id, created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active dogs: %w", err)
	}
	defer rows.Close()

	var dogs []model.Dog
	for rows.Next() {
		var d model.Dog
		var active int
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &active, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dog: %w", err)
		}
		d.IsActive = active != 0
		dogs = append(dogs, d)
	}
	return dogs, rows.Err()
}

func (s *DogStore) SetActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE dogs SET is_active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("set dog active: %w", err)
	}
	return nil
}
