package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/kennel/internal/model"
)

type TemplateStore struct {
	db *sql.DB
}

func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

const templateCols = `template_key, name, category, title_pattern, body_pattern, is_active, created_at`

func scanTemplate(sc scanner) (*model.NotificationTemplate, error) {
	var t model.NotificationTemplate
	var category string
	var active int
	if err := sc.Scan(&t.Key, &t.Name, &category, &t.TitlePattern, &t.BodyPattern, &active, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Category = model.Category(category)
	t.IsActive = active != 0
	return &t, nil
}

// GetTemplate returns the template with key whether or not it is active.
func (s *TemplateStore) GetTemplate(ctx context.Context, key string) (*model.NotificationTemplate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateCols+` FROM notification_templates WHERE template_key = ?`, key)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *TemplateStore) List(ctx context.Context, activeOnly bool) ([]model.NotificationTemplate, error) {
	query := `SELECT ` + templateCols + ` FROM notification_templates`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY template_key`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces a template definition. The key is never renamed.
func (s *TemplateStore) Upsert(ctx context.Context, t *model.NotificationTemplate) (*model.NotificationTemplate, error) {
	if strings.TrimSpace(t.Key) == "" {
		return nil, fmt.Errorf("%w: template_key is required", model.ErrInvalid)
	}
	if t.TitlePattern == "" {
		return nil, fmt.Errorf("%w: title_pattern is required", model.ErrInvalid)
	}
	if t.Category == "" {
		t.Category = model.CategoryGeneral
	}
	if !t.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", model.ErrInvalid, t.Category)
	}
	if t.Name == "" {
		t.Name = t.Key
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_templates (`+templateCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(template_key) DO UPDATE SET
		   name = excluded.name,
		   category = excluded.category,
		   title_pattern = excluded.title_pattern,
		   body_pattern = excluded.body_pattern,
		   is_active = excluded.is_active`,
		t.Key, t.Name, string(t.Category), t.TitlePattern, t.BodyPattern, boolInt(t.IsActive), t.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert template: %w", err)
	}
	return s.GetTemplate(ctx, t.Key)
}

// InsertIfMissing adds t only when no template with its key exists.
// Reports whether a row was inserted.
func (s *TemplateStore) InsertIfMissing(ctx context.Context, t model.NotificationTemplate) (bool, error) {
	if t.Category == "" {
		t.Category = model.CategoryGeneral
	}
	if t.Name == "" {
		t.Name = t.Key
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notification_templates (`+templateCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Key, t.Name, string(t.Category), t.TitlePattern, t.BodyPattern, boolInt(t.IsActive), time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("seed template %s: %w", t.Key, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *TemplateStore) SetActive(ctx context.Context, key string, active bool) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notification_templates SET is_active = ? WHERE template_key = ?`, boolInt(active), key,
	)
	if err != nil {
		return false, fmt.Errorf("set template active: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}
