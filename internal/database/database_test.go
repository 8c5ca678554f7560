package database

import "testing"

func TestOpenRunsMigrations(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	v, err := Version(db)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 2 {
		t.Errorf("version = %d, want >= 2", v)
	}

	tables := []string{
		"notifications",
		"notification_templates",
		"notification_preferences",
		"scheduled_notifications",
		"push_subscriptions",
		"notification_logs",
		"notifications_backup",
		"dogs",
	}
	for _, name := range tables {
		var got string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&got)
		if err != nil {
			t.Errorf("table %s missing: %v", name, err)
		}
	}
}

func TestSeededTemplates(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM notification_templates WHERE is_active = 1`).Scan(&count); err != nil {
		t.Fatalf("count templates: %v", err)
	}
	if count < 9 {
		t.Errorf("active templates = %d, want >= 9", count)
	}

	var title string
	if err := db.QueryRow(`SELECT title_pattern FROM notification_templates WHERE template_key = 'transport_started'`).Scan(&title); err != nil {
		t.Fatalf("get transport_started: %v", err)
	}
	if title == "" {
		t.Error("transport_started title pattern is empty")
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(
		`INSERT INTO scheduled_notifications (id, user_id, template_key, scheduled_for, created_at, updated_at)
		 VALUES ('s1', 'u1', 'no_such_template', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
	)
	if err == nil {
		t.Fatal("expected foreign key violation for unknown template_key")
	}
}
