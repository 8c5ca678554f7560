package store

import (
	"context"
	"testing"

	"github.com/dukerupert/kennel/internal/database"
	"github.com/dukerupert/kennel/internal/model"
)

func setupTemplateTestDB(t *testing.T) *TemplateStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTemplateStore(db)
}

func TestGetSeededTemplate(t *testing.T) {
	ts := setupTemplateTestDB(t)
	tpl, err := ts.GetTemplate(context.Background(), "transport_started")
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if tpl == nil {
		t.Fatal("transport_started not seeded")
	}
	if !tpl.IsActive {
		t.Error("seeded template should be active")
	}
	if tpl.Category != model.CategoryTransport {
		t.Errorf("category = %q, want transport", tpl.Category)
	}
}

func TestGetTemplateMissing(t *testing.T) {
	ts := setupTemplateTestDB(t)
	tpl, err := ts.GetTemplate(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if tpl != nil {
		t.Error("expected nil for unknown key")
	}
}

func TestTemplateUpsertAndSetActive(t *testing.T) {
	ts := setupTemplateTestDB(t)
	ctx := context.Background()

	_, err := ts.Upsert(ctx, &model.NotificationTemplate{
		Key:          "grooming_done",
		TitlePattern: "{dogName} está listo",
		BodyPattern:  "Puedes recogerlo",
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ok, err := ts.SetActive(ctx, "grooming_done", false)
	if err != nil || !ok {
		t.Fatalf("set active = %v, %v", ok, err)
	}

	active, err := ts.List(ctx, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, tpl := range active {
		if tpl.Key == "grooming_done" {
			t.Error("inactive template listed as active")
		}
	}
	all, _ := ts.List(ctx, false)
	if len(all) != len(active)+1 {
		t.Errorf("all = %d, active = %d", len(all), len(active))
	}
}

func TestInsertIfMissing(t *testing.T) {
	ts := setupTemplateTestDB(t)
	ctx := context.Background()

	inserted, err := ts.InsertIfMissing(ctx, model.NotificationTemplate{Key: "weekly_tip", TitlePattern: "x", IsActive: true})
	if err != nil {
		t.Fatalf("insert if missing: %v", err)
	}
	if inserted {
		t.Error("existing template should not be replaced")
	}
	tpl, _ := ts.GetTemplate(ctx, "weekly_tip")
	if tpl.TitlePattern == "x" {
		t.Error("existing pattern was overwritten")
	}
}
