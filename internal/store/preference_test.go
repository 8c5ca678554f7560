package store

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/kennel/internal/database"
	"github.com/dukerupert/kennel/internal/model"
)

func setupPreferenceTestDB(t *testing.T) *PreferenceStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPreferenceStore(db)
}

func TestPreferenceUpsertAndGet(t *testing.T) {
	ps := setupPreferenceTestDB(t)
	ctx := context.Background()

	p, err := ps.Upsert(ctx, &model.NotificationPreference{
		UserID:            "u1",
		DogID:             "d1",
		Categories:        map[model.Category]bool{model.CategoryTips: false},
		PriorityFilter:    model.PriorityHigh,
		DeviceTokens:      []string{"tok-1"},
		QuietHoursEnabled: true,
		QuietStartTime:    "21:30",
		QuietEndTime:      "06:00",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if p.PriorityFilter != model.PriorityHigh {
		t.Errorf("priority_filter = %q", p.PriorityFilter)
	}
	if p.CategoryEnabled(model.CategoryTips) {
		t.Error("tips should be disabled")
	}
	if !p.CategoryEnabled(model.CategoryMedical) {
		t.Error("missing category should be enabled")
	}
	if len(p.DeviceTokens) != 1 || p.DeviceTokens[0] != "tok-1" {
		t.Errorf("device_tokens = %v", p.DeviceTokens)
	}

	p.PriorityFilter = model.PriorityLow
	p, err = ps.Upsert(ctx, p)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if p.PriorityFilter != model.PriorityLow {
		t.Errorf("priority_filter after update = %q", p.PriorityFilter)
	}
}

func TestPreferenceUpsertInvalid(t *testing.T) {
	ps := setupPreferenceTestDB(t)
	_, err := ps.Upsert(context.Background(), &model.NotificationPreference{
		UserID:            "u1",
		QuietHoursEnabled: true,
		QuietStartTime:    "25:99",
		QuietEndTime:      "07:00",
	})
	if !errors.Is(err, model.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestPreferenceEffectiveFallback(t *testing.T) {
	ps := setupPreferenceTestDB(t)
	ctx := context.Background()

	p, err := ps.Effective(ctx, "u1", "d1")
	if err != nil {
		t.Fatalf("effective default: %v", err)
	}
	if p.PriorityFilter != model.PriorityLow || !p.CategoryEnabled(model.CategoryTips) {
		t.Errorf("default preference = %+v", p)
	}

	ps.Upsert(ctx, &model.NotificationPreference{UserID: "u1", PriorityFilter: model.PriorityMedium})
	p, _ = ps.Effective(ctx, "u1", "d1")
	if p.PriorityFilter != model.PriorityMedium {
		t.Errorf("user-wide fallback priority = %q, want medium", p.PriorityFilter)
	}

	ps.Upsert(ctx, &model.NotificationPreference{UserID: "u1", DogID: "d1", PriorityFilter: model.PriorityUrgent})
	p, _ = ps.Effective(ctx, "u1", "d1")
	if p.PriorityFilter != model.PriorityUrgent {
		t.Errorf("dog row priority = %q, want urgent", p.PriorityFilter)
	}
}

func TestPreferenceUpdateCategories(t *testing.T) {
	ps := setupPreferenceTestDB(t)
	ctx := context.Background()
	ps.Upsert(ctx, &model.NotificationPreference{UserID: "u1", VaccineReminders: false, RoutineReminders: true})

	err := ps.UpdateCategories(ctx, "u1", "", map[model.Category]bool{model.CategoryMedical: false})
	if err != nil {
		t.Fatalf("update categories: %v", err)
	}
	all, err := ps.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("rows = %d, want 1", len(all))
	}
	if all[0].CategoryEnabled(model.CategoryMedical) {
		t.Error("medical should be disabled")
	}
	if all[0].VaccineReminders || !all[0].RoutineReminders {
		t.Error("legacy flags should be unchanged")
	}
}

func TestPreferenceDeviceTokens(t *testing.T) {
	ps := setupPreferenceTestDB(t)
	ctx := context.Background()
	ps.Upsert(ctx, &model.NotificationPreference{UserID: "u1", DeviceTokens: []string{"a", "b"}})
	ps.Upsert(ctx, &model.NotificationPreference{UserID: "u1", DogID: "d1", DeviceTokens: []string{"b", "c"}})
	ps.Upsert(ctx, &model.NotificationPreference{UserID: "u2", DeviceTokens: []string{"z"}})

	toks, err := ps.DeviceTokens(ctx, "u1")
	if err != nil {
		t.Fatalf("device tokens: %v", err)
	}
	if len(toks) != 3 {
		t.Fatalf("tokens = %v, want a, b, c", toks)
	}
	seen := map[string]bool{}
	for _, tok := range toks {
		seen[tok] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Errorf("missing token %q in %v", want, toks)
		}
	}

	none, err := ps.DeviceTokens(ctx, "nobody")
	if err != nil || len(none) != 0 {
		t.Errorf("DeviceTokens(nobody) = %v, %v", none, err)
	}
}
