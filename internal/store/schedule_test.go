package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/kennel/internal/database"
	"github.com/dukerupert/kennel/internal/model"
)

func setupScheduleTestDB(t *testing.T) *ScheduleStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewScheduleStore(db)
}

func TestInsertScheduleForcesPending(t *testing.T) {
	ss := setupScheduleTestDB(t)
	ctx := context.Background()

	e, err := ss.Insert(ctx, &model.ScheduledNotification{
		UserID:         "u1",
		TemplateKey:    "weekly_tip",
		Variables:      map[string]string{"tip": "Cepilla sus dientes"},
		ScheduledFor:   time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		IsRecurring:    true,
		RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO",
		Status:         model.ScheduleStatusSent,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if e.Status != model.ScheduleStatusPending {
		t.Errorf("status = %q, want pending", e.Status)
	}
	if e.Variables["tip"] != "Cepilla sus dientes" {
		t.Errorf("variables = %v", e.Variables)
	}
	if e.RecurrenceRule != "FREQ=WEEKLY;BYDAY=MO" {
		t.Errorf("rule = %q", e.RecurrenceRule)
	}
}

func TestInsertScheduleUnknownTemplate(t *testing.T) {
	ss := setupScheduleTestDB(t)
	_, err := ss.Insert(context.Background(), &model.ScheduledNotification{
		UserID:       "u1",
		TemplateKey:  "no_such_template",
		ScheduledFor: time.Now(),
	})
	if err == nil {
		t.Fatal("expected foreign key error")
	}
}

func TestListDue(t *testing.T) {
	ss := setupScheduleTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	for _, at := range []time.Time{now.Add(time.Hour), now.Add(-time.Hour), now.Add(-2 * time.Hour), now} {
		if _, err := ss.Insert(ctx, &model.ScheduledNotification{UserID: "u1", TemplateKey: "weekly_tip", ScheduledFor: at}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	due, err := ss.ListDue(ctx, now)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("due = %d, want 3", len(due))
	}
	for i := 1; i < len(due); i++ {
		if due[i].ScheduledFor.Before(due[i-1].ScheduledFor) {
			t.Errorf("due not ordered by scheduled_for: %v", due)
		}
	}
}

func TestTransitionOnlyFromPending(t *testing.T) {
	ss := setupScheduleTestDB(t)
	ctx := context.Background()
	e, _ := ss.Insert(ctx, &model.ScheduledNotification{UserID: "u1", TemplateKey: "weekly_tip", ScheduledFor: time.Now()})

	notifID := "n-1"
	at := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	ok, err := ss.Transition(ctx, e.ID, model.ScheduleStatusSent, "", &notifID, at)
	if err != nil || !ok {
		t.Fatalf("transition to sent = %v, %v", ok, err)
	}
	got, _ := ss.GetByID(ctx, e.ID)
	if got.Status != model.ScheduleStatusSent {
		t.Errorf("status = %q, want sent", got.Status)
	}
	if got.SentAt == nil || !got.SentAt.Equal(at) {
		t.Errorf("sent_at = %v, want %v", got.SentAt, at)
	}
	if got.NotificationID == nil || *got.NotificationID != "n-1" {
		t.Errorf("notification_id = %v", got.NotificationID)
	}

	ok, err = ss.Transition(ctx, e.ID, model.ScheduleStatusCancelled, "", nil, at)
	if err != nil {
		t.Fatalf("transition sent->cancelled: %v", err)
	}
	if ok {
		t.Error("sent entry must not move to cancelled")
	}

	if _, err := ss.Transition(ctx, e.ID, model.ScheduleStatusPending, "", nil, at); err == nil {
		t.Error("expected error moving to pending")
	}
}

func TestHasPending(t *testing.T) {
	ss := setupScheduleTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 6, 7, 0, 0, 0, time.UTC)
	dog := "d1"

	ss.Insert(ctx, &model.ScheduledNotification{UserID: "u1", DogID: &dog, TemplateKey: "walk_reminder", ScheduledFor: at})

	e, _ := ss.Insert(ctx, &model.ScheduledNotification{UserID: "u1", TemplateKey: "weekly_tip", ScheduledFor: at})

	ok, err := ss.HasPending(ctx, "u1", &dog, "walk_reminder")
	if err != nil || !ok {
		t.Errorf("has pending = %v, %v, want true", ok, err)
	}
	ok, _ = ss.HasPending(ctx, "u1", nil, "walk_reminder")
	if ok {
		t.Error("user-wide lookup should not match dog entry")
	}
	ok, _ = ss.HasPending(ctx, "u1", nil, "weekly_tip")
	if !ok {
		t.Error("user-wide entry should match")
	}

	ss.Transition(ctx, e.ID, model.ScheduleStatusSent, "", nil, at)
	ok, _ = ss.HasPending(ctx, "u1", nil, "weekly_tip")
	if ok {
		t.Error("sent entry should not count as pending")
	}
}

func TestListSchedulesByUser(t *testing.T) {
	ss := setupScheduleTestDB(t)
	ctx := context.Background()
	a, _ := ss.Insert(ctx, &model.ScheduledNotification{UserID: "u1", TemplateKey: "weekly_tip", ScheduledFor: time.Now()})
	ss.Insert(ctx, &model.ScheduledNotification{UserID: "u1", TemplateKey: "weekly_tip", ScheduledFor: time.Now().Add(time.Hour)})
	ss.Insert(ctx, &model.ScheduledNotification{UserID: "u2", TemplateKey: "weekly_tip", ScheduledFor: time.Now()})
	ss.Transition(ctx, a.ID, model.ScheduleStatusCancelled, "", nil, time.Now())

	all, err := ss.ListByUser(ctx, "u1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
	pending, _ := ss.ListByUser(ctx, "u1", model.ScheduleStatusPending)
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}
