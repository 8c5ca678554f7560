// Package migrate brings legacy notification data into the current shape:
// classification, delivery logs, per-category preferences and the default
// recurring schedules.
package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/kennel/internal/classify"
	"github.com/dukerupert/kennel/internal/model"
	"github.com/dukerupert/kennel/internal/scheduler"
	"github.com/dukerupert/kennel/internal/store"
)

const (
	WeeklyTipTemplate    = "weekly_tip"
	WalkReminderTemplate = "walk_reminder"

	weeklyTipRule    = "FREQ=WEEKLY;BYDAY=MO"
	walkReminderRule = "FREQ=DAILY"

	defaultTip = "Mantén a tu perro hidratado y revisa sus patas después de cada paseo."
)

// RowError is a per-row failure. It never aborts the run.
type RowError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// StepResult records the outcome of one step.
type StepResult struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
	Error string `json:"error,omitempty"`
}

type BackupInfo struct {
	Created bool   `json:"created"`
	Rows    int64  `json:"rows"`
	S3Key   string `json:"s3_key,omitempty"`
	Bytes   int64  `json:"bytes,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report is returned to the caller and not persisted.
type Report struct {
	StartedAt          time.Time    `json:"started_at"`
	FinishedAt         time.Time    `json:"finished_at"`
	Total              int          `json:"total"`
	Successful         int          `json:"successful"`
	Failed             int          `json:"failed"`
	SuccessRate        float64      `json:"success_rate"`
	Backup             BackupInfo   `json:"backup"`
	Failures           []RowError   `json:"failures"`
	PreferencesUpdated int          `json:"preferences_updated"`
	TipsSeeded         int          `json:"tips_seeded"`
	WalksSeeded        int          `json:"walks_seeded"`
	Expired            int64        `json:"expired"`
	Steps              []StepResult `json:"steps"`
}

// SnapshotUploader stores an encrypted copy of the pre-migration rows.
type SnapshotUploader interface {
	Upload(ctx context.Context, key string, plaintext []byte) (int64, error)
}

type Migrator struct {
	notifications *store.NotificationStore
	logs          *store.LogStore
	prefs         *store.PreferenceStore
	dogs          *store.DogStore
	sched         *scheduler.Scheduler
	classifier    classify.Classifier

	uploader SnapshotUploader
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Migrator)

// WithUploader enables the off-site snapshot in the backup step.
func WithUploader(u SnapshotUploader) Option {
	return func(m *Migrator) { m.uploader = u }
}

// WithLocation sets the zone seeded schedules are anchored in.
func WithLocation(loc *time.Location) Option {
	return func(m *Migrator) {
		if loc != nil {
			m.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Migrator) { m.now = now }
}

func New(
	notifications *store.NotificationStore,
	logs *store.LogStore,
	prefs *store.PreferenceStore,
	dogs *store.DogStore,
	sched *scheduler.Scheduler,
	classifier classify.Classifier,
	logger *slog.Logger,
	opts ...Option,
) *Migrator {
	m := &Migrator{
		notifications: notifications,
		logs:          logs,
		prefs:         prefs,
		dogs:          dogs,
		sched:         sched,
		classifier:    classifier,
		loc:           time.UTC,
		now:           time.Now,
		logger:        logger.With("component", "migrate"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes every step in order. A failing step is recorded and the next
// step still runs.
func (m *Migrator) Run(ctx context.Context) *Report {
	now := m.now()
	r := &Report{StartedAt: now.UTC(), Failures: []RowError{}}
	m.logger.Info("migration started")

	m.step(r, "backup", func() (int64, error) { return m.backup(ctx, r, now) })
	m.step(r, "classify", func() (int64, error) { return m.classifyRows(ctx, r) })
	m.step(r, "preferences", func() (int64, error) { return m.expandPreferences(ctx, r) })
	m.step(r, "seed_schedules", func() (int64, error) { return m.seedSchedules(ctx, r, now) })
	m.step(r, "expire", func() (int64, error) {
		n, err := m.notifications.ExpireOlderThan(ctx, now.AddDate(0, -6, 0), now)
		r.Expired = n
		return n, err
	})

	if r.Total > 0 {
		r.SuccessRate = float64(r.Successful) / float64(r.Total) * 100
	}
	r.FinishedAt = m.now().UTC()
	m.logger.Info("migration finished",
		"total", r.Total,
		"successful", r.Successful,
		"failed", r.Failed,
		"success_rate", fmt.Sprintf("%.1f%%", r.SuccessRate),
		"duration", r.FinishedAt.Sub(r.StartedAt),
	)
	return r
}

func (m *Migrator) step(r *Report, name string, fn func() (int64, error)) {
	n, err := fn()
	res := StepResult{Name: name, Count: n}
	if err != nil {
		res.Error = err.Error()
		m.logger.Error("migration step failed", "step", name, "error", err)
	} else {
		m.logger.Info("migration step done", "step", name, "count", n)
	}
	r.Steps = append(r.Steps, res)
}

func (m *Migrator) backup(ctx context.Context, r *Report, now time.Time) (int64, error) {
	rows, err := m.notifications.Backup(ctx, now)
	if err != nil {
		r.Backup.Error = err.Error()
		return 0, err
	}
	r.Backup.Created = true
	r.Backup.Rows = rows

	if m.uploader == nil {
		return rows, nil
	}
	all, err := m.notifications.ListAll(ctx)
	if err != nil {
		r.Backup.Error = err.Error()
		return rows, fmt.Errorf("read snapshot rows: %w", err)
	}
	raw, err := json.Marshal(all)
	if err != nil {
		r.Backup.Error = err.Error()
		return rows, fmt.Errorf("encode snapshot: %w", err)
	}
	key := fmt.Sprintf("migrations/notifications-%s.json.enc", now.UTC().Format("2006-01-02T150405Z"))
	size, err := m.uploader.Upload(ctx, key, raw)
	if err != nil {
		r.Backup.Error = err.Error()
		return rows, err
	}
	r.Backup.S3Key = key
	r.Backup.Bytes = size
	return rows, nil
}

func (m *Migrator) classifyRows(ctx context.Context, r *Report) (int64, error) {
	rows, err := m.notifications.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	r.Total = len(rows)

	for i := range rows {
		n := &rows[i]
		if err := m.migrateRow(ctx, n); err != nil {
			r.Failed++
			r.Failures = append(r.Failures, RowError{ID: n.ID, Error: err.Error()})
			m.logger.Warn("row migration failed", "id", n.ID, "error", err)
			continue
		}
		r.Successful++
	}
	return int64(r.Successful), nil
}

func (m *Migrator) migrateRow(ctx context.Context, n *model.Notification) error {
	class := m.classifier.Classify(n.Title, n.Message)
	expires := ExpiresAt(class.Category, n.Title, n.CreatedAt)

	if err := m.notifications.UpdateClassification(ctx, n.ID, class.Category, class.Priority, expires); err != nil {
		return err
	}

	existing, err := m.logs.ListByNotification(ctx, n.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	sentAt := n.CreatedAt
	if n.SentAt != nil {
		sentAt = *n.SentAt
	}
	_, err = m.logs.Append(ctx, &model.NotificationLog{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Title:          n.Title,
		Body:           n.Message,
		Category:       class.Category,
		Priority:       class.Priority,
		SentPush:       true,
		DeliveryStatus: model.DeliveryStatusDelivered,
		OpenedAt:       n.ReadAt,
		SentAt:         sentAt,
	})
	return err
}

// ExpiresAt applies the retention policy for migrated rows: medical 30 days,
// transport 1 day, tips never, everything else 7 days.
func ExpiresAt(c model.Category, title string, createdAt time.Time) *time.Time {
	var d time.Duration
	switch {
	case c == model.CategoryMedical:
		d = 30 * 24 * time.Hour
	case c == model.CategoryTransport:
		d = 24 * time.Hour
	case isTip(title):
		return nil
	default:
		d = 7 * 24 * time.Hour
	}
	t := createdAt.Add(d).UTC()
	return &t
}

func isTip(title string) bool {
	t := strings.ToLower(title)
	return strings.Contains(t, "tip") || strings.Contains(t, "consejo")
}

func (m *Migrator) expandPreferences(ctx context.Context, r *Report) (int64, error) {
	prefs, err := m.prefs.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	var firstErr error
	for _, p := range prefs {
		if err := m.prefs.UpdateCategories(ctx, p.UserID, p.DogID, LegacyCategories(p)); err != nil {
			m.logger.Warn("update preference categories", "user_id", p.UserID, "dog_id", p.DogID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.PreferencesUpdated++
	}
	return int64(r.PreferencesUpdated), firstErr
}

// LegacyCategories builds the category map from the old boolean flags.
// Categories with no legacy flag are enabled.
func LegacyCategories(p model.NotificationPreference) map[model.Category]bool {
	cats := make(map[model.Category]bool, len(model.Categories))
	for _, c := range model.Categories {
		cats[c] = true
	}
	cats[model.CategoryMedical] = p.VaccineReminders
	cats[model.CategoryRoutine] = p.RoutineReminders
	return cats
}

func (m *Migrator) seedSchedules(ctx context.Context, r *Report, now time.Time) (int64, error) {
	users, err := m.userIDs(ctx)
	if err != nil {
		return 0, err
	}
	dogs, err := m.dogs.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	var firstErr error
	record := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	tipAt := NextWeekday(now.In(m.loc), time.Monday, 9)
	for _, u := range users {
		seeded, err := m.seed(ctx, scheduler.ScheduleParams{
			UserID:         u,
			TemplateKey:    WeeklyTipTemplate,
			Variables:      map[string]string{"tip": defaultTip},
			ScheduledFor:   tipAt,
			RecurrenceRule: weeklyTipRule,
		})
		if err != nil {
			record(err)
			continue
		}
		if seeded {
			r.TipsSeeded++
		}
	}

	walkAt := Tomorrow(now.In(m.loc), 7)
	for _, d := range dogs {
		dogID := d.ID
		seeded, err := m.seed(ctx, scheduler.ScheduleParams{
			UserID:         d.UserID,
			DogID:          &dogID,
			TemplateKey:    WalkReminderTemplate,
			Variables:      map[string]string{"dogName": d.Name},
			ScheduledFor:   walkAt,
			RecurrenceRule: walkReminderRule,
		})
		if err != nil {
			record(err)
			continue
		}
		if seeded {
			r.WalksSeeded++
		}
	}
	return int64(r.TipsSeeded + r.WalksSeeded), firstErr
}

// seed schedules p unless the same user/dog already has a pending entry for
// the template.
func (m *Migrator) seed(ctx context.Context, p scheduler.ScheduleParams) (bool, error) {
	exists, err := m.sched.HasPending(ctx, p.UserID, p.DogID, p.TemplateKey)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := m.sched.Schedule(ctx, p); err != nil {
		m.logger.Warn("seed schedule", "user_id", p.UserID, "template", p.TemplateKey, "error", err)
		return false, err
	}
	return true, nil
}

// userIDs is the union of notification owners and preference owners.
func (m *Migrator) userIDs(ctx context.Context) ([]string, error) {
	ids, err := m.notifications.DistinctUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	prefs, err := m.prefs.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, p := range prefs {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			ids = append(ids, p.UserID)
		}
	}
	return ids, nil
}

// NextWeekday returns the next day-of-week at hour:00 strictly after now,
// in now's location.
func NextWeekday(now time.Time, day time.Weekday, hour int) time.Time {
	days := (int(day) - int(now.Weekday()) + 7) % 7
	t := time.Date(now.Year(), now.Month(), now.Day()+days, hour, 0, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 7)
	}
	return t
}

// Tomorrow returns the next calendar day at hour:00 in now's location.
func Tomorrow(now time.Time, hour int) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, hour, 0, 0, 0, now.Location())
}
