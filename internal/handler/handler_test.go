package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/kennel/internal/auth"
	"github.com/dukerupert/kennel/internal/classify"
	"github.com/dukerupert/kennel/internal/database"
	"github.com/dukerupert/kennel/internal/migrate"
	"github.com/dukerupert/kennel/internal/model"
	"github.com/dukerupert/kennel/internal/notify"
	"github.com/dukerupert/kennel/internal/push"
	"github.com/dukerupert/kennel/internal/render"
	"github.com/dukerupert/kennel/internal/scheduler"
	"github.com/dukerupert/kennel/internal/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSender struct {
	delivery push.Delivery
	err      error
	userIDs  []string
	payloads []push.Payload
}

func (f *fakeSender) Send(_ context.Context, userID string, p push.Payload) (push.Delivery, error) {
	f.userIDs = append(f.userIDs, userID)
	f.payloads = append(f.payloads, p)
	return f.delivery, f.err
}

type fakeRunner struct {
	report *migrate.Report
	calls  int
}

func (f *fakeRunner) Run(context.Context) *migrate.Report {
	f.calls++
	return f.report
}

type fixture struct {
	mux    *http.ServeMux
	subs   *store.SubscriptionStore
	tester *fakeSender
	runner *fakeRunner
}

func setup(t *testing.T, vapidPublic string) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	templates := store.NewTemplateStore(db)
	prefs := store.NewPreferenceStore(db)
	resolver := render.NewResolver(templates)
	notifications := notify.NewService(
		store.NewNotificationStore(db),
		store.NewLogStore(db),
		prefs,
		resolver,
		classify.New(),
		discard,
	)
	sched := scheduler.New(store.NewScheduleStore(db), resolver, notifications, discard)

	f := &fixture{
		mux:    http.NewServeMux(),
		subs:   store.NewSubscriptionStore(db),
		tester: &fakeSender{},
		runner: &fakeRunner{report: &migrate.Report{Total: 3, Successful: 3, SuccessRate: 100}},
	}
	pushSvc := push.NewService(vapidPublic, "", "mailto:test@kennel.app", f.subs, discard)

	nh := NewNotificationHandler(notifications, discard)
	th := NewTemplateHandler(templates, discard)
	sh := NewScheduleHandler(sched, discard)
	ph := NewPreferenceHandler(prefs, discard)
	pu := NewPushHandler(f.subs, pushSvc, f.tester, discard)
	ah := NewAdminHandler(f.runner, discard)

	f.mux.HandleFunc("GET /api/notifications", nh.List)
	f.mux.HandleFunc("POST /api/notifications", nh.Create)
	f.mux.HandleFunc("GET /api/notifications/unread-count", nh.UnreadCount)
	f.mux.HandleFunc("GET /api/notifications/{id}", nh.Get)
	f.mux.HandleFunc("POST /api/notifications/{id}/read", nh.MarkRead)
	f.mux.HandleFunc("DELETE /api/notifications/{id}", nh.Delete)
	f.mux.HandleFunc("GET /api/templates", th.List)
	f.mux.HandleFunc("GET /api/schedules", sh.List)
	f.mux.HandleFunc("POST /api/schedules", sh.Create)
	f.mux.HandleFunc("GET /api/schedules/{id}", sh.Get)
	f.mux.HandleFunc("POST /api/schedules/{id}/cancel", sh.Cancel)
	f.mux.HandleFunc("GET /api/preferences/{dog_id}", ph.Get)
	f.mux.HandleFunc("PUT /api/preferences/{dog_id}", ph.Update)
	f.mux.HandleFunc("POST /api/push/subscribe", pu.Subscribe)
	f.mux.HandleFunc("POST /api/push/unsubscribe", pu.Unsubscribe)
	f.mux.HandleFunc("GET /api/push/subscriptions", pu.ListSubscriptions)
	f.mux.HandleFunc("GET /api/push/vapid-key", pu.GetVAPIDKey)
	f.mux.HandleFunc("POST /api/push/test", pu.TestNotification)
	f.mux.HandleFunc("POST /api/push/relay", pu.Relay)
	f.mux.HandleFunc("POST /api/admin/migrate", ah.Migrate)
	return f
}

// do serves a request as userID with the given role.
func (f *fixture) do(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: userID, Role: role}))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func createNotification(t *testing.T, f *fixture, userID string) model.Notification {
	t.Helper()
	rec := f.do(t, "POST", "/api/notifications", userID, "", map[string]any{
		"template_key": "transport_started",
		"variables":    map[string]string{"dogName": "Rex", "eta": "10"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	return decode[model.Notification](t, rec)
}

func TestNotificationCreateAndGet(t *testing.T) {
	f := setup(t, "")
	n := createNotification(t, f, "u1")

	if n.UserID != "u1" {
		t.Errorf("user_id = %q, want caller", n.UserID)
	}
	if n.Category != model.CategoryTransport {
		t.Errorf("category = %q, want transport", n.Category)
	}
	if !strings.Contains(n.Title, "Rex") {
		t.Errorf("title = %q, want rendered dog name", n.Title)
	}

	if rec := f.do(t, "GET", "/api/notifications/"+n.ID, "u1", "", nil); rec.Code != http.StatusOK {
		t.Errorf("owner get = %d", rec.Code)
	}
	if rec := f.do(t, "GET", "/api/notifications/"+n.ID, "u2", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("other user get = %d, want 404", rec.Code)
	}
	if rec := f.do(t, "GET", "/api/notifications/"+n.ID, "ops", auth.RoleAdmin, nil); rec.Code != http.StatusOK {
		t.Errorf("admin get = %d", rec.Code)
	}
}

func TestNotificationCreateForOtherUser(t *testing.T) {
	f := setup(t, "")
	body := map[string]any{"user_id": "u2", "title": "Paseo", "message": "Hoy hay paseo"}

	if rec := f.do(t, "POST", "/api/notifications", "u1", "", body); rec.Code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", rec.Code)
	}
	rec := f.do(t, "POST", "/api/notifications", "ops", auth.RoleAdmin, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin status = %d, body %s", rec.Code, rec.Body)
	}
	if n := decode[model.Notification](t, rec); n.UserID != "u2" {
		t.Errorf("user_id = %q, want u2", n.UserID)
	}
}

func TestNotificationCreateErrors(t *testing.T) {
	f := setup(t, "")
	tests := []struct {
		name string
		body any
	}{
		{"unknown template", map[string]any{"template_key": "nope"}},
		{"no title", map[string]any{"message": "sin título"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, "POST", "/api/notifications", "u1", "", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body)
			}
		})
	}

	req := httptest.NewRequest("POST", "/api/notifications", strings.NewReader("{"))
	req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: "u1"}))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d, want 400", rec.Code)
	}
}

func TestNotificationReadAndUnreadCount(t *testing.T) {
	f := setup(t, "")
	a := createNotification(t, f, "u1")
	createNotification(t, f, "u1")

	count := decode[map[string]int](t, f.do(t, "GET", "/api/notifications/unread-count", "u1", "", nil))
	if count["unread"] != 2 {
		t.Fatalf("unread = %d, want 2", count["unread"])
	}

	if rec := f.do(t, "POST", "/api/notifications/"+a.ID+"/read", "u2", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("other user read = %d, want 404", rec.Code)
	}
	rec := f.do(t, "POST", "/api/notifications/"+a.ID+"/read", "u1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read status = %d", rec.Code)
	}
	if n := decode[model.Notification](t, rec); !n.Read || n.ReadAt == nil {
		t.Error("notification should be read with read_at set")
	}

	count = decode[map[string]int](t, f.do(t, "GET", "/api/notifications/unread-count", "u1", "", nil))
	if count["unread"] != 1 {
		t.Errorf("unread = %d, want 1", count["unread"])
	}
}

func TestNotificationDelete(t *testing.T) {
	f := setup(t, "")
	n := createNotification(t, f, "u1")

	if rec := f.do(t, "DELETE", "/api/notifications/"+n.ID, "u2", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("other user delete = %d, want 404", rec.Code)
	}
	if rec := f.do(t, "DELETE", "/api/notifications/"+n.ID, "u1", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec := f.do(t, "GET", "/api/notifications/"+n.ID, "u1", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}
}

func TestNotificationList(t *testing.T) {
	f := setup(t, "")

	rec := f.do(t, "GET", "/api/notifications", "u1", "", nil)
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("empty list = %s, want []", got)
	}

	for range 3 {
		createNotification(t, f, "u1")
	}
	createNotification(t, f, "u2")

	list := decode[[]model.Notification](t, f.do(t, "GET", "/api/notifications?limit=2", "u1", "", nil))
	if len(list) != 2 {
		t.Errorf("page size = %d, want 2", len(list))
	}
	list = decode[[]model.Notification](t, f.do(t, "GET", "/api/notifications?limit=2&offset=2", "u1", "", nil))
	if len(list) != 1 {
		t.Errorf("second page size = %d, want 1", len(list))
	}
}

func TestTemplateList(t *testing.T) {
	f := setup(t, "")
	list := decode[[]model.NotificationTemplate](t, f.do(t, "GET", "/api/templates", "u1", "", nil))
	if len(list) == 0 {
		t.Fatal("expected seeded templates")
	}
	for _, tpl := range list {
		if !tpl.IsActive {
			t.Errorf("inactive template %q listed", tpl.Key)
		}
	}
}

func TestScheduleCreateAndCancel(t *testing.T) {
	f := setup(t, "")
	rec := f.do(t, "POST", "/api/schedules", "u1", "", map[string]any{
		"template_key":    "weekly_tip",
		"variables":       map[string]string{"tip": "Cepilla a tu perro"},
		"scheduled_for":   time.Now().Add(24 * time.Hour).UTC(),
		"recurrence_rule": "FREQ=WEEKLY;BYDAY=MO",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d, body %s", rec.Code, rec.Body)
	}
	e := decode[model.ScheduledNotification](t, rec)
	if e.UserID != "u1" || !e.IsRecurring || e.Status != model.ScheduleStatusPending {
		t.Errorf("entry = %+v", e)
	}

	pending := decode[[]model.ScheduledNotification](t, f.do(t, "GET", "/api/schedules?status=pending", "u1", "", nil))
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}

	rec = f.do(t, "GET", "/api/schedules/"+e.ID, "u1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d, body %s", rec.Code, rec.Body)
	}
	var detail struct {
		Recurrence string      `json:"recurrence"`
		Upcoming   []time.Time `json:"upcoming"`
	}
	json.NewDecoder(rec.Body).Decode(&detail)
	if detail.Recurrence != "Cada semana: lun" {
		t.Errorf("recurrence = %q", detail.Recurrence)
	}
	if len(detail.Upcoming) != 5 {
		t.Errorf("upcoming = %d, want 5", len(detail.Upcoming))
	}
	for i := 1; i < len(detail.Upcoming); i++ {
		if detail.Upcoming[i].Weekday() != time.Monday {
			t.Errorf("upcoming[%d] = %s, want a Monday", i, detail.Upcoming[i].Weekday())
		}
	}
	if rec := f.do(t, "GET", "/api/schedules/"+e.ID, "u2", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("other user get = %d, want 404", rec.Code)
	}

	if rec := f.do(t, "POST", "/api/schedules/"+e.ID+"/cancel", "u2", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("other user cancel = %d, want 404", rec.Code)
	}
	rec = f.do(t, "POST", "/api/schedules/"+e.ID+"/cancel", "u1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d, body %s", rec.Code, rec.Body)
	}
	if got := decode[model.ScheduledNotification](t, rec); got.Status != model.ScheduleStatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
	if rec := f.do(t, "POST", "/api/schedules/"+e.ID+"/cancel", "u1", "", nil); rec.Code != http.StatusConflict {
		t.Errorf("second cancel = %d, want 409", rec.Code)
	}
	if rec := f.do(t, "POST", "/api/schedules/missing/cancel", "u1", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing cancel = %d, want 404", rec.Code)
	}
}

func TestScheduleValidation(t *testing.T) {
	f := setup(t, "")
	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad rule", map[string]any{"template_key": "weekly_tip", "scheduled_for": time.Now().UTC(), "recurrence_rule": "FREQ=HOURLY"}},
		{"missing time", map[string]any{"template_key": "weekly_tip"}},
		{"unknown template", map[string]any{"template_key": "nope", "scheduled_for": time.Now().UTC()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, "POST", "/api/schedules", "u1", "", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body)
			}
		})
	}

	if rec := f.do(t, "GET", "/api/schedules?status=done", "u1", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d, want 400", rec.Code)
	}
}

func TestPreferences(t *testing.T) {
	f := setup(t, "")

	def := decode[model.NotificationPreference](t, f.do(t, "GET", "/api/preferences/default", "u1", "", nil))
	for _, c := range model.Categories {
		if !def.CategoryEnabled(c) {
			t.Errorf("default category %q disabled", c)
		}
	}

	rec := f.do(t, "PUT", "/api/preferences/d1", "u1", "", map[string]any{
		"categories":          map[string]bool{"tips": false},
		"priority_filter":     "medium",
		"quiet_hours_enabled": true,
		"quiet_start_time":    "21:00",
		"quiet_end_time":      "06:30",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update = %d, body %s", rec.Code, rec.Body)
	}

	got := decode[model.NotificationPreference](t, f.do(t, "GET", "/api/preferences/d1", "u1", "", nil))
	if got.DogID != "d1" || !got.QuietHoursEnabled || got.QuietStartTime != "21:00" {
		t.Errorf("pref = %+v", got)
	}
	if got.CategoryEnabled(model.CategoryTips) {
		t.Error("tips should be disabled")
	}

	// Another dog still falls back to defaults.
	other := decode[model.NotificationPreference](t, f.do(t, "GET", "/api/preferences/d2", "u1", "", nil))
	if other.QuietHoursEnabled {
		t.Error("d2 should not inherit d1's quiet hours")
	}

	rec = f.do(t, "PUT", "/api/preferences/d1", "u1", "", map[string]any{"priority_filter": "critical"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid priority = %d, want 400", rec.Code)
	}
}

func TestPushSubscribeLifecycle(t *testing.T) {
	f := setup(t, "")
	body := map[string]any{
		"endpoint":     "https://push.example.com/abc",
		"keys":         map[string]string{"p256dh": "BPk", "auth": "au"},
		"browser_name": "firefox",
	}

	rec := f.do(t, "POST", "/api/push/subscribe", "u1", "", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe = %d, body %s", rec.Code, rec.Body)
	}
	sub := decode[model.PushSubscription](t, rec)
	if sub.P256dhKey != "BPk" || sub.DeviceType != "web" || !sub.IsActive {
		t.Errorf("subscription = %+v", sub)
	}

	hijack := map[string]any{
		"endpoint": sub.Endpoint,
		"keys":     map[string]string{"p256dh": "other", "auth": "other"},
	}
	if rec := f.do(t, "POST", "/api/push/subscribe", "u2", "", hijack); rec.Code != http.StatusConflict {
		t.Errorf("subscribe to another user's endpoint = %d, want 409", rec.Code)
	}
	if owned := decode[[]model.PushSubscription](t, f.do(t, "GET", "/api/push/subscriptions", "u1", "", nil)); len(owned) != 1 || owned[0].P256dhKey != "BPk" {
		t.Errorf("u1 subscription changed: %+v", owned)
	}

	if rec := f.do(t, "POST", "/api/push/unsubscribe", "u2", "", map[string]string{"endpoint": sub.Endpoint}); rec.Code != http.StatusNotFound {
		t.Errorf("other user unsubscribe = %d, want 404", rec.Code)
	}
	if rec := f.do(t, "POST", "/api/push/unsubscribe", "u1", "", map[string]string{"endpoint": sub.Endpoint}); rec.Code != http.StatusNoContent {
		t.Fatalf("unsubscribe = %d", rec.Code)
	}

	list := decode[[]model.PushSubscription](t, f.do(t, "GET", "/api/push/subscriptions", "u1", "", nil))
	if len(list) != 1 || list[0].IsActive {
		t.Errorf("subscriptions = %+v, want one inactive", list)
	}
	if len(list) == 1 && list[0].LastUsedAt == nil {
		t.Error("unsubscribe should stamp last_used_at")
	}

	if rec := f.do(t, "POST", "/api/push/subscribe", "u1", "", map[string]string{"endpoint": "https://x"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing keys = %d, want 400", rec.Code)
	}
}

func TestPushVAPIDKey(t *testing.T) {
	if rec := setup(t, "").do(t, "GET", "/api/push/vapid-key", "u1", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured = %d, want 503", rec.Code)
	}

	rec := setup(t, "BPublic").do(t, "GET", "/api/push/vapid-key", "u1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("configured = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["public_key"] != "BPublic" {
		t.Errorf("public_key = %q", got["public_key"])
	}
}

func TestPushTestNotification(t *testing.T) {
	f := setup(t, "")
	f.tester.delivery = push.Delivery{Attempted: 2, Delivered: 2}

	rec := f.do(t, "POST", "/api/push/test", "u1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("test = %d, body %s", rec.Code, rec.Body)
	}
	if d := decode[push.Delivery](t, rec); d.Delivered != 2 {
		t.Errorf("delivered = %d, want 2", d.Delivered)
	}
	if f.tester.userIDs[0] != "u1" || f.tester.payloads[0].Tag != "test" {
		t.Errorf("sent %v %+v", f.tester.userIDs, f.tester.payloads[0])
	}

	f.tester.err = &push.RelayError{StatusCode: 503, Message: "down"}
	rec = f.do(t, "POST", "/api/push/test", "u1", "", map[string]string{"browser": "chrome"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("relay failure = %d, want 502", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["guidance"] == "" {
		t.Error("expected guidance text")
	}
}

func TestPushRelay(t *testing.T) {
	f := setup(t, "")
	req := push.RelayRequest{UserID: "u2", Notification: push.Payload{Title: "Hola"}}

	if rec := f.do(t, "POST", "/api/push/relay", "u1", "", req); rec.Code != http.StatusForbidden {
		t.Errorf("relay for other user = %d, want 403", rec.Code)
	}

	rec := f.do(t, "POST", "/api/push/relay", "ops", auth.RoleAdmin, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin relay = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[push.RelayResponse](t, rec)
	if !resp.Success || resp.Delivery == nil || resp.Delivery.Attempted != 0 {
		t.Errorf("response = %+v", resp)
	}

	req.Notification.Title = ""
	if rec := f.do(t, "POST", "/api/push/relay", "u2", "", req); rec.Code != http.StatusBadRequest {
		t.Errorf("empty title = %d, want 400", rec.Code)
	}
}

func TestAdminMigrate(t *testing.T) {
	f := setup(t, "")
	rec := f.do(t, "POST", "/api/admin/migrate", "ops", auth.RoleAdmin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("migrate = %d", rec.Code)
	}
	report := decode[migrate.Report](t, rec)
	if report.Total != 3 || report.SuccessRate != 100 {
		t.Errorf("report = %+v", report)
	}
	if f.runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1", f.runner.calls)
	}
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("notification x: %w", notify.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: bad", model.ErrInvalid), http.StatusBadRequest},
		{fmt.Errorf("%w: %q", render.ErrTemplateNotFound, "k"), http.StatusBadRequest},
		{fmt.Errorf("%w: sent", scheduler.ErrInvalidStateTransition), http.StatusConflict},
		{store.ErrEndpointTaken, http.StatusConflict},
		{&push.RelayError{StatusCode: 500}, http.StatusBadGateway},
		{push.ErrNotConfigured, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		respondError(rec, discard, "do thing", tt.err)
		if rec.Code != tt.want {
			t.Errorf("respondError(%v) = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}

	rec := httptest.NewRecorder()
	respondError(rec, discard, "save row", errors.New("secret detail"))
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("500 body should not leak the cause")
	}
}
