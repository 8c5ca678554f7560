package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/kennel/internal/model"
	"github.com/dukerupert/kennel/internal/notify"
	"github.com/dukerupert/kennel/internal/recurrence"
	"github.com/dukerupert/kennel/internal/render"
	"github.com/dukerupert/kennel/internal/store"
)

// ErrInvalidStateTransition is returned when a scheduled entry is not in a
// state that allows the requested change.
var ErrInvalidStateTransition = errors.New("invalid state transition")

const DefaultInterval = 60 * time.Second

// Creator is the notify operation a fired entry runs.
type Creator interface {
	Create(ctx context.Context, p notify.CreateParams) (*model.Notification, error)
}

type ScheduleParams struct {
	UserID         string            `json:"user_id"`
	DogID          *string           `json:"dog_id,omitempty"`
	TemplateKey    string            `json:"template_key"`
	Variables      map[string]string `json:"variables,omitempty"`
	ScheduledFor   time.Time         `json:"scheduled_for"`
	RecurrenceRule string            `json:"recurrence_rule,omitempty"`
}

// TickResult summarizes one pass over the due entries.
type TickResult struct {
	Skipped     bool `json:"skipped"`
	Fired       int  `json:"fired"`
	Sent        int  `json:"sent"`
	Failed      int  `json:"failed"`
	Rescheduled int  `json:"rescheduled"`
}

// Scheduler fires due scheduled notifications.
type Scheduler struct {
	entries  *store.ScheduleStore
	resolver *render.Resolver
	creator  Creator
	logger   *slog.Logger
	loc      *time.Location

	interval time.Duration
	now      func() time.Time

	tickMu sync.Mutex

	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLocation sets the zone recurrence rules are evaluated in, so BYDAY and
// the time of day follow local wall-clock time across DST changes.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(entries *store.ScheduleStore, resolver *render.Resolver, creator Creator, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		entries:  entries,
		resolver: resolver,
		creator:  creator,
		logger:   logger.With("component", "scheduler"),
		interval: DefaultInterval,
		loc:      time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule stores a pending entry. A scheduled_for in the past is accepted
// and fires on the next tick.
func (s *Scheduler) Schedule(ctx context.Context, p ScheduleParams) (*model.ScheduledNotification, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrInvalid)
	}
	if p.ScheduledFor.IsZero() {
		return nil, fmt.Errorf("%w: scheduled_for is required", model.ErrInvalid)
	}

	ok, err := s.resolver.Exists(ctx, p.TemplateKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", render.ErrTemplateNotFound, p.TemplateKey)
	}

	rule := ""
	if p.RecurrenceRule != "" {
		r, err := recurrence.Parse(p.RecurrenceRule)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalid, err)
		}
		rule = r.String()
	}

	if p.ScheduledFor.Before(s.now()) {
		s.logger.Warn("scheduled_for is in the past, will fire on next tick",
			"user_id", p.UserID, "template", p.TemplateKey, "scheduled_for", p.ScheduledFor)
	}

	e, err := s.entries.Insert(ctx, &model.ScheduledNotification{
		UserID:         p.UserID,
		DogID:          p.DogID,
		TemplateKey:    p.TemplateKey,
		Variables:      p.Variables,
		ScheduledFor:   p.ScheduledFor.UTC(),
		IsRecurring:    rule != "",
		RecurrenceRule: rule,
	})
	if err != nil {
		return nil, fmt.Errorf("schedule notification: %w", err)
	}
	return e, nil
}

// Tick fires every pending entry due at or before now, in scheduled_for
// order. A tick that starts while another is running is skipped.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	if !s.tickMu.TryLock() {
		s.logger.Debug("tick already running, skipping")
		return TickResult{Skipped: true}, nil
	}
	defer s.tickMu.Unlock()

	var res TickResult
	due, err := s.entries.ListDue(ctx, now)
	if err != nil {
		return res, err
	}

	for i := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		e := &due[i]

		// Claim before firing so a concurrent cancel cannot race delivery.
		claimed, err := s.entries.Claim(ctx, e.ID, now)
		if err != nil {
			return res, err
		}
		if !claimed {
			continue
		}
		res.Fired++

		n, createErr := s.creator.Create(ctx, notify.CreateParams{
			UserID:      e.UserID,
			DogID:       e.DogID,
			TemplateKey: e.TemplateKey,
			Variables:   e.Variables,
			Data:        map[string]any{"scheduledId": e.ID},
		})

		var notificationID *string
		errMsg := ""
		if createErr != nil {
			errMsg = createErr.Error()
			res.Failed++
			s.logger.Warn("scheduled notification failed", "id", e.ID, "template", e.TemplateKey, "error", createErr)
		} else {
			notificationID = &n.ID
			res.Sent++
		}
		if err := s.entries.Settle(ctx, e.ID, notificationID, errMsg, now); err != nil {
			return res, err
		}

		if e.IsRecurring {
			ok, err := s.reschedule(ctx, e)
			if err != nil {
				s.logger.Error("reschedule recurring notification", "id", e.ID, "error", err)
				continue
			}
			if ok {
				res.Rescheduled++
			}
		}
	}

	if res.Fired > 0 {
		s.logger.Info("tick complete",
			"fired", res.Fired, "sent", res.Sent, "failed", res.Failed, "rescheduled", res.Rescheduled)
	}
	return res, nil
}

// reschedule inserts the next occurrence of a recurring entry. The fired row
// keeps its rule and scheduled_for.
func (s *Scheduler) reschedule(ctx context.Context, e *model.ScheduledNotification) (bool, error) {
	rule, err := recurrence.Parse(e.RecurrenceRule)
	if err != nil {
		return false, err
	}
	at, ok := recurrence.Next(rule, e.ScheduledFor.In(s.loc))
	if !ok {
		s.logger.Info("recurrence ended", "id", e.ID, "rule", e.RecurrenceRule)
		return false, nil
	}
	_, err = s.entries.Insert(ctx, &model.ScheduledNotification{
		UserID:         e.UserID,
		DogID:          e.DogID,
		TemplateKey:    e.TemplateKey,
		Variables:      e.Variables,
		ScheduledFor:   at.UTC(),
		IsRecurring:    true,
		RecurrenceRule: e.RecurrenceRule,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Cancel moves a pending entry to cancelled.
func (s *Scheduler) Cancel(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	e, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("scheduled notification %s: %w", id, notify.ErrNotFound)
	}
	if !e.Status.CanTransition(model.ScheduleStatusCancelled) {
		return nil, fmt.Errorf("%w: cannot cancel %s entry", ErrInvalidStateTransition, e.Status)
	}

	ok, err := s.entries.Transition(ctx, id, model.ScheduleStatusCancelled, "", nil, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: entry is no longer pending", ErrInvalidStateTransition)
	}
	return s.entries.GetByID(ctx, id)
}

func (s *Scheduler) Get(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	e, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("scheduled notification %s: %w", id, notify.ErrNotFound)
	}
	return e, nil
}

// HasPending reports whether the user (and dog, when set) already has a
// pending entry for templateKey.
func (s *Scheduler) HasPending(ctx context.Context, userID string, dogID *string, templateKey string) (bool, error) {
	return s.entries.HasPending(ctx, userID, dogID, templateKey)
}

// ListForUser returns a user's entries. An empty status returns all of them.
func (s *Scheduler) ListForUser(ctx context.Context, userID string, status model.ScheduleStatus) ([]model.ScheduledNotification, error) {
	return s.entries.ListByUser(ctx, userID, status)
}

// Start runs Tick every interval until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler started", "interval", s.interval)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.Tick(ctx, s.now()); err != nil && ctx.Err() == nil {
		s.logger.Error("tick failed", "error", err)
	}
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.logger.Info("scheduler stopped")
}
