package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/kennel/internal/classify"
	"github.com/dukerupert/kennel/internal/model"
	"github.com/dukerupert/kennel/internal/render"
	"github.com/dukerupert/kennel/internal/store"
	"github.com/dukerupert/kennel/internal/websocket"
)

// ErrNotFound is returned for operations on a missing notification or
// scheduled entry.
var ErrNotFound = errors.New("not found")

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Pusher delivers a stored notification to the owner's devices.
type Pusher interface {
	Push(ctx context.Context, n *model.Notification) (delivered bool, err error)
}

// Publisher fans live updates out to connected clients.
type Publisher interface {
	Publish(userID string, msg websocket.Message)
}

// CreateParams describes a notification to create. When TemplateKey is set
// the title and message are rendered from it; otherwise Title and Message
// are used as given.
type CreateParams struct {
	UserID      string            `json:"user_id"`
	DogID       *string           `json:"dog_id,omitempty"`
	TemplateKey string            `json:"template_key,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
	Title       string            `json:"title,omitempty"`
	Message     string            `json:"message,omitempty"`
	Data        map[string]any    `json:"data,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

type Service struct {
	notifications *store.NotificationStore
	logs          *store.LogStore
	prefs         *store.PreferenceStore
	resolver      *render.Resolver
	classifier    classify.Classifier

	pusher    Pusher
	publisher Publisher
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

func WithPusher(p Pusher) Option {
	return func(s *Service) { s.pusher = p }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLocation sets the zone quiet hours are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	notifications *store.NotificationStore,
	logs *store.LogStore,
	prefs *store.PreferenceStore,
	resolver *render.Resolver,
	classifier classify.Classifier,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		notifications: notifications,
		logs:          logs,
		prefs:         prefs,
		resolver:      resolver,
		classifier:    classifier,
		loc:           time.UTC,
		now:           time.Now,
		logger:        logger.With("component", "notify"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create renders, classifies and stores a notification, logs it as pushed,
// then attempts delivery. Push failures are logged and never fail Create.
func (s *Service) Create(ctx context.Context, p CreateParams) (*model.Notification, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrInvalid)
	}

	title, message := p.Title, p.Message
	if p.TemplateKey != "" {
		r, err := s.resolver.Resolve(ctx, p.TemplateKey, p.Variables)
		if err != nil {
			return nil, err
		}
		title, message = r.Title, r.Body
	} else if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: template_key or title is required", model.ErrInvalid)
	}

	class := s.classifier.Classify(title, message)
	now := s.now().UTC()

	// The log records sent_push=true before delivery is known. Row and log
	// are written together or not at all.
	n, err := s.notifications.InsertWithLog(ctx, &model.Notification{
		UserID:    p.UserID,
		DogID:     p.DogID,
		Title:     title,
		Message:   message,
		Category:  class.Category,
		Priority:  class.Priority,
		Data:      p.Data,
		CreatedAt: now,
		ExpiresAt: p.ExpiresAt,
	}, &model.NotificationLog{
		Title:          title,
		Body:           message,
		Category:       class.Category,
		Priority:       class.Priority,
		SentPush:       true,
		DeliveryStatus: model.DeliveryStatusSent,
		SentAt:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	s.deliver(ctx, n)
	s.publish(n.UserID, websocket.NewMessage("notification", "created", n.ID, n))

	s.logger.Info("notification created",
		"id", n.ID,
		"user_id", n.UserID,
		"category", n.Category,
		"priority", n.Priority,
		"template", p.TemplateKey,
	)
	return n, nil
}

func (s *Service) deliver(ctx context.Context, n *model.Notification) {
	if s.pusher == nil {
		return
	}

	dogID := ""
	if n.DogID != nil {
		dogID = *n.DogID
	}
	pref, err := s.prefs.Effective(ctx, n.UserID, dogID)
	if err != nil {
		s.logger.Warn("load preferences, pushing anyway", "user_id", n.UserID, "error", err)
		pref = model.DefaultPreference(n.UserID, dogID)
	}
	if reason := Gate(pref, n, s.now().In(s.loc)); reason != "" {
		s.logger.Debug("push skipped", "id", n.ID, "reason", reason)
		return
	}

	delivered, err := s.pusher.Push(ctx, n)
	if err != nil {
		s.logger.Warn("push failed", "id", n.ID, "user_id", n.UserID, "error", err)
	}

	sentAt := s.now().UTC()
	if err := s.notifications.SetSent(ctx, n.ID, sentAt, &delivered); err != nil {
		s.logger.Warn("record push attempt", "id", n.ID, "error", err)
		return
	}
	n.SentAt = &sentAt
	n.DeliveryConfirmed = &delivered
}

func (s *Service) publish(userID string, msg websocket.Message) {
	if s.publisher != nil {
		s.publisher.Publish(userID, msg)
	}
}

func (s *Service) Get(ctx context.Context, id string) (*model.Notification, error) {
	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return n, nil
}

// List returns a page of a user's notifications, newest first. limit <= 0
// means DefaultListLimit; larger values are capped at MaxListLimit.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.notifications.List(ctx, userID, limit, offset)
}

// MarkRead is idempotent: read_at keeps the time of the first call.
func (s *Service) MarkRead(ctx context.Context, id string) (*model.Notification, error) {
	now := s.now().UTC()
	n, err := s.notifications.MarkRead(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err := s.logs.MarkOpened(ctx, id, now); err != nil {
		s.logger.Warn("mark log opened", "id", id, "error", err)
	}
	s.publish(n.UserID, websocket.NewMessage("notification", "read", n.ID, n))
	return n, nil
}

// MarkReadBy marks id read on behalf of userID. Another user's notification
// is reported as missing.
func (s *Service) MarkReadBy(ctx context.Context, userID, id string) error {
	n, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	_, err = s.MarkRead(ctx, id)
	return err
}

// Delete removes the notification permanently.
func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	deleted, err := s.notifications.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	s.publish(n.UserID, websocket.NewMessage("notification", "deleted", id, nil))
	return nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.notifications.UnreadCount(ctx, userID)
}
