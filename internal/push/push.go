package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/kennel/internal/model"
)

const defaultTTL = 86400

// SubscriptionLister is the subset of the subscription store the fan-out needs.
type SubscriptionLister interface {
	ListActiveByUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
	Deactivate(ctx context.Context, endpoint string) (bool, error)
	Touch(ctx context.Context, endpoint string, at time.Time) error
}

// TokenSource returns the FCM registration tokens of a user.
type TokenSource interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
}

// Service is the relay side: it performs the web push handshake for every
// active subscription of a user, and FCM delivery when configured.
type Service struct {
	publicKey  string
	privateKey string
	subject    string
	httpClient webpush.HTTPClient

	subs   SubscriptionLister
	tokens TokenSource
	fcm    *FCM
	logger *slog.Logger
}

type ServiceOption func(*Service)

// WithFCM enables delivery to preference device tokens.
func WithFCM(f *FCM, tokens TokenSource) ServiceOption {
	return func(s *Service) {
		s.fcm = f
		s.tokens = tokens
	}
}

// WithPushHTTPClient overrides the client used to reach push services.
func WithPushHTTPClient(c webpush.HTTPClient) ServiceOption {
	return func(s *Service) {
		s.httpClient = c
	}
}

func NewService(publicKey, privateKey, subject string, subs SubscriptionLister, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		publicKey:  publicKey,
		privateKey: privateKey,
		subject:    subject,
		subs:       subs,
		logger:     logger.With("component", "push"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VAPIDPublicKey returns the key browsers subscribe with.
func (s *Service) VAPIDPublicKey() string {
	return s.publicKey
}

// Send fans p out to all active subscriptions of userID. Endpoints answering
// 404 or 410 are deactivated. An error is returned only when the
// subscriptions cannot be listed.
func (s *Service) Send(ctx context.Context, userID string, p Payload) (Delivery, error) {
	var d Delivery

	if s.publicKey != "" && s.privateKey != "" {
		subs, err := s.subs.ListActiveByUser(ctx, userID)
		if err != nil {
			return d, fmt.Errorf("list subscriptions: %w", err)
		}
		for i := range subs {
			sub := &subs[i]
			d.Attempted++
			err := s.sendOne(ctx, sub, p)
			switch {
			case err == nil:
				d.Delivered++
				if err := s.subs.Touch(ctx, sub.Endpoint, time.Now()); err != nil {
					s.logger.Warn("touch subscription", "endpoint", sub.Endpoint, "error", err)
				}
			case errors.Is(err, ErrExpired):
				d.Expired++
				if _, err := s.subs.Deactivate(ctx, sub.Endpoint); err != nil {
					s.logger.Warn("deactivate expired subscription", "endpoint", sub.Endpoint, "error", err)
				}
				s.logger.Info("subscription expired", "user_id", userID, "endpoint", sub.Endpoint)
			default:
				d.Errors = append(d.Errors, err.Error())
				s.logger.Warn("web push failed", "user_id", userID, "endpoint", sub.Endpoint, "error", err)
			}
		}
	}

	if s.fcm != nil && s.tokens != nil {
		tokens, err := s.tokens.DeviceTokens(ctx, userID)
		if err != nil {
			s.logger.Warn("load device tokens", "user_id", userID, "error", err)
		} else if len(tokens) > 0 {
			delivered, failed, err := s.fcm.Send(ctx, tokens, p)
			d.Attempted += len(tokens)
			d.Delivered += delivered
			if err != nil {
				d.Errors = append(d.Errors, err.Error())
			}
			for _, tok := range failed {
				d.Errors = append(d.Errors, "fcm token rejected: "+shortToken(tok))
			}
		}
	}

	s.logger.Debug("push fan-out", "user_id", userID, "attempted", d.Attempted, "delivered", d.Delivered, "expired", d.Expired)
	return d, nil
}

func (s *Service) sendOne(ctx context.Context, sub *model.PushSubscription, p Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             defaultTTL,
		Urgency:         urgency(p.Urgency),
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

func urgency(u string) webpush.Urgency {
	switch u {
	case string(webpush.UrgencyVeryLow), string(webpush.UrgencyLow), string(webpush.UrgencyHigh):
		return webpush.Urgency(u)
	}
	return webpush.UrgencyNormal
}

// UrgencyFor maps a notification priority to a web push Urgency header value.
func UrgencyFor(p model.Priority) string {
	switch p {
	case model.PriorityUrgent, model.PriorityHigh:
		return string(webpush.UrgencyHigh)
	case model.PriorityLow:
		return string(webpush.UrgencyLow)
	}
	return string(webpush.UrgencyNormal)
}

// GenerateVAPIDKeys returns a base64url P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}

func shortToken(tok string) string {
	if len(tok) > 12 {
		return tok[:12] + "..."
	}
	return tok
}
