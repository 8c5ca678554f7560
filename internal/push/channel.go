package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/kennel/internal/model"
)

type State string

const (
	StateNoPermission        State = "no_permission"
	StatePermissionRequested State = "permission_requested"
	StatePermissionGranted   State = "permission_granted"
	StateSubscribed          State = "subscribed"
	StateUnsubscribed        State = "unsubscribed"
)

// Permission is the answer to a permission prompt.
type Permission string

const (
	PermissionGranted   Permission = "granted"
	PermissionDenied    Permission = "denied"
	PermissionDismissed Permission = "default"
)

// DeviceSubscription is what the device's push manager hands back.
type DeviceSubscription struct {
	Endpoint string
	P256dh   string
	Auth     string
}

// Device is the browser push capability.
type Device interface {
	Supported() bool
	RequestPermission(ctx context.Context) (Permission, error)
	Subscribe(ctx context.Context, vapidPublicKey string) (*DeviceSubscription, error)
	GetSubscription(ctx context.Context) (*DeviceSubscription, error)
	Unsubscribe(ctx context.Context) error
}

// SubscriptionRepository persists device subscriptions.
type SubscriptionRepository interface {
	Upsert(ctx context.Context, sub *model.PushSubscription) (*model.PushSubscription, error)
	DeactivateForUser(ctx context.Context, userID, endpoint string, at time.Time) (bool, error)
}

// Channel drives one device through the push lifecycle:
// no_permission → permission_requested → permission_granted → subscribed → unsubscribed.
// A denied prompt is terminal for the Channel's lifetime.
type Channel struct {
	mu       sync.Mutex
	state    State
	denied   bool
	endpoint string

	userID      string
	deviceType  string
	browserName string
	vapidKey    string

	device Device
	subs   SubscriptionRepository
	relay  Sender
	logger *slog.Logger
}

type ChannelConfig struct {
	UserID         string
	DeviceType     string
	BrowserName    string
	VAPIDPublicKey string
}

func NewChannel(cfg ChannelConfig, device Device, subs SubscriptionRepository, relay Sender, logger *slog.Logger) *Channel {
	return &Channel{
		state:       StateNoPermission,
		userID:      cfg.UserID,
		deviceType:  cfg.DeviceType,
		browserName: cfg.BrowserName,
		vapidKey:    cfg.VAPIDPublicKey,
		device:      device,
		subs:        subs,
		relay:       relay,
		logger:      logger.With("component", "push_channel", "user_id", cfg.UserID),
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Restore picks up an existing device subscription so a reloaded page starts
// in the subscribed state.
func (c *Channel) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.device.Supported() {
		return ErrNotSupported
	}
	sub, err := c.device.GetSubscription(ctx)
	if err != nil {
		return fmt.Errorf("get device subscription: %w", err)
	}
	if sub != nil {
		c.endpoint = sub.Endpoint
		c.state = StateSubscribed
	}
	return nil
}

// RequestPermission prompts the user. Denial is reported as
// ErrPermissionDenied and is not re-prompted.
func (c *Channel) RequestPermission(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.device.Supported() {
		return ErrNotSupported
	}
	if c.denied {
		return ErrPermissionDenied
	}
	switch c.state {
	case StatePermissionGranted, StateSubscribed:
		return nil
	case StateNoPermission, StateUnsubscribed:
	default:
		return fmt.Errorf("%w: request permission from %s", ErrInvalidState, c.state)
	}

	prev := c.state
	c.state = StatePermissionRequested
	perm, err := c.device.RequestPermission(ctx)
	if err != nil {
		c.state = prev
		return fmt.Errorf("request permission: %w", err)
	}

	switch perm {
	case PermissionGranted:
		c.state = StatePermissionGranted
		return nil
	case PermissionDenied:
		c.denied = true
		c.state = StateNoPermission
		c.logger.Info("push permission denied")
		return ErrPermissionDenied
	default:
		c.state = StateNoPermission
		return ErrPermissionDenied
	}
}

// Subscribe registers the device with the push service and stores the
// subscription, keyed on endpoint.
func (c *Channel) Subscribe(ctx context.Context) (*model.PushSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePermissionGranted {
		return nil, fmt.Errorf("%w: subscribe from %s", ErrInvalidState, c.state)
	}
	if c.vapidKey == "" {
		return nil, ErrNotConfigured
	}

	ds, err := c.device.Subscribe(ctx, c.vapidKey)
	if err != nil {
		return nil, fmt.Errorf("device subscribe: %w", err)
	}

	sub, err := c.subs.Upsert(ctx, &model.PushSubscription{
		UserID:      c.userID,
		Endpoint:    ds.Endpoint,
		P256dhKey:   ds.P256dh,
		AuthKey:     ds.Auth,
		DeviceType:  c.deviceType,
		BrowserName: c.browserName,
	})
	if err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	c.endpoint = ds.Endpoint
	c.state = StateSubscribed
	c.logger.Info("push subscribed", "endpoint", ds.Endpoint)
	return sub, nil
}

// Unsubscribe deregisters the device and deactivates the stored row.
func (c *Channel) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateSubscribed {
		return fmt.Errorf("%w: unsubscribe from %s", ErrInvalidState, c.state)
	}
	if err := c.device.Unsubscribe(ctx); err != nil {
		return fmt.Errorf("device unsubscribe: %w", err)
	}
	if _, err := c.subs.DeactivateForUser(ctx, c.userID, c.endpoint, time.Now()); err != nil {
		return fmt.Errorf("deactivate subscription: %w", err)
	}

	c.state = StateUnsubscribed
	return nil
}

// SendTest asks the relay to push p to this user's devices.
func (c *Channel) SendTest(ctx context.Context, p Payload) (Delivery, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != StateSubscribed {
		return Delivery{}, fmt.Errorf("%w: send test from %s", ErrInvalidState, state)
	}
	return c.relay.Send(ctx, c.userID, p)
}
