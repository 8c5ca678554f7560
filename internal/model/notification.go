package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every Validate error so callers can map it to a 400.
var ErrInvalid = errors.New("invalid record")

type Category string

const (
	CategoryMedical   Category = "medical"
	CategoryTransport Category = "transport"
	CategoryBehavior  Category = "behavior"
	CategoryRoutine   Category = "routine"
	CategoryTraining  Category = "training"
	CategoryTips      Category = "tips"
	CategoryGeneral   Category = "general"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryMedical,
	CategoryTransport,
	CategoryBehavior,
	CategoryRoutine,
	CategoryTraining,
	CategoryTips,
	CategoryGeneral,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Rank orders priorities from low (0) to urgent (3). Unknown values rank -1.
func (p Priority) Rank() int {
	r, ok := priorityRank[p]
	if !ok {
		return -1
	}
	return r
}

func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// AtLeast reports whether p is as urgent as min.
func (p Priority) AtLeast(min Priority) bool {
	return p.Rank() >= min.Rank()
}

type Notification struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	DogID             *string        `json:"dog_id"`
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	Category          Category       `json:"category"`
	Priority          Priority       `json:"priority"`
	Read              bool           `json:"read"`
	ReadAt            *time.Time     `json:"read_at"`
	Data              map[string]any `json:"data,omitempty"`
	DeliveryConfirmed *bool          `json:"delivery_confirmed,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	SentAt            *time.Time     `json:"sent_at"`
	ExpiresAt         *time.Time     `json:"expires_at"`
}

// Validate checks the record before it is written.
func (n *Notification) Validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("%w: notification user_id is required", ErrInvalid)
	}
	if !n.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalid, n.Category)
	}
	if !n.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalid, n.Priority)
	}
	if n.ExpiresAt != nil && !n.CreatedAt.IsZero() && n.ExpiresAt.Before(n.CreatedAt) {
		return fmt.Errorf("%w: expires_at is before created_at", ErrInvalid)
	}
	return nil
}

type NotificationTemplate struct {
	Key          string    `json:"template_key"`
	Name         string    `json:"name"`
	Category     Category  `json:"category"`
	TitlePattern string    `json:"title_pattern"`
	BodyPattern  string    `json:"body_pattern"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Delivery statuses recorded on NotificationLog rows.
const (
	DeliveryStatusSent      = "sent"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusMigrated  = "migrated"
)

// NotificationLog is append-only; only OpenedAt may change after insert.
type NotificationLog struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notification_id"`
	UserID         string     `json:"user_id"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	Category       Category   `json:"category"`
	Priority       Priority   `json:"priority"`
	SentPush       bool       `json:"sent_push"`
	DeliveryStatus string     `json:"delivery_status"`
	OpenedAt       *time.Time `json:"opened_at"`
	SentAt         time.Time  `json:"sent_at"`
}
