package push

import (
	"context"

	"github.com/dukerupert/kennel/internal/model"
)

// Dispatcher turns stored notifications into payloads for a Sender.
type Dispatcher struct {
	sender Sender
	icon   string
}

func NewDispatcher(sender Sender, icon string) *Dispatcher {
	return &Dispatcher{sender: sender, icon: icon}
}

// Payload builds the device payload for n.
func (d *Dispatcher) Payload(n *model.Notification) Payload {
	data := map[string]any{
		"notificationId": n.ID,
		"category":       string(n.Category),
		"priority":       string(n.Priority),
		"url":            "/notifications/" + n.ID,
	}
	if n.DogID != nil {
		data["dogId"] = *n.DogID
	}
	for k, v := range n.Data {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}
	return Payload{
		Title:   n.Title,
		Body:    n.Message,
		Icon:    d.icon,
		Tag:     string(n.Category),
		Urgency: UrgencyFor(n.Priority),
		Data:    data,
	}
}

// Push sends n to its owner's devices. delivered reports whether at least
// one device accepted it.
func (d *Dispatcher) Push(ctx context.Context, n *model.Notification) (delivered bool, err error) {
	res, err := d.sender.Send(ctx, n.UserID, d.Payload(n))
	if err != nil {
		return false, err
	}
	return res.Delivered > 0, nil
}
