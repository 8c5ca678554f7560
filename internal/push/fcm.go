package push

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCM delivers payloads to Firebase Cloud Messaging registration tokens.
type FCM struct {
	client multicaster
	logger *slog.Logger
}

// NewFCM initializes Firebase from a service account file. It returns
// nil, nil when credentialsFile is empty.
func NewFCM(ctx context.Context, credentialsFile string, logger *slog.Logger) (*FCM, error) {
	if credentialsFile == "" {
		return nil, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return newFCM(client, logger), nil
}

func newFCM(client multicaster, logger *slog.Logger) *FCM {
	return &FCM{client: client, logger: logger.With("component", "fcm")}
}

// Send multicasts p to tokens and returns the delivered count and the tokens
// FCM rejected.
func (f *FCM) Send(ctx context.Context, tokens []string, p Payload) (int, []string, error) {
	if len(tokens) == 0 {
		return 0, nil, nil
	}

	data := make(map[string]string, len(p.Data))
	for k, v := range p.Data {
		data[k] = fmt.Sprint(v)
	}

	androidPriority := "normal"
	if p.Urgency == "high" {
		androidPriority = "high"
	}

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: p.Title,
				Body:  p.Body,
				Icon:  p.Icon,
				Tag:   p.Tag,
			},
		},
	}

	resp, err := f.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return 0, nil, fmt.Errorf("fcm multicast: %w", err)
	}

	var failed []string
	for i, r := range resp.Responses {
		if !r.Success && i < len(tokens) {
			failed = append(failed, tokens[i])
			f.logger.Warn("fcm token failed", "token", shortToken(tokens[i]), "error", r.Error)
		}
	}
	f.logger.Debug("fcm multicast", "success", resp.SuccessCount, "failure", resp.FailureCount)
	return resp.SuccessCount, failed, nil
}
