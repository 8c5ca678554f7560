package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultRelayTimeout = 15 * time.Second

// Payload is the notification body shown by the device.
type Payload struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Icon    string         `json:"icon,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	Urgency string         `json:"urgency,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Delivery summarizes one fan-out.
type Delivery struct {
	Attempted int      `json:"attempted"`
	Delivered int      `json:"delivered"`
	Expired   int      `json:"expired"`
	Errors    []string `json:"errors,omitempty"`
}

// Sender delivers a payload to every device of a user. Both the in-process
// Service and the remote RelayClient implement it.
type Sender interface {
	Send(ctx context.Context, userID string, p Payload) (Delivery, error)
}

// RelayRequest is the body POSTed to the relay.
type RelayRequest struct {
	UserID       string  `json:"userId"`
	Notification Payload `json:"notification"`
}

// RelayResponse is the relay's answer.
type RelayResponse struct {
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	Delivery *Delivery `json:"delivery,omitempty"`
}

// RelayClient calls a remote push relay over HTTP.
type RelayClient struct {
	url        string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

type RelayOption func(*RelayClient)

func WithHTTPClient(c *http.Client) RelayOption {
	return func(rc *RelayClient) {
		rc.httpClient = c
	}
}

func WithTimeout(d time.Duration) RelayOption {
	return func(rc *RelayClient) {
		if d > 0 {
			rc.timeout = d
		}
	}
}

// WithBearerToken sets the Authorization header sent to the relay.
func WithBearerToken(token string) RelayOption {
	return func(rc *RelayClient) {
		rc.token = token
	}
}

func NewRelayClient(url string, opts ...RelayOption) *RelayClient {
	rc := &RelayClient{
		url:        url,
		timeout:    DefaultRelayTimeout,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Send POSTs the payload to the relay. Every failure, including a
// success=false answer, is a *RelayError.
func (rc *RelayClient) Send(ctx context.Context, userID string, p Payload) (Delivery, error) {
	body, err := json.Marshal(RelayRequest{UserID: userID, Notification: p})
	if err != nil {
		return Delivery{}, fmt.Errorf("marshal relay request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.url, bytes.NewReader(body))
	if err != nil {
		return Delivery{}, &RelayError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if rc.token != "" {
		req.Header.Set("Authorization", "Bearer "+rc.token)
	}

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return Delivery{}, &RelayError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Delivery{}, &RelayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var rr RelayResponse
	decodeErr := json.Unmarshal(raw, &rr)

	if resp.StatusCode >= 400 {
		return Delivery{}, &RelayError{StatusCode: resp.StatusCode, Message: rr.Error}
	}
	if decodeErr != nil {
		return Delivery{}, &RelayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if !rr.Success {
		msg := rr.Error
		if msg == "" {
			msg = "relay reported failure"
		}
		return Delivery{}, &RelayError{StatusCode: resp.StatusCode, Message: msg}
	}

	if rr.Delivery != nil {
		return *rr.Delivery, nil
	}
	return Delivery{Attempted: 1, Delivered: 1}, nil
}
