package websocket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dukerupert/kennel/internal/auth"
)

type fakeMarker struct {
	mu   sync.Mutex
	acks []string
	done chan struct{}
}

func (f *fakeMarker) MarkReadBy(_ context.Context, userID, id string) error {
	f.mu.Lock()
	f.acks = append(f.acks, userID+"/"+id)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

// withUser stands in for the auth middleware.
func withUser(userID string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), auth.AuthContext{UserID: userID})))
	})
}

func TestLiveFeedRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	marker := &fakeMarker{done: make(chan struct{}, 1)}

	srv := httptest.NewServer(withUser("u1", HandleWebSocket(hub, marker, logger, nil)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// Registration happens after the upgrade completes.
	deadline := time.Now().Add(2 * time.Second)
	for hub.UserClientCount("u1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish("u1", NewMessage("notification", "created", "n1", nil))
	var got Message
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "notification_created" || got.ID != "n1" {
		t.Errorf("message = %+v", got)
	}

	// Unknown frames are ignored; the read ack reaches the marker.
	if err := wsjson.Write(ctx, conn, map[string]string{"type": "typing"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := wsjson.Write(ctx, conn, inbound{Type: "read", ID: "n1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-marker.done:
	case <-ctx.Done():
		t.Fatal("read ack not delivered")
	}

	marker.mu.Lock()
	defer marker.mu.Unlock()
	if len(marker.acks) != 1 || marker.acks[0] != "u1/n1" {
		t.Errorf("acks = %v", marker.acks)
	}
}

func TestLiveFeedRequiresUser(t *testing.T) {
	hub := NewHub(slog.Default())
	rec := httptest.NewRecorder()
	HandleWebSocket(hub, nil, slog.Default(), nil).ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
