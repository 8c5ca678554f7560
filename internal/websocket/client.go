package websocket

import (
	"context"
	"log/slog"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	ackTimeout     = 5 * time.Second
)

// ReadMarker records that a user opened a notification from the live feed.
type ReadMarker interface {
	MarkReadBy(ctx context.Context, userID, notificationID string) error
}

// inbound is the only frame clients send: {"type":"read","id":"..."}.
type inbound struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Client is one live-feed connection owned by a user.
type Client struct {
	hub    *Hub
	conn   *ws.Conn
	userID string
	send   chan []byte
	reads  ReadMarker
	logger *slog.Logger
}

func NewClient(hub *Hub, conn *ws.Conn, userID string, reads ReadMarker, logger *slog.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
		reads:  reads,
		logger: logger,
	}
}

// Run registers the client and blocks until the connection closes.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump handles read acknowledgements. A frame that is not JSON text
// closes the connection.
func (c *Client) readPump(ctx context.Context) {
	for {
		var msg inbound
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			return
		}
		c.handle(ctx, msg)
	}
}

func (c *Client) handle(ctx context.Context, msg inbound) {
	if msg.Type != "read" || msg.ID == "" {
		c.logger.Debug("ignoring live feed frame", "user_id", c.userID, "type", msg.Type)
		return
	}
	if c.reads == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	if err := c.reads.MarkReadBy(ctx, c.userID, msg.ID); err != nil {
		c.logger.Warn("live feed read ack", "user_id", c.userID, "id", msg.ID, "error", err)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
