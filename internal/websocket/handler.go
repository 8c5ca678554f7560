package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/kennel/internal/auth"
)

// HandleWebSocket upgrades authenticated requests and attaches them to the
// caller's live feed. reads may be nil, in which case read acks are dropped.
func HandleWebSocket(hub *Hub, reads ReadMarker, logger *slog.Logger, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns:     originPatterns,
			InsecureSkipVerify: len(originPatterns) == 0,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		logger.Debug("live feed connected", "user_id", userID)
		NewClient(hub, conn, userID, reads, logger).Run(r.Context())
	}
}
