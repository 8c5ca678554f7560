package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/kennel/internal/database"
	"github.com/dukerupert/kennel/internal/handler"
	"github.com/dukerupert/kennel/internal/middleware"
	ws "github.com/dukerupert/kennel/internal/websocket"
)

const (
	apiRateLimit  = 120
	apiRateWindow = time.Minute
)

// Deps is everything the HTTP surface needs. The services are built by the
// caller so background workers can share them.
type Deps struct {
	DB             *sql.DB
	Hub            *ws.Hub
	Tokens         middleware.TokenValidator
	Notifications  *handler.NotificationHandler
	Templates      *handler.TemplateHandler
	Schedules      *handler.ScheduleHandler
	Preferences    *handler.PreferenceHandler
	Push           *handler.PushHandler
	Admin          *handler.AdminHandler
	LiveReads      ws.ReadMarker
	OriginPatterns []string
}

type Server struct {
	deps        Deps
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Server {
	return &Server{
		deps:        deps,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	rl := middleware.RateLimit(s.rateLimiter, middleware.UserOrIP, apiRateLimit, apiRateWindow)
	outerMux.Handle("/", middleware.RequireAuth(s.deps.Tokens)(rl(protectedMux)))

	return middleware.RequestLogger(s.logger.With("component", "http"))(
		middleware.Recover(s.logger.With("component", "http"))(outerMux),
	)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(r.Context()); err != nil {
			s.logger.Error("health check: database unreachable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		if v, err := database.Version(s.deps.DB); err == nil {
			status["schema_version"] = v
		}
	}
	if s.deps.Hub != nil {
		status["live_clients"] = s.deps.Hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	d := s.deps

	// Notification API routes
	mux.HandleFunc("GET /api/notifications", d.Notifications.List)
	mux.HandleFunc("POST /api/notifications", d.Notifications.Create)
	mux.HandleFunc("GET /api/notifications/unread-count", d.Notifications.UnreadCount)
	mux.HandleFunc("GET /api/notifications/{id}", d.Notifications.Get)
	mux.HandleFunc("POST /api/notifications/{id}/read", d.Notifications.MarkRead)
	mux.HandleFunc("DELETE /api/notifications/{id}", d.Notifications.Delete)

	mux.HandleFunc("GET /api/templates", d.Templates.List)

	// Scheduled notification routes
	mux.HandleFunc("GET /api/schedules", d.Schedules.List)
	mux.HandleFunc("POST /api/schedules", d.Schedules.Create)
	mux.HandleFunc("GET /api/schedules/{id}", d.Schedules.Get)
	mux.HandleFunc("POST /api/schedules/{id}/cancel", d.Schedules.Cancel)

	mux.HandleFunc("GET /api/preferences/{dog_id}", d.Preferences.Get)
	mux.HandleFunc("PUT /api/preferences/{dog_id}", d.Preferences.Update)

	// Push notification API routes
	mux.HandleFunc("POST /api/push/subscribe", d.Push.Subscribe)
	mux.HandleFunc("POST /api/push/unsubscribe", d.Push.Unsubscribe)
	mux.HandleFunc("GET /api/push/subscriptions", d.Push.ListSubscriptions)
	mux.HandleFunc("GET /api/push/vapid-key", d.Push.GetVAPIDKey)
	mux.HandleFunc("POST /api/push/test", d.Push.TestNotification)
	mux.HandleFunc("POST /api/push/relay", d.Push.Relay)

	if d.Admin != nil {
		mux.Handle("POST /api/admin/migrate", middleware.RequireAdmin(http.HandlerFunc(d.Admin.Migrate)))
	}

	// WebSocket
	if d.Hub != nil {
		mux.HandleFunc("GET /ws", ws.HandleWebSocket(d.Hub, d.LiveReads, s.logger.With("component", "websocket"), d.OriginPatterns))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
