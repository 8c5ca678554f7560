// Package app assembles the stores, services and HTTP surface from config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/kennel/internal/auth"
	"github.com/dukerupert/kennel/internal/backup"
	"github.com/dukerupert/kennel/internal/classify"
	"github.com/dukerupert/kennel/internal/config"
	"github.com/dukerupert/kennel/internal/handler"
	"github.com/dukerupert/kennel/internal/migrate"
	"github.com/dukerupert/kennel/internal/notify"
	"github.com/dukerupert/kennel/internal/push"
	"github.com/dukerupert/kennel/internal/render"
	"github.com/dukerupert/kennel/internal/scheduler"
	"github.com/dukerupert/kennel/internal/server"
	"github.com/dukerupert/kennel/internal/store"
	ws "github.com/dukerupert/kennel/internal/websocket"
)

var ErrNoJWTSecret = errors.New("KENNEL_JWT_SECRET is required")

type App struct {
	Hub       *ws.Hub
	Notify    *notify.Service
	Scheduler *scheduler.Scheduler
	Push      *push.Service
	Migrator  *migrate.Migrator
	JWT       *auth.JWTManager
	Server    *server.Server
}

// Build wires every component over db. Firebase credentials are read here,
// so ctx bounds that setup.
func Build(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (*App, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrNoJWTSecret
	}
	loc := cfg.Location()

	notificationStore := store.NewNotificationStore(db)
	logStore := store.NewLogStore(db)
	templateStore := store.NewTemplateStore(db)
	prefStore := store.NewPreferenceStore(db)
	scheduleStore := store.NewScheduleStore(db)
	subStore := store.NewSubscriptionStore(db)
	dogStore := store.NewDogStore(db)

	hub := ws.NewHub(logger.With("component", "websocket"))

	// Push: the local service always exists so /api/push/relay can serve
	// other instances. Notifications go through the relay when one is set.
	var pushOpts []push.ServiceOption
	fcm, err := push.NewFCM(ctx, cfg.Push.FirebaseCredentials, logger)
	if err != nil {
		return nil, fmt.Errorf("init fcm: %w", err)
	}
	if fcm != nil {
		pushOpts = append(pushOpts, push.WithFCM(fcm, prefStore))
	}
	if !cfg.Push.WebPushEnabled() {
		logger.Warn("VAPID keys not set, web push disabled")
	}
	pushSvc := push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.VAPIDSubject, subStore, logger, pushOpts...)

	var sender push.Sender = pushSvc
	if cfg.Push.RelayURL != "" {
		sender = push.NewRelayClient(cfg.Push.RelayURL,
			push.WithTimeout(cfg.Push.RelayTimeout),
			push.WithBearerToken(cfg.Push.RelayToken),
		)
		logger.Info("push relay configured", "url", cfg.Push.RelayURL)
	}

	resolver := render.NewResolver(templateStore)
	classifier := classify.New()

	notifySvc := notify.NewService(notificationStore, logStore, prefStore, resolver, classifier, logger,
		notify.WithPusher(push.NewDispatcher(sender, cfg.Push.Icon)),
		notify.WithPublisher(hub),
		notify.WithLocation(loc),
	)

	sched := scheduler.New(scheduleStore, resolver, notifySvc, logger,
		scheduler.WithInterval(cfg.Scheduler.Interval),
		scheduler.WithLocation(loc),
	)

	migrateOpts := []migrate.Option{migrate.WithLocation(loc)}
	uploader := backup.NewUploader(backup.S3Config{
		Endpoint:  cfg.Backup.S3Endpoint,
		Bucket:    cfg.Backup.S3Bucket,
		Region:    cfg.Backup.S3Region,
		AccessKey: cfg.Backup.S3AccessKey,
		SecretKey: cfg.Backup.S3SecretKey,
	}, cfg.Backup.Passphrase, logger)
	if uploader != nil {
		migrateOpts = append(migrateOpts, migrate.WithUploader(uploader))
	}
	migrator := migrate.New(notificationStore, logStore, prefStore, dogStore, sched, classifier, logger, migrateOpts...)

	jwt := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry)

	srv := server.New(server.Deps{
		DB:             db,
		Hub:            hub,
		Tokens:         jwt,
		Notifications:  handler.NewNotificationHandler(notifySvc, logger.With("component", "notification_handler")),
		Templates:      handler.NewTemplateHandler(templateStore, logger.With("component", "template_handler")),
		Schedules:      handler.NewScheduleHandler(sched, logger.With("component", "schedule_handler")),
		Preferences:    handler.NewPreferenceHandler(prefStore, logger.With("component", "preference_handler")),
		Push:           handler.NewPushHandler(subStore, pushSvc, sender, logger.With("component", "push_handler")),
		Admin:          handler.NewAdminHandler(migrator, logger.With("component", "admin_handler")),
		LiveReads:      notifySvc,
		OriginPatterns: cfg.AllowedOrigins,
	}, logger)

	return &App{
		Hub:       hub,
		Notify:    notifySvc,
		Scheduler: sched,
		Push:      pushSvc,
		Migrator:  migrator,
		JWT:       jwt,
		Server:    srv,
	}, nil
}
