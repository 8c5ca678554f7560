package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Port      string        `env:"KENNEL_PORT" env-default:"8080"`
	DBPath    string        `env:"KENNEL_DB_PATH" env-default:"kennel.db"`
	LogLevel  string        `env:"KENNEL_LOG_LEVEL" env-default:"info"`
	LogFormat string        `env:"KENNEL_LOG_FORMAT" env-default:"text"`
	JWTSecret string        `env:"KENNEL_JWT_SECRET"`
	JWTExpiry time.Duration `env:"KENNEL_JWT_EXPIRY" env-default:"24h"`
	Timezone  string        `env:"KENNEL_TIMEZONE" env-default:"UTC"`

	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string `env:"KENNEL_ALLOWED_ORIGINS" env-separator:","`

	Push      PushConfig
	Scheduler SchedulerConfig
	Backup    BackupConfig
}

type PushConfig struct {
	VAPIDPublicKey      string        `env:"KENNEL_VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey     string        `env:"KENNEL_VAPID_PRIVATE_KEY"`
	VAPIDSubject        string        `env:"KENNEL_VAPID_SUBJECT" env-default:"mailto:noreply@kennel.app"`
	RelayURL            string        `env:"KENNEL_RELAY_URL"`
	RelayTimeout        time.Duration `env:"KENNEL_RELAY_TIMEOUT" env-default:"15s"`
	RelayToken          string        `env:"KENNEL_RELAY_TOKEN"`
	FirebaseCredentials string        `env:"KENNEL_FIREBASE_CREDENTIALS"`
	Icon                string        `env:"KENNEL_PUSH_ICON" env-default:"/icons/icon-192.png"`
}

// WebPushEnabled reports whether both VAPID keys are present.
func (p PushConfig) WebPushEnabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

type SchedulerConfig struct {
	Interval time.Duration `env:"KENNEL_SCHEDULER_INTERVAL" env-default:"60s"`
	Disabled bool          `env:"KENNEL_SCHEDULER_DISABLED" env-default:"false"`
}

type BackupConfig struct {
	S3Endpoint  string `env:"KENNEL_S3_ENDPOINT"`
	S3Bucket    string `env:"KENNEL_S3_BUCKET"`
	S3Region    string `env:"KENNEL_S3_REGION" env-default:"us-east-1"`
	S3AccessKey string `env:"KENNEL_S3_ACCESS_KEY"`
	S3SecretKey string `env:"KENNEL_S3_SECRET_KEY"`
	Passphrase  string `env:"KENNEL_BACKUP_PASSPHRASE"`
}

// S3Enabled reports whether snapshot uploads are configured.
func (b BackupConfig) S3Enabled() bool {
	return b.S3Bucket != "" && b.S3AccessKey != "" && b.S3SecretKey != ""
}

// Load reads an optional .env file, then the process environment.
// Values already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if cfg.Push.RelayTimeout <= 0 {
		cfg.Push.RelayTimeout = 15 * time.Second
	}
	if cfg.Scheduler.Interval <= 0 {
		cfg.Scheduler.Interval = time.Minute
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("KENNEL_TIMEZONE: %w", err)
	}
	return &cfg, nil
}

// Location is the zone quiet hours and seeded schedules are computed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
