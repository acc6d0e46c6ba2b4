package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Admin        AdminConfig        `mapstructure:"admin"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	S3           S3Config           `mapstructure:"s3"`
	Notification NotificationConfig `mapstructure:"notification"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	CORS         CORSConfig         `mapstructure:"cors"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// AdminConfig carries the Management API's single shared secret.
type AdminConfig struct {
	APIToken string `mapstructure:"api_token"`
}

// WebhookConfig carries the outgoing-webhook destination and signing secret.
type WebhookConfig struct {
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

// S3Config describes the blob store used only for presigned URLs.
type S3Config struct {
	Endpoint string `mapstructure:"endpoint"`
	Bucket   string `mapstructure:"bucket"`
}

// NotificationConfig tunes the debounced notification.pending job.
type NotificationConfig struct {
	DelaySeconds int `mapstructure:"delay_seconds"`
	Concurrency  int `mapstructure:"concurrency"`
}

// ArchiveConfig tunes the cron-style auto-archiver.
type ArchiveConfig struct {
	Cron      string `mapstructure:"cron"` // e.g. "5m" or "@every 5m"
	AfterDays int    `mapstructure:"after_days"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 3200)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("notification.delay_seconds", 30)
	v.SetDefault("notification.concurrency", 4)

	v.SetDefault("archive.cron", "@every 5m")
	v.SetDefault("archive.after_days", 7)

	v.SetDefault("cors.allow_origins", []string{"http://localhost:5173"})

	// Env mapping
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config keys
	envMap := map[string]string{
		"database.url":               "DATABASE_URL",
		"redis.url":                  "REDIS_URL",
		"admin.api_token":            "ADMIN_API_TOKEN",
		"webhook.url":                "WEBHOOK_URL",
		"webhook.secret":             "WEBHOOK_SECRET",
		"s3.endpoint":                "S3_ENDPOINT",
		"s3.bucket":                  "S3_BUCKET",
		"notification.delay_seconds": "NOTIFICATION_DELAY_SECS",
		"notification.concurrency":   "NOTIFICATION_CONCURRENCY",
		"archive.cron":               "ARCHIVE_CRON",
		"archive.after_days":         "ARCHIVE_AFTER_DAYS",
		"server.port":                "PORT",
		"server.mode":                "GIN_MODE",
	}

	for key, env := range envMap {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Admin.APIToken == "" {
		return nil, fmt.Errorf("ADMIN_API_TOKEN is required")
	}
	if cfg.Webhook.Secret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	return &cfg, nil
}
