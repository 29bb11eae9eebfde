// Package config loads presencewatch's configuration from the
// environment, following the same caarlos0/env + godotenv layering
// used elsewhere in the wider WhatsApp/Signal tooling this project
// grew out of: ENV vars > .env file > struct defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable named in the core spec (§6) plus the
// ambient settings (logging, storage, transport credentials) a runnable
// process needs.
type Config struct {
	// Core correlation tunables (spec.md §6)
	TimeoutMS          int64         `env:"TIMEOUT_MS" envDefault:"10000"`
	BaseIntervalS      float64       `env:"BASE_INTERVAL_S" envDefault:"2.0"`
	JitterS            float64       `env:"JITTER_S" envDefault:"0.15"`
	StreakBackoff1S    float64       `env:"STREAK_BACKOFF_1_S" envDefault:"3.0"`
	StreakBackoff2S    float64       `env:"STREAK_BACKOFF_2_S" envDefault:"5.0"`
	HistoryLimit       int           `env:"HISTORY_LIMIT" envDefault:"2000"`
	RecentLimit        int           `env:"RECENT_LIMIT" envDefault:"3"`
	MinHistory         int           `env:"MIN_HISTORY" envDefault:"10"`
	ThresholdFactor    float64       `env:"THRESHOLD_FACTOR" envDefault:"1.25"`
	ThresholdFloorMS   int64         `env:"THRESHOLD_FLOOR_MS" envDefault:"80"`
	WindowSize         int           `env:"WINDOW_SIZE" envDefault:"600"`
	BroadcastIntervalMS int64        `env:"BROADCAST_INTERVAL_MS" envDefault:"2000"`
	LateWindowMS       int64         `env:"LATE_WINDOW_MS" envDefault:"120000"`
	QueueCap           int           `env:"QUEUE_CAP" envDefault:"10000"`
	BackoffMaxS        float64       `env:"BACKOFF_MAX_S" envDefault:"30"`

	// Storage
	DBPath string `env:"DB_PATH" envDefault:"presencewatch.db"`

	// Notification email delivery
	SMTPHost string `env:"SMTP_HOST" envDefault:""`
	SMTPPort int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPFrom string `env:"SMTP_FROM" envDefault:"presencewatch@localhost"`

	// Signal adapter
	SignalReceiveURL string `env:"SIGNAL_RECEIVE_URL" envDefault:"http://localhost:8080"`
	SignalAccount    string `env:"SIGNAL_ACCOUNT" envDefault:""`

	// WhatsApp Cloud adapter
	WhatsAppCloudToken       string `env:"WHATSAPP_CLOUD_TOKEN" envDefault:""`
	WhatsAppCloudPhoneID     string `env:"WHATSAPP_CLOUD_PHONE_ID" envDefault:""`
	WhatsAppCloudVerifyToken string `env:"WHATSAPP_CLOUD_VERIFY_TOKEN" envDefault:""`
	WhatsAppCloudAppSecret   string `env:"WHATSAPP_CLOUD_APP_SECRET" envDefault:""`

	// WhatsApp Web bridge adapter
	WhatsAppWebDBPath string `env:"WHATSAPP_WEB_DB_PATH" envDefault:"whatsapp-web.db"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// Load reads configuration from a .env file (if present) followed by
// the environment, then validates it.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate rejects nonsensical tunables before the process starts
// driving real traffic against a platform.
func (c *Config) Validate() error {
	if c.TimeoutMS <= 0 {
		return fmt.Errorf("TIMEOUT_MS must be > 0, got %d", c.TimeoutMS)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0, got %d", c.HistoryLimit)
	}
	if c.RecentLimit <= 0 {
		return fmt.Errorf("RECENT_LIMIT must be > 0, got %d", c.RecentLimit)
	}
	if c.MinHistory <= 0 {
		return fmt.Errorf("MIN_HISTORY must be > 0, got %d", c.MinHistory)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("WINDOW_SIZE must be > 0, got %d", c.WindowSize)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug,info,warn,error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json,console (got %q)", c.LogFormat)
	}
	return nil
}

// StreakBackoff implements the STREAK_BACKOFF schedule: streak=1 -> 3s,
// streak>=2 -> 5s, streak=0 (no prior timeout) -> the base interval.
func (c *Config) StreakBackoff(streak int) time.Duration {
	switch {
	case streak >= 2:
		return time.Duration(c.StreakBackoff2S * float64(time.Second))
	case streak == 1:
		return time.Duration(c.StreakBackoff1S * float64(time.Second))
	default:
		return time.Duration(c.BaseIntervalS * float64(time.Second))
	}
}

// Timeout is TIMEOUT_MS as a time.Duration.
func (c *Config) Timeout() time.Duration { return time.Duration(c.TimeoutMS) * time.Millisecond }

// LateWindow is LATE_WINDOW_MS as a time.Duration.
func (c *Config) LateWindow() time.Duration { return time.Duration(c.LateWindowMS) * time.Millisecond }

// BroadcastInterval is BROADCAST_INTERVAL_MS as a time.Duration.
func (c *Config) BroadcastInterval() time.Duration {
	return time.Duration(c.BroadcastIntervalMS) * time.Millisecond
}

// BackoffMax is BACKOFF_MAX_S as a time.Duration.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxS * float64(time.Second))
}

// Jitter is JITTER_S as a time.Duration upper bound.
func (c *Config) Jitter() time.Duration {
	return time.Duration(c.JitterS * float64(time.Second))
}
