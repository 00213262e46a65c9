// Package config loads application configuration from the environment.
//
// Required credentials (database DSN, Telegram API identity) fail loading
// immediately; everything else carries a sensible default. A .env file is
// honored when present for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every knob consumed by the ingestion, alerting, and digest
// pipelines.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`

	// Telegram (channel fetch collaborator)
	TGAPIID          int           `env:"TG_API_ID,required"`
	TGAPIHash        string        `env:"TG_API_HASH,required"`
	TGPhone          string        `env:"TG_PHONE"`
	TG2FAPassword    string        `env:"TG_2FA_PASSWORD"`
	TGSessionPath    string        `env:"TG_SESSION_PATH" envDefault:"./tg.session"`
	ReaderFetchLimit int           `env:"READER_FETCH_LIMIT" envDefault:"100"`
	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT" envDefault:"20s"`
	RateLimitRPS     int           `env:"RATE_LIMIT_RPS" envDefault:"1"`

	// LLM collaborator
	LLMAPIKey         string        `env:"LLM_API_KEY"`
	LLMModel          string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMTimeout        time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
	SummaryTargetLang string        `env:"SUMMARY_TARGET_LANG" envDefault:"en"`
	SummaryMaxTokens  int           `env:"SUMMARY_MAX_TOKENS" envDefault:"800"`

	// Schedules (5-field cron expressions)
	IngestCron  string `env:"INGEST_CRON" envDefault:"*/5 * * * *"`
	DigestCron  string `env:"DIGEST_CRON" envDefault:"0 * * * *"`
	CleanupCron string `env:"CLEANUP_CRON" envDefault:"30 3 * * *"`

	// Digest
	DigestWindowHours   int    `env:"DIGEST_WINDOW_HOURS" envDefault:"1"`
	DigestRecipients    string `env:"DIGEST_RECIPIENTS"`
	DigestRetentionDays int    `env:"DIGEST_RETENTION_DAYS" envDefault:"30"`

	// SMTP (notification collaborator)
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPTLS      bool   `env:"SMTP_TLS" envDefault:"true"`
	SMTPFrom     string `env:"SMTP_FROM_EMAIL" envDefault:"tgsentry <no-reply@example.com>"`

	// Alert worker
	AlertQueueSize int `env:"ALERT_QUEUE_SIZE" envDefault:"1024"`

	HealthPort int `env:"HEALTH_PORT" envDefault:"8080"`
}

// Load parses configuration from the environment, reading an optional .env
// file first.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	return cfg, nil
}

// DigestRecipientList returns the configured digest recipients, empty when
// none are set.
func (c *Config) DigestRecipientList() []string {
	return SplitRecipients(c.DigestRecipients)
}

// SMTPConfigured reports whether outbound mail can be attempted.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != ""
}

// SplitRecipients parses a comma-separated recipient list, dropping empties.
func SplitRecipients(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	recipients := make([]string, 0, len(parts))

	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}

	return recipients
}
