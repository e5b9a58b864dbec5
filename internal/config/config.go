/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Delivery channel selection.
type ChannelKind string

const (
	ChannelWebhook ChannelKind = "webhook"
	ChannelEmail   ChannelKind = "email"
	ChannelWebPush ChannelKind = "webpush"
	ChannelLog     ChannelKind = "log"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment     string
	HTTPBind        string
	HTTPPort        int
	DBBackend       DatabaseBackend
	DBDSN           string
	DefaultTimezone string // Fallback zone for rendering when a contact's zone is unusable

	// Reminder policy; may be overridden by PolicyFile
	PolicyFile string
	Policy     Policy

	// Delivery channel
	Channel       ChannelKind
	WebhookURL    string
	WebhookSecret string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	WebPushTTL      int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	// Event bridge
	NATSURL           string
	NATSSubjectPrefix string

	LegacyEnvWarnings []string
}

// Policy holds the reminder and delivery tuning knobs.
type Policy struct {
	GraceWindow     time.Duration `yaml:"grace_window"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	BatchSize       int           `yaml:"batch_size"`
	Workers         int           `yaml:"workers"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	ClaimLease      time.Duration `yaml:"claim_lease"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	RateBurst       int           `yaml:"rate_burst"`
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		GraceWindow:     2 * time.Minute,
		PollInterval:    15 * time.Second,
		BatchSize:       10,
		Workers:         2,
		DeliveryTimeout: 10 * time.Second,
		MaxAttempts:     5,
		BackoffBase:     30 * time.Second,
		BackoffMax:      15 * time.Minute,
		ClaimLease:      2 * time.Minute,
		RatePerSecond:   20,
		RateBurst:       5,
	}
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	def := DefaultPolicy()
	cfg := &Config{
		Environment:     getEnvAny([]string{"INTERVIEWD_ENV", "RECRUIT_ENV"}, "development"),
		HTTPBind:        getEnvAny([]string{"INTERVIEWD_HTTP_BIND", "RECRUIT_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:        getEnvIntAny([]string{"INTERVIEWD_HTTP_PORT", "RECRUIT_HTTP_PORT"}, 8090),
		DBBackend:       DatabaseBackend(getEnvAny([]string{"INTERVIEWD_DB_BACKEND", "RECRUIT_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:           getEnvAny([]string{"INTERVIEWD_DB_DSN", "RECRUIT_DB_DSN"}, ""),
		DefaultTimezone: getEnvAny([]string{"INTERVIEWD_DEFAULT_TIMEZONE", "RECRUIT_DEFAULT_TIMEZONE"}, "UTC"),
		PolicyFile:      getEnvAny([]string{"INTERVIEWD_POLICY_FILE"}, ""),

		Policy: Policy{
			GraceWindow:     getEnvDurationAny([]string{"INTERVIEWD_GRACE_WINDOW"}, def.GraceWindow),
			PollInterval:    getEnvDurationAny([]string{"INTERVIEWD_POLL_INTERVAL"}, def.PollInterval),
			BatchSize:       getEnvIntAny([]string{"INTERVIEWD_BATCH_SIZE"}, def.BatchSize),
			Workers:         getEnvIntAny([]string{"INTERVIEWD_WORKERS"}, def.Workers),
			DeliveryTimeout: getEnvDurationAny([]string{"INTERVIEWD_DELIVERY_TIMEOUT"}, def.DeliveryTimeout),
			MaxAttempts:     getEnvIntAny([]string{"INTERVIEWD_MAX_ATTEMPTS"}, def.MaxAttempts),
			BackoffBase:     getEnvDurationAny([]string{"INTERVIEWD_BACKOFF_BASE"}, def.BackoffBase),
			BackoffMax:      getEnvDurationAny([]string{"INTERVIEWD_BACKOFF_MAX"}, def.BackoffMax),
			ClaimLease:      getEnvDurationAny([]string{"INTERVIEWD_CLAIM_LEASE"}, def.ClaimLease),
			RatePerSecond:   getEnvFloatAny([]string{"INTERVIEWD_RATE_PER_SECOND"}, def.RatePerSecond),
			RateBurst:       getEnvIntAny([]string{"INTERVIEWD_RATE_BURST"}, def.RateBurst),
		},

		Channel:       ChannelKind(getEnvAny([]string{"INTERVIEWD_CHANNEL", "RECRUIT_CHANNEL"}, string(ChannelLog))),
		WebhookURL:    getEnvAny([]string{"INTERVIEWD_WEBHOOK_URL", "RECRUIT_WEBHOOK_URL"}, ""),
		WebhookSecret: getEnvAny([]string{"INTERVIEWD_WEBHOOK_SECRET", "RECRUIT_WEBHOOK_SECRET"}, ""),

		SMTPHost:     getEnvAny([]string{"INTERVIEWD_SMTP_HOST", "SMTP_HOST"}, ""),
		SMTPPort:     getEnvIntAny([]string{"INTERVIEWD_SMTP_PORT", "SMTP_PORT"}, 587),
		SMTPUsername: getEnvAny([]string{"INTERVIEWD_SMTP_USERNAME", "SMTP_USERNAME"}, ""),
		SMTPPassword: getEnvAny([]string{"INTERVIEWD_SMTP_PASSWORD", "SMTP_PASSWORD"}, ""),
		SMTPFrom:     getEnvAny([]string{"INTERVIEWD_SMTP_FROM", "SMTP_FROM"}, ""),
		SMTPFromName: getEnvAny([]string{"INTERVIEWD_SMTP_FROM_NAME", "SMTP_FROM_NAME"}, "Recruiting"),

		VAPIDPublicKey:  getEnvAny([]string{"INTERVIEWD_VAPID_PUBLIC_KEY"}, ""),
		VAPIDPrivateKey: getEnvAny([]string{"INTERVIEWD_VAPID_PRIVATE_KEY"}, ""),
		VAPIDSubject:    getEnvAny([]string{"INTERVIEWD_VAPID_SUBJECT"}, ""),
		WebPushTTL:      getEnvIntAny([]string{"INTERVIEWD_WEBPUSH_TTL"}, 3600),

		TracingEnabled:    getEnvBoolAny([]string{"INTERVIEWD_TRACING_ENABLED", "RECRUIT_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"INTERVIEWD_OTLP_ENDPOINT", "RECRUIT_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"INTERVIEWD_TRACING_SAMPLE_RATE", "RECRUIT_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"INTERVIEWD_LEADER_ELECTION_ENABLED", "RECRUIT_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"INTERVIEWD_REDIS_ADDR", "RECRUIT_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"INTERVIEWD_REDIS_PASSWORD", "RECRUIT_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"INTERVIEWD_REDIS_DB", "RECRUIT_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"INTERVIEWD_INSTANCE_ID", "HOSTNAME"}, ""),

		NATSURL:           getEnvAny([]string{"INTERVIEWD_NATS_URL", "NATS_URL"}, ""),
		NATSSubjectPrefix: getEnvAny([]string{"INTERVIEWD_NATS_SUBJECT_PREFIX"}, "interviews.events"),
	}

	if cfg.PolicyFile != "" {
		if err := cfg.Policy.MergeFile(cfg.PolicyFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("INTERVIEWD_DB_DSN or RECRUIT_DB_DSN must be provided")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("INTERVIEWD_DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err)
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}

	switch c.Channel {
	case ChannelLog:
		if strings.EqualFold(c.Environment, "production") {
			return fmt.Errorf("the log channel cannot be used in production; set INTERVIEWD_CHANNEL")
		}
	case ChannelWebhook:
		if c.WebhookURL == "" {
			return fmt.Errorf("INTERVIEWD_WEBHOOK_URL is required for the webhook channel")
		}
	case ChannelEmail:
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			return fmt.Errorf("INTERVIEWD_SMTP_HOST and INTERVIEWD_SMTP_FROM are required for the email channel")
		}
	case ChannelWebPush:
		if c.VAPIDPublicKey == "" || c.VAPIDPrivateKey == "" {
			return fmt.Errorf("VAPID keys must be configured for the webpush channel")
		}
	default:
		return fmt.Errorf("unsupported delivery channel %q", c.Channel)
	}
	return nil
}

// Validate checks the policy for values that would stall or spin the worker.
func (p Policy) Validate() error {
	var problems []string
	if p.GraceWindow < 0 {
		problems = append(problems, "grace_window must not be negative")
	}
	if p.PollInterval <= 0 {
		problems = append(problems, "poll_interval must be positive")
	}
	if p.BatchSize <= 0 {
		problems = append(problems, "batch_size must be positive")
	}
	if p.Workers <= 0 {
		problems = append(problems, "workers must be positive")
	}
	if p.DeliveryTimeout <= 0 {
		problems = append(problems, "delivery_timeout must be positive")
	}
	if p.MaxAttempts < 1 {
		problems = append(problems, "max_attempts must be at least 1")
	}
	if p.BackoffBase <= 0 || p.BackoffMax < p.BackoffBase {
		problems = append(problems, "backoff_base must be positive and not exceed backoff_max")
	}
	if p.ClaimLease <= p.DeliveryTimeout {
		problems = append(problems, "claim_lease must exceed delivery_timeout")
	} else if p.BatchSize > 0 && p.ClaimLease <= time.Duration(p.BatchSize)*p.DeliveryTimeout {
		// A worker sends its batch sequentially under one claim.
		problems = append(problems, "claim_lease must exceed batch_size * delivery_timeout")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid reminder policy: %s", strings.Join(problems, "; "))
	}
	return nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"RECRUIT_ENV":             "use INTERVIEWD_ENV",
		"RECRUIT_DB_DSN":          "use INTERVIEWD_DB_DSN",
		"RECRUIT_CHANNEL":         "use INTERVIEWD_CHANNEL",
		"RECRUIT_TRACING_ENABLED": "use INTERVIEWD_TRACING_ENABLED",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first set environment variable value from keys, or def.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
