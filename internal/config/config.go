// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/mbd888/sovereign/internal/operation"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage (both optional, in-memory if not set)
	DatabaseURL string
	RedisURL    string

	// Control plane identity
	Domain       string
	DatabaseName string

	// Forensic logging and approval
	AuditEnabled       bool
	ApprovalEnabled    bool
	AuthorityEnabled   bool   // serve the reference authority on /v1/authority/decisions
	AuthorityURL       string // external authority; empty consults the reference policy in process
	ApprovalTimeout    time.Duration
	Thresholds         operation.Thresholds
	CriticalOperations operation.TypeSet

	// Notifications
	SovereignEmail string
	NotifyProvider string
	NotifyTimeout  time.Duration
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	SMTPFrom       string
	WebhookURL     string
	WebhookSecret  string
	KafkaBrokers   []string
	KafkaTopic     string

	// Archival
	ArchiveRetentionDays int
	ArchiveInterval      time.Duration

	// Security
	AdminSecret    string
	RateLimitRPM   int // per client IP; 0 disables
	RateLimitBurst int
	CORSOrigins    []string // empty allows any origin

	// Observability
	OTLPEndpoint string

	// Warnings collects configuration problems that were replaced by
	// defaults. They are logged at startup and never abort it.
	Warnings []string
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultDomain          = "localhost"
	DefaultSovereignEmail  = "sovereign@localhost"
	DefaultNotifyProvider  = "console"
	DefaultApprovalTimeout = 5 * time.Second
	DefaultNotifyTimeout   = 3 * time.Second
	DefaultSMTPPort        = 587
	DefaultRetentionDays   = 90
	DefaultArchiveInterval = time.Hour
	DefaultRateLimitRPM    = 600
	DefaultRateLimitBurst  = 60
)

var knownProviders = map[string]bool{
	"console": true, "smtp": true, "webhook": true, "kafka": true, "realtime": true,
}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	l := &loader{}
	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		Domain:               getEnv("DOMAIN", DefaultDomain),
		DatabaseName:         os.Getenv("DATABASE_NAME"),
		AuditEnabled:         l.bool("AUDIT_ENABLED", true),
		ApprovalEnabled:      l.bool("APPROVAL_ENABLED", true),
		AuthorityEnabled:     l.bool("AUTHORITY_ENABLED", true),
		AuthorityURL:         os.Getenv("APPROVAL_AUTHORITY_URL"),
		ApprovalTimeout:      l.duration("APPROVAL_TIMEOUT", DefaultApprovalTimeout),
		NotifyTimeout:        l.duration("NOTIFY_TIMEOUT", DefaultNotifyTimeout),
		SovereignEmail:       os.Getenv("SOVEREIGN_EMAIL"),
		NotifyProvider:       strings.ToLower(getEnv("NOTIFY_PROVIDER", DefaultNotifyProvider)),
		SMTPHost:             os.Getenv("SMTP_HOST"),
		SMTPPort:             l.int("SMTP_PORT", DefaultSMTPPort),
		SMTPUsername:         os.Getenv("SMTP_USERNAME"),
		SMTPPassword:         os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:             os.Getenv("SMTP_FROM"),
		WebhookURL:           os.Getenv("NOTIFY_WEBHOOK_URL"),
		WebhookSecret:        os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		KafkaBrokers:         splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:           os.Getenv("KAFKA_TOPIC"),
		ArchiveRetentionDays: l.int("ARCHIVE_RETENTION_DAYS", DefaultRetentionDays),
		ArchiveInterval:      l.duration("ARCHIVE_INTERVAL", DefaultArchiveInterval),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:         l.int("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		RateLimitBurst:       l.int("RATE_LIMIT_BURST", DefaultRateLimitBurst),
		CORSOrigins:          splitList(os.Getenv("CORS_ORIGINS")),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	cfg.Thresholds = operation.Thresholds{
		AutoApprove:  l.amount("AUTO_APPROVE_AMOUNT", operation.DefaultAutoApproveAmount),
		ManualReview: l.amount("MANUAL_REVIEW_AMOUNT", operation.DefaultManualReviewAmount),
		Critical:     l.amount("CRITICAL_AMOUNT", operation.DefaultCriticalAmount),
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		l.warn("thresholds out of order (%v); using defaults", err)
		cfg.Thresholds = operation.DefaultThresholds()
	}

	cfg.CriticalOperations = operation.DefaultCriticalTypes()
	if v := os.Getenv("CRITICAL_OPERATIONS"); v != "" {
		set, unknown := operation.ParseTypeList(v)
		if len(unknown) > 0 {
			l.warn("CRITICAL_OPERATIONS: ignoring unknown types %s", strings.Join(unknown, ", "))
		}
		if len(set) > 0 {
			cfg.CriticalOperations = set
		}
	}

	if cfg.SovereignEmail == "" {
		l.warn("SOVEREIGN_EMAIL not set; sovereign notifications go to %s", DefaultSovereignEmail)
		cfg.SovereignEmail = DefaultSovereignEmail
	}
	if !knownProviders[cfg.NotifyProvider] {
		l.warn("unknown NOTIFY_PROVIDER %q; using console", cfg.NotifyProvider)
		cfg.NotifyProvider = DefaultNotifyProvider
	}
	if cfg.ArchiveRetentionDays <= 0 {
		l.warn("ARCHIVE_RETENTION_DAYS must be positive; using %d", DefaultRetentionDays)
		cfg.ArchiveRetentionDays = DefaultRetentionDays
	}
	if cfg.RateLimitRPM < 0 {
		l.warn("RATE_LIMIT_RPM must not be negative; using %d", DefaultRateLimitRPM)
		cfg.RateLimitRPM = DefaultRateLimitRPM
	}
	if cfg.RateLimitBurst <= 0 {
		l.warn("RATE_LIMIT_BURST must be positive; using %d", DefaultRateLimitBurst)
		cfg.RateLimitBurst = DefaultRateLimitBurst
	}
	if cfg.NotifyTimeout >= cfg.ApprovalTimeout {
		l.warn("NOTIFY_TIMEOUT %s is not shorter than APPROVAL_TIMEOUT %s", cfg.NotifyTimeout, cfg.ApprovalTimeout)
	}
	if !cfg.AuditEnabled {
		l.warn("AUDIT_ENABLED=false: operations will run without a forensic audit trail")
	}
	if cfg.AdminSecret == "" && cfg.IsProduction() {
		l.warn("ADMIN_SECRET not set in production; admin routes are unauthenticated")
	}
	cfg.Warnings = l.warnings

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("PORT must be a valid TCP port, got %q", c.Port)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loader parses typed values and records a warning for each fallback.
type loader struct {
	warnings []string
}

func (l *loader) warn(format string, args ...any) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func (l *loader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		l.warn("%s=%q is not an integer; using %d", key, v, def)
		return def
	}
	return i
}

func (l *loader) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.warn("%s=%q is not a boolean; using %t", key, v, def)
		return def
	}
	return b
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		l.warn("%s=%q is not a positive duration; using %s", key, v, def)
		return def
	}
	return d
}

func (l *loader) amount(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil || d.IsNegative() {
		l.warn("%s=%q is not a non-negative amount; using %s", key, v, def)
		return def
	}
	return d
}
