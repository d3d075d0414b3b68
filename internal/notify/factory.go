package notify

import (
	"fmt"
	"log/slog"
	"strings"
)

// ProviderConfig selects and configures the primary provider.
type ProviderConfig struct {
	Provider      string
	SMTP          SMTPConfig
	WebhookURL    string
	WebhookSecret string
	KafkaBrokers  []string
	KafkaTopic    string
}

// NewChannel builds the configured provider. A provider that is unknown or
// missing settings degrades to console and the reason is returned as a warning.
func NewChannel(cfg ProviderConfig, hub Broadcaster, logger *slog.Logger) (Channel, string) {
	console := NewConsoleChannel(logger)
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))

	switch name {
	case "", ProviderConsole:
		return console, ""
	case ProviderSMTP:
		if !cfg.SMTP.Configured() {
			return console, "smtp provider selected without SMTP_HOST and SMTP_FROM; using console"
		}
		return NewSMTPChannel(cfg.SMTP), ""
	case ProviderWebhook:
		if cfg.WebhookURL == "" {
			return console, "webhook provider selected without NOTIFY_WEBHOOK_URL; using console"
		}
		return NewWebhookChannel(cfg.WebhookURL, cfg.WebhookSecret), ""
	case ProviderKafka:
		if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
			return console, "kafka provider selected without KAFKA_BROKERS and KAFKA_TOPIC; using console"
		}
		return NewKafkaChannel(NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)), ""
	case ProviderRealtime:
		if hub == nil {
			return console, "realtime provider selected without a hub; using console"
		}
		return NewRealtimeChannel(hub), ""
	default:
		return console, fmt.Sprintf("unknown notification provider %q; using console", cfg.Provider)
	}
}
