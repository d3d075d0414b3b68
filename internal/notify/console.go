package notify

import (
	"context"
	"log/slog"
)

// ConsoleChannel writes messages to the structured log. It never fails.
type ConsoleChannel struct {
	logger *slog.Logger
}

// NewConsoleChannel creates the console provider.
func NewConsoleChannel(logger *slog.Logger) *ConsoleChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleChannel{logger: logger}
}

func (c *ConsoleChannel) Name() string { return ProviderConsole }

// Send logs the message. High and critical priority messages log at WARN.
func (c *ConsoleChannel) Send(ctx context.Context, msg *Message) (*Delivery, error) {
	level := slog.LevelInfo
	if msg.Priority == PriorityHigh || msg.Priority == PriorityCritical {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "notification",
		"to", msg.To,
		"subject", msg.Subject,
		"priority", string(msg.Priority),
		"body", msg.Body,
	)
	return &Delivery{Sent: false, Logged: true, Provider: ProviderConsole}, nil
}
