// Package notify delivers control-plane notifications.
//
// Every provider sits behind the Channel interface. The console channel is
// mandatory: it is the default provider and the fallback whenever another
// provider errors, panics or times out, so an event is never silently dropped.
package notify

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMissingRecipient = errors.New("notification recipient is required")
	ErrNotDelivered     = errors.New("notification not delivered")
	ErrInvalidHeader    = errors.New("header value contains line breaks")
)

// Priority of an outbound message.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Kind classifies a notification record.
type Kind string

const (
	KindSovereign       Kind = "sovereign_operation"
	KindReviewRequested Kind = "manual_approval_requested"
	KindReviewProcessed Kind = "manual_approval_processed"
	KindArchiveSummary  Kind = "archive_summary"
	KindGeneric         Kind = "generic"
)

// Provider names accepted by NewChannel.
const (
	ProviderConsole  = "console"
	ProviderSMTP     = "smtp"
	ProviderWebhook  = "webhook"
	ProviderKafka    = "kafka"
	ProviderRealtime = "realtime"
)

// Message is one outbound message.
type Message struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Body     string         `json:"body"`
	HTML     string         `json:"html,omitempty"`
	Priority Priority       `json:"priority"`
	Data     map[string]any `json:"data,omitempty"`
}

// Delivery is the metadata returned for a send attempt. Sent means the
// provider accepted the message; Logged means it was only written to the log.
type Delivery struct {
	Sent      bool   `json:"sent"`
	Logged    bool   `json:"logged"`
	Provider  string `json:"provider"`
	MessageID string `json:"messageId,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Channel is a notification provider.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg *Message) (*Delivery, error)
}

// Notification is the append-only record of an attempted message.
type Notification struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"type"`
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject,omitempty"`
	Payload   map[string]any `json:"payload"`
	Sent      bool           `json:"sent"`
	Provider  string         `json:"provider"`
	MessageID string         `json:"messageId,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Log stores notification records.
type Log interface {
	Append(ctx context.Context, n *Notification) error
	List(ctx context.Context, limit, offset int) ([]*Notification, error)
	// ArchiveBefore moves records older than cutoff out of the live set.
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error)
}
