package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mbd888/sovereign/internal/idgen"
	"github.com/mbd888/sovereign/internal/metrics"
	"github.com/mbd888/sovereign/internal/realtime"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 3 * time.Second

// DefaultRecipient is used when no sovereign address is configured.
const DefaultRecipient = "sovereign@localhost"

// Dispatcher sends through a primary channel and falls back to console.
// Every attempt is recorded in the notification log. Send never fails.
type Dispatcher struct {
	primary   Channel
	console   *ConsoleChannel
	log       Log
	feed      Broadcaster
	recipient string
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. A nil primary means console only.
func NewDispatcher(primary Channel, log Log, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	console := NewConsoleChannel(logger)
	if primary == nil {
		primary = console
	}
	return &Dispatcher{
		primary:   primary,
		console:   console,
		log:       log,
		recipient: DefaultRecipient,
		timeout:   DefaultTimeout,
		logger:    logger,
		now:       time.Now,
	}
}

// WithRecipient sets the sovereign address. An empty address keeps the
// default and logs a warning.
func (d *Dispatcher) WithRecipient(addr string) *Dispatcher {
	if addr == "" {
		d.logger.Warn("sovereign notification recipient not configured; using default",
			"recipient", DefaultRecipient)
		return d
	}
	d.recipient = addr
	return d
}

// WithTimeout bounds each delivery attempt.
func (d *Dispatcher) WithTimeout(t time.Duration) *Dispatcher {
	if t > 0 {
		d.timeout = t
	}
	return d
}

// WithFeed mirrors every recorded notification to live subscribers.
func (d *Dispatcher) WithFeed(b Broadcaster) *Dispatcher {
	d.feed = b
	return d
}

// WithClock overrides the timestamp source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Recipient returns the sovereign address.
func (d *Dispatcher) Recipient() string { return d.recipient }

// Provider returns the primary provider name.
func (d *Dispatcher) Provider() string { return d.primary.Name() }

// Log returns the notification log, which may be nil.
func (d *Dispatcher) Log() Log { return d.log }

// Send delivers msg. Provider failures fall back to console and are reported
// in the returned Delivery, never as an error.
func (d *Dispatcher) Send(ctx context.Context, kind Kind, msg *Message) *Delivery {
	if msg.To == "" {
		msg.To = d.recipient
	}
	if msg.Priority == "" {
		msg.Priority = PriorityNormal
	}

	delivery, err := d.attempt(ctx, d.primary, msg)
	result := "sent"
	switch {
	case err != nil:
		d.logger.Warn("notification provider failed, falling back to console",
			"provider", d.primary.Name(), "to", msg.To, "error", err)
		metrics.NotificationsTotal.WithLabelValues(d.primary.Name(), "failed").Inc()
		delivery, _ = d.console.Send(ctx, msg)
		delivery.Fallback = true
		delivery.Error = err.Error()
		result = "fallback"
	case !delivery.Sent:
		result = "logged"
	}
	metrics.NotificationsTotal.WithLabelValues(delivery.Provider, result).Inc()

	d.record(ctx, kind, msg, delivery)
	return delivery
}

// attempt runs one provider call under the timeout, converting panics and
// nil results into errors.
func (d *Dispatcher) attempt(ctx context.Context, ch Channel, msg *Message) (delivery *Delivery, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			delivery, err = nil, fmt.Errorf("provider %s panicked: %v", ch.Name(), r)
		}
	}()

	delivery, err = ch.Send(ctx, msg)
	if err == nil && delivery == nil {
		err = fmt.Errorf("provider %s returned no delivery", ch.Name())
	}
	return delivery, err
}

func (d *Dispatcher) record(ctx context.Context, kind Kind, msg *Message, delivery *Delivery) {
	n := &Notification{
		ID:        idgen.New(),
		Kind:      kind,
		Recipient: msg.To,
		Subject:   msg.Subject,
		Payload:   msg.Data,
		Sent:      delivery.Sent,
		Provider:  delivery.Provider,
		MessageID: delivery.MessageID,
		Error:     delivery.Error,
		Timestamp: d.now().UTC(),
	}
	if n.Payload == nil {
		n.Payload = map[string]any{}
	}

	if d.log != nil {
		if err := d.log.Append(context.WithoutCancel(ctx), n); err != nil {
			d.logger.Warn("failed to record notification", "id", n.ID, "error", err)
		}
	}
	if d.feed != nil {
		d.feed.Publish(realtime.EventNotification, map[string]any{
			"id":        n.ID,
			"type":      string(n.Kind),
			"recipient": n.Recipient,
			"subject":   n.Subject,
			"sent":      n.Sent,
			"provider":  n.Provider,
		})
	}
}

// Close releases the primary provider when it holds resources.
func (d *Dispatcher) Close() error {
	if c, ok := d.primary.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
