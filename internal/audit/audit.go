// Package audit implements the forensic audit trail: every attempted
// operation and every execution outcome becomes an immutable, domain
// partitioned entry.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/sovereign/internal/logging"
	"github.com/mbd888/sovereign/internal/metrics"
	"github.com/mbd888/sovereign/internal/operation"
	"github.com/mbd888/sovereign/internal/pagination"
)

// ReasonDisabled is reported by a logger built with WithDisabled.
const ReasonDisabled = "disabled"

var ErrEntryNotFound = errors.New("audit entry not found")

// Entry is one immutable audit record. Outcomes are new entries, never edits.
type Entry struct {
	ID            string              `json:"id"`
	Domain        string              `json:"domain"`
	Database      string              `json:"database,omitempty"`
	OperationType string              `json:"operationType"`
	OperationData map[string]any      `json:"operationData"`
	ActorID       string              `json:"actorId,omitempty"`
	ActorEmail    string              `json:"actorEmail,omitempty"`
	CorrelationID string              `json:"correlationId,omitempty"`
	IPAddress     string              `json:"ipAddress,omitempty"`
	UserAgent     string              `json:"userAgent,omitempty"`
	RiskLevel     operation.RiskLevel `json:"riskLevel"`
	Amount        operation.Decimal   `json:"amount"`
	Approved      *bool               `json:"approved,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

// Filter narrows reads. Domain is always overwritten by the Logger.
type Filter struct {
	Domain        string
	OperationType string
	ActorID       string
	RiskLevel     operation.RiskLevel
	From          time.Time
	To            time.Time
	Limit         int
	Cursor        *pagination.Cursor
}

// Store persists audit entries. Append assigns the entry id.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) ([]*Entry, error)
	Count(ctx context.Context, f Filter) (int, error)
}

// LogResult reports what happened to a Log call. It is always non-nil.
type LogResult struct {
	Logged    bool                `json:"logged"`
	EntryID   string              `json:"auditEntryId,omitempty"`
	Approved  *bool               `json:"approved,omitempty"`
	RiskLevel operation.RiskLevel `json:"riskLevel,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Page is one newest-first slice of entries.
type Page struct {
	Entries    []*Entry `json:"entries"`
	NextCursor string   `json:"nextCursor,omitempty"`
	HasMore    bool     `json:"hasMore"`
}

// Logger is the forensic logger bound to a single domain.
type Logger struct {
	store      Store
	domain     string
	database   string
	thresholds operation.Thresholds
	enabled    bool
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithDisabled turns the logger into a no-op that still answers every call.
func WithDisabled() Option {
	return func(l *Logger) { l.enabled = false }
}

// WithDatabase records the backing database name on every entry.
func WithDatabase(name string) Option {
	return func(l *Logger) { l.database = name }
}

// WithThresholds overrides the amounts used for risk classification.
func WithThresholds(t operation.Thresholds) Option {
	return func(l *Logger) { l.thresholds = t }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) { l.logger = logger }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// NewLogger creates a forensic logger for domain.
func NewLogger(store Store, domain string, opts ...Option) *Logger {
	l := &Logger{
		store:      store,
		domain:     domain,
		thresholds: operation.DefaultThresholds(),
		enabled:    true,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if !l.enabled {
		l.logger.Warn("forensic audit logging disabled: operations will run without an audit trail",
			"domain", l.domain)
	}
	return l
}

// Enabled reports whether entries are being written.
func (l *Logger) Enabled() bool { return l.enabled }

// Domain returns the domain this logger is bound to.
func (l *Logger) Domain() string { return l.domain }

// LogOption annotates a single Log call.
type LogOption func(*Entry)

// WithApproved stamps the decision outcome on the entry.
func WithApproved(approved bool) LogOption {
	return func(e *Entry) { e.Approved = &approved }
}

// Log records an audit entry for req. Persistence failures come back as
// Logged=false with the error text; Log never panics on bad input.
func (l *Logger) Log(ctx context.Context, req *operation.Request, opts ...LogOption) *LogResult {
	if !l.enabled {
		metrics.AuditWritesTotal.WithLabelValues("disabled").Inc()
		return &LogResult{Logged: false, Reason: ReasonDisabled}
	}
	if err := req.CheckRequired(); err != nil {
		metrics.AuditWritesTotal.WithLabelValues("rejected").Inc()
		return &LogResult{Logged: false, Reason: "invalid request", Error: err.Error()}
	}

	amount := req.Amount()
	entry := &Entry{
		Domain:        l.domain,
		Database:      l.database,
		OperationType: string(req.Type),
		OperationData: operation.Redact(req.Data),
		ActorID:       req.Actor.ID,
		ActorEmail:    req.Actor.Email,
		CorrelationID: req.Context.CorrelationID,
		IPAddress:     req.Context.IPAddress,
		UserAgent:     req.Context.UserAgent,
		RiskLevel:     l.thresholds.Classify(amount),
		Amount:        amount,
		Timestamp:     l.now().UTC(),
	}
	for _, opt := range opts {
		opt(entry)
	}

	if err := l.store.Append(ctx, entry); err != nil {
		metrics.AuditWritesTotal.WithLabelValues("failed").Inc()
		logging.L(ctx).Error("audit entry not persisted",
			"operation", entry.OperationType,
			"actor", entry.ActorID,
			"risk", entry.RiskLevel,
			"error", err,
		)
		return &LogResult{
			Logged:    false,
			Approved:  entry.Approved,
			RiskLevel: entry.RiskLevel,
			Reason:    "persistence failed",
			Error:     err.Error(),
		}
	}

	metrics.AuditWritesTotal.WithLabelValues("logged").Inc()
	return &LogResult{
		Logged:    true,
		EntryID:   entry.ID,
		Approved:  entry.Approved,
		RiskLevel: entry.RiskLevel,
	}
}

// List returns entries for the bound domain, newest first.
func (l *Logger) List(ctx context.Context, f Filter) (*Page, error) {
	if !l.enabled {
		return &Page{Entries: []*Entry{}}, nil
	}
	f.Domain = l.domain
	if f.Limit <= 0 || f.Limit > pagination.MaxLimit {
		f.Limit = pagination.DefaultLimit
	}
	limit := f.Limit
	f.Limit = limit + 1

	entries, err := l.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	entries, next, more := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.Timestamp, e.ID
	})
	if entries == nil {
		entries = []*Entry{}
	}
	return &Page{Entries: entries, NextCursor: next, HasMore: more}, nil
}

// Count returns how many entries in the bound domain match f.
func (l *Logger) Count(ctx context.Context, f Filter) (int, error) {
	if !l.enabled {
		return 0, nil
	}
	f.Domain = l.domain
	return l.store.Count(ctx, f)
}

// matches applies every filter field except pagination.
func (f Filter) matches(e *Entry) bool {
	if e.Domain != f.Domain {
		return false
	}
	if f.OperationType != "" && e.OperationType != f.OperationType {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.RiskLevel != "" && e.RiskLevel != f.RiskLevel {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}
