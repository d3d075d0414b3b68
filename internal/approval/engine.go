package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/mbd888/sovereign/internal/circuitbreaker"
	"github.com/mbd888/sovereign/internal/logging"
	"github.com/mbd888/sovereign/internal/metrics"
	"github.com/mbd888/sovereign/internal/notify"
	"github.com/mbd888/sovereign/internal/operation"
	"github.com/mbd888/sovereign/internal/realtime"
)

// DefaultTimeout bounds one authority call.
const DefaultTimeout = 5 * time.Second

// breakerKey identifies the authority circuit.
const breakerKey = "approval_authority"

// Reason prefixes. Fail-safe denials say so explicitly so callers can
// tell outage-driven denials from policy denials.
const (
	ReasonFailSafeDenied   = "denied for security"
	ReasonFailSafeApproved = "approved with audit trail"
	ReasonDeniedByPolicy   = "denied by policy"
)

// Engine evaluates operations against the approval authority.
type Engine struct {
	authority  Authority
	notifier   Notifier
	feed       notify.Broadcaster
	breaker    *circuitbreaker.Breaker
	thresholds operation.Thresholds
	critical   operation.TypeSet
	timeout    time.Duration
	enabled    bool
	domain     string
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates an engine consulting authority. A nil authority is
// treated as permanently unreachable.
func NewEngine(authority Authority, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		authority:  authority,
		thresholds: operation.DefaultThresholds(),
		critical:   operation.DefaultCriticalTypes(),
		timeout:    DefaultTimeout,
		enabled:    true,
		logger:     logger,
		now:        time.Now,
	}
}

// WithNotifier sets the sovereign notification dispatcher.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

// WithFeed publishes every decision to live subscribers.
func (e *Engine) WithFeed(b notify.Broadcaster) *Engine {
	e.feed = b
	return e
}

// WithBreaker guards authority calls with a circuit breaker.
func (e *Engine) WithBreaker(b *circuitbreaker.Breaker) *Engine {
	e.breaker = b
	return e
}

// WithThresholds overrides the amount thresholds.
func (e *Engine) WithThresholds(t operation.Thresholds) *Engine {
	e.thresholds = t
	return e
}

// WithCriticalTypes overrides the operation types that always notify.
func (e *Engine) WithCriticalTypes(s operation.TypeSet) *Engine {
	e.critical = s
	return e
}

// WithTimeout bounds each authority call.
func (e *Engine) WithTimeout(t time.Duration) *Engine {
	if t > 0 {
		e.timeout = t
	}
	return e
}

// WithDisabled turns the engine into an auto-approver.
func (e *Engine) WithDisabled() *Engine {
	e.enabled = false
	return e
}

// WithDomain sets the domain used when a request carries none.
func (e *Engine) WithDomain(domain string) *Engine {
	e.domain = domain
	return e
}

// WithClock overrides the timestamp source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Enabled reports whether the authority is consulted.
func (e *Engine) Enabled() bool { return e.enabled }

// Thresholds returns the active thresholds.
func (e *Engine) Thresholds() operation.Thresholds { return e.thresholds }

// RequestApproval decides req. It never panics and never returns nil: every
// failure degrades to a documented policy branch.
func (e *Engine) RequestApproval(ctx context.Context, req *operation.Request, auditLogID string) (d *Decision) {
	amount := req.Amount()
	d = &Decision{
		RiskLevel:            e.thresholds.Classify(amount),
		RequiresManualReview: e.thresholds.RequiresManualReview(amount),
		Critical:             e.thresholds.IsCritical(amount),
		AuditLogID:           auditLogID,
	}
	defer func() {
		d.DecidedAt = e.now().UTC()
		metrics.DecisionsTotal.WithLabelValues(d.Branch()).Inc()
		e.publish(req, d)
	}()

	if !e.enabled {
		d.Approved = true
		d.AutoApproved = true
		d.Reason = "approval engine disabled; auto-approved"
		return d
	}

	if err := req.CheckRequired(); err != nil {
		d.Reason = fmt.Sprintf("%s: invalid request: %v", ReasonDeniedByPolicy, err)
		return d
	}

	resp, err := e.consult(ctx, req, auditLogID)
	var rejection *RejectionError
	switch {
	case err == nil:
		e.applyResponse(d, resp)
	case errors.As(err, &rejection):
		d.Approved = false
		d.Reason = rejection.Message
		d.StatusCode = rejection.StatusCode
		logging.L(ctx).Info("operation rejected by approval authority",
			"operation_type", req.Type, "status", rejection.StatusCode, "reason", rejection.Message)
	default:
		e.applyFailSafe(ctx, d, req, err)
	}

	if e.shouldNotify(req, amount) {
		d.Notification = e.notify(ctx, req, d)
	}
	return d
}

// consult calls the authority under the timeout and the circuit breaker.
func (e *Engine) consult(ctx context.Context, req *operation.Request, auditLogID string) (resp *AuthorityResponse, err error) {
	if e.authority == nil {
		return nil, fmt.Errorf("%w: no authority configured", ErrAuthorityUnreachable)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("%w: %v", ErrEvaluation, r)
		}
	}()

	body := e.authorityRequest(req, auditLogID)
	call := func() error {
		r, callErr := e.authority.Decide(ctx, body)
		if callErr == nil && (r == nil || r.Approved == nil) {
			callErr = fmt.Errorf("%w: missing approved field", ErrMalformedResponse)
		}
		resp = r
		return callErr
	}

	start := time.Now()
	if e.breaker != nil {
		err = e.breaker.Execute(breakerKey, call, countsAsFailure)
	} else {
		err = call()
	}
	metrics.AuthorityLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = fmt.Errorf("%w: %w", ErrAuthorityUnreachable, err)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (e *Engine) authorityRequest(req *operation.Request, auditLogID string) *AuthorityRequest {
	domain := req.Context.Domain
	if domain == "" {
		domain = e.domain
	}
	data := make(map[string]any, len(req.Data)+1)
	for k, v := range req.Data {
		data[k] = v
	}
	data["domain"] = domain

	requestedAt := req.Context.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = e.now().UTC()
	}
	return &AuthorityRequest{
		OperationType: req.Type,
		OperationData: data,
		Domain:        domain,
		Context: AuthorityContext{
			RequestedAt:   requestedAt,
			RequestedBy:   req.Actor.ID,
			CorrelationID: req.Context.CorrelationID,
			AuditLogID:    auditLogID,
		},
	}
}

func (e *Engine) applyResponse(d *Decision, resp *AuthorityResponse) {
	d.Approved = *resp.Approved
	d.Reason = resp.Message
	if resp.RiskLevel.Valid() {
		d.RiskLevel = resp.RiskLevel
	}
	if d.AuditLogID == "" {
		d.AuditLogID = resp.AuditLogID
	}
	d.ReviewID = resp.ReviewID
	if d.Reason == "" {
		if d.Approved {
			d.Reason = "approved by approval authority"
		} else {
			d.Reason = ReasonDeniedByPolicy
		}
	}
}

// applyFailSafe denies critical amounts and approves everything else,
// flagging the decision either way.
func (e *Engine) applyFailSafe(ctx context.Context, d *Decision, req *operation.Request, cause error) {
	d.FailSafe = true
	d.NetworkError = isNetworkError(cause)

	what := "approval authority unavailable"
	if !d.NetworkError {
		what = "approval evaluation failed"
	}
	if d.Critical {
		d.Approved = false
		d.Reason = fmt.Sprintf("%s: %s and amount meets the critical threshold (%v)", ReasonFailSafeDenied, what, cause)
	} else {
		d.Approved = true
		d.Reason = fmt.Sprintf("%s: %s (%v)", ReasonFailSafeApproved, what, cause)
	}
	logging.L(ctx).Warn("approval fail-safe applied",
		"operation_type", req.Type,
		"approved", d.Approved,
		"critical", d.Critical,
		"network_error", d.NetworkError,
		"error", cause)
}

func (e *Engine) shouldNotify(req *operation.Request, amount operation.Decimal) bool {
	return e.thresholds.RequiresManualReview(amount) || e.critical.Has(req.Type)
}

// notify is best effort; a failing or panicking notifier never changes the decision.
func (e *Engine) notify(ctx context.Context, req *operation.Request, d *Decision) (delivery *notify.Delivery) {
	if e.notifier == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("sovereign notification panicked", "error", r)
			delivery = &notify.Delivery{Provider: "unknown", Error: fmt.Sprint(r)}
		}
	}()

	domain := req.Context.Domain
	if domain == "" {
		domain = e.domain
	}
	return e.notifier.NotifySovereign(ctx, &notify.SovereignEvent{
		Domain:        domain,
		OperationType: req.Type,
		Actor:         req.Actor,
		Timestamp:     e.now().UTC(),
		Data:          req.Data,
		Approved:      d.Approved,
		FailSafe:      d.FailSafe,
		RiskLevel:     d.RiskLevel,
		AuditLogID:    d.AuditLogID,
		Reason:        d.Reason,
	})
}

func (e *Engine) publish(req *operation.Request, d *Decision) {
	if e.feed == nil || req == nil {
		return
	}
	domain := req.Context.Domain
	if domain == "" {
		domain = e.domain
	}
	e.feed.Publish(realtime.EventDecision, map[string]any{
		"domain":        domain,
		"operationType": string(req.Type),
		"amount":        req.Amount().String(),
		"approved":      d.Approved,
		"failSafe":      d.FailSafe,
		"riskLevel":     string(d.RiskLevel),
		"auditLogId":    d.AuditLogID,
	})
}

// countsAsFailure keeps explicit refusals from tripping the breaker.
func countsAsFailure(err error) bool {
	var rejection *RejectionError
	return !errors.As(err, &rejection)
}

func isNetworkError(err error) bool {
	if errors.Is(err, ErrAuthorityUnreachable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, circuitbreaker.ErrOpen) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
