// Package executor runs operations under the control plane: every call is
// audited, decided, executed only on approval and audited again with its
// outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/sovereign/internal/approval"
	"github.com/mbd888/sovereign/internal/audit"
	"github.com/mbd888/sovereign/internal/logging"
	"github.com/mbd888/sovereign/internal/metrics"
	"github.com/mbd888/sovereign/internal/operation"
	"github.com/mbd888/sovereign/internal/traces"
)

var ErrNoBody = errors.New("no operation body")

// AuditLogger records forensic entries. *audit.Logger implements it.
type AuditLogger interface {
	Log(ctx context.Context, req *operation.Request, opts ...audit.LogOption) *audit.LogResult
}

// Approver decides whether an operation may run. *approval.Engine implements it.
type Approver interface {
	RequestApproval(ctx context.Context, req *operation.Request, auditLogID string) *approval.Decision
}

// Body is the business action guarded by the control plane.
type Body func(ctx context.Context) (any, error)

// Runner is an operation body held as an object.
type Runner interface {
	Run(ctx context.Context) (any, error)
}

// RunnerBody adapts r to a Body.
func RunnerBody(r Runner) Body {
	return r.Run
}

// Result is the outcome of one controlled execution.
type Result struct {
	Success        bool               `json:"success"`
	Approved       bool               `json:"approved"`
	Reason         string             `json:"reason,omitempty"`
	Result         any                `json:"result,omitempty"`
	Error          string             `json:"error,omitempty"`
	LogResult      *audit.LogResult   `json:"logResult"`
	ApprovalResult *approval.Decision `json:"approvalResult"`
	OutcomeLog     *audit.LogResult   `json:"outcomeLogResult,omitempty"`
}

// Outcome labels the result for metrics and logs.
func (r *Result) Outcome() string {
	switch {
	case !r.Approved:
		return "denied"
	case r.Success:
		return "succeeded"
	default:
		return "failed"
	}
}

// Evaluation is the dry-run result of pre-log plus decision.
type Evaluation struct {
	LogResult *audit.LogResult   `json:"logResult"`
	Decision  *approval.Decision `json:"decision"`
}

// Executor composes the forensic logger and the decision engine around an
// operation body.
type Executor struct {
	audit    AuditLogger
	approver Approver
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an executor.
func New(auditLogger AuditLogger, approver Approver, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{audit: auditLogger, approver: approver, logger: logger, now: time.Now}
}

// WithClock overrides the timestamp source used to fill request metadata.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Execute runs req through pre-log, decision, body and outcome log, in that
// order. The body is never invoked unless the decision approves it. Errors
// and panics from the body are recorded as a <type>_failed entry and
// returned in the Result; Execute itself never fails.
func (e *Executor) Execute(ctx context.Context, req *operation.Request, body Body) *Result {
	start := time.Now()
	req = e.stamp(req)

	ctx, span := traces.StartSpan(ctx, "controlplane.executeWithControls",
		traces.OperationType(string(req.Type)),
		traces.Domain(req.Context.Domain),
		traces.ActorID(req.Actor.ID),
		traces.Amount(req.Amount().String()),
	)
	defer span.End()

	res := &Result{}
	defer func() {
		outcome := res.Outcome()
		metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
		metrics.ExecutionDuration.Observe(time.Since(start).Seconds())
		logging.L(ctx).Info("controlled execution finished",
			"operation", req.Type,
			"actor", req.Actor.ID,
			"outcome", outcome,
			"reason", res.Reason,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	res.LogResult, res.ApprovalResult = e.evaluate(ctx, req)
	decision := res.ApprovalResult
	if !decision.Approved {
		res.Reason = decision.Reason
		span.SetAttributes(traces.Approved(false), traces.FailSafe(decision.FailSafe))
		return res
	}
	res.Approved = true
	span.SetAttributes(traces.Approved(true), traces.FailSafe(decision.FailSafe))

	value, err := e.run(ctx, req, body)
	if err != nil {
		res.Error = err.Error()
		res.OutcomeLog = e.postLog(ctx, req.WithOutcome(req.Type.Failed(), map[string]any{"error": err.Error()}))
		traces.Fail(span, err)
		return res
	}

	res.Success = true
	res.Result = value
	res.OutcomeLog = e.postLog(ctx, req.WithOutcome(req.Type.Success(), map[string]any{"result": value}))
	return res
}

// Evaluate performs the pre-log and decision stages without running anything.
func (e *Executor) Evaluate(ctx context.Context, req *operation.Request) *Evaluation {
	req = e.stamp(req)
	ctx, span := traces.StartSpan(ctx, "controlplane.evaluate",
		traces.OperationType(string(req.Type)),
		traces.Domain(req.Context.Domain),
	)
	defer span.End()

	logResult, decision := e.evaluate(ctx, req)
	span.SetAttributes(traces.Approved(decision.Approved), traces.FailSafe(decision.FailSafe))
	return &Evaluation{LogResult: logResult, Decision: decision}
}

func (e *Executor) evaluate(ctx context.Context, req *operation.Request) (*audit.LogResult, *approval.Decision) {
	logResult := e.preLog(ctx, req)

	dctx, span := traces.StartSpan(ctx, "controlplane.decide")
	decision := e.approver.RequestApproval(dctx, req, logResult.EntryID)
	if decision == nil {
		decision = &approval.Decision{Reason: "no decision returned", RiskLevel: operation.RiskCritical}
	}
	span.SetAttributes(
		traces.Approved(decision.Approved),
		traces.FailSafe(decision.FailSafe),
		traces.RiskLevel(string(decision.RiskLevel)),
	)
	span.End()
	return logResult, decision
}

func (e *Executor) preLog(ctx context.Context, req *operation.Request) *audit.LogResult {
	ctx, span := traces.StartSpan(ctx, "controlplane.prelog")
	defer span.End()

	res := e.audit.Log(ctx, req)
	if res == nil {
		res = &audit.LogResult{Reason: "no log result"}
	}
	if !res.Logged && res.Reason != audit.ReasonDisabled {
		// Surfaced to the caller through Result.LogResult; execution continues.
		logging.L(ctx).Warn("pre-execution audit entry not recorded",
			"operation", req.Type, "reason", res.Reason, "error", res.Error)
	}
	span.SetAttributes(traces.AuditLogID(res.EntryID))
	return res
}

func (e *Executor) postLog(ctx context.Context, outcome *operation.Request) *audit.LogResult {
	ctx, span := traces.StartSpan(ctx, "controlplane.postlog", traces.OperationType(string(outcome.Type)))
	defer span.End()

	res := e.audit.Log(context.WithoutCancel(ctx), outcome, audit.WithApproved(true))
	if res == nil {
		res = &audit.LogResult{Reason: "no log result"}
	}
	if !res.Logged && res.Reason != audit.ReasonDisabled {
		logging.L(ctx).Warn("outcome audit entry not recorded",
			"operation", outcome.Type, "reason", res.Reason, "error", res.Error)
	}
	return res
}

func (e *Executor) run(ctx context.Context, req *operation.Request, body Body) (value any, err error) {
	ctx, span := traces.StartSpan(ctx, "controlplane.execute")
	defer span.End()

	if body == nil {
		return nil, ErrNoBody
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("operation body panicked", "operation", req.Type, "panic", fmt.Sprint(r))
			value, err = nil, fmt.Errorf("operation panicked: %v", r)
		}
		if err != nil {
			traces.Fail(span, err)
		}
	}()
	return body(ctx)
}

// stamp returns a copy of req with the request time filled in.
func (e *Executor) stamp(req *operation.Request) *operation.Request {
	var r operation.Request
	if req != nil {
		r = *req
	}
	if r.Context.RequestedAt.IsZero() {
		r.Context.RequestedAt = e.now().UTC()
	}
	return &r
}
