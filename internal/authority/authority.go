// Package authority is the reference approval authority: a threshold
// policy that approves routine operations and escalates critical amounts
// into the manual review queue.
package authority

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/sovereign/internal/approval"
	"github.com/mbd888/sovereign/internal/logging"
	"github.com/mbd888/sovereign/internal/operation"
	"github.com/mbd888/sovereign/internal/review"
)

const (
	MessageApproved       = "approved: within automatic limits"
	MessageApprovedReview = "approved: flagged for manual review"
	MessageManualRequired = "manual approval required"
)

// ComplianceCounter reports how many operations an actor submitted in a
// window. The default counter always answers zero.
type ComplianceCounter interface {
	Count(ctx context.Context, actorID string, t operation.Type, window time.Duration) (int, error)
}

// ComplianceRule inspects an actor's count for the window and returns a
// non-empty denial message when the operation must be blocked. The policy
// holds no limit of its own; the rule owns it.
type ComplianceRule func(req *approval.AuthorityRequest, count int) (denial string)

type zeroCounter struct{}

func (zeroCounter) Count(context.Context, string, operation.Type, time.Duration) (int, error) {
	return 0, nil
}

// ReviewQueue enqueues manual approvals. *review.Queue implements it.
type ReviewQueue interface {
	RequestApproval(ctx context.Context, req review.Request) (*review.Approval, error)
}

// Policy decides authority requests. It implements approval.Authority so it
// can be consulted in process as well as over HTTP.
type Policy struct {
	thresholds operation.Thresholds
	queue      ReviewQueue
	counter    ComplianceCounter
	rule       ComplianceRule
	window     time.Duration
	logger     *slog.Logger
}

// NewPolicy creates a policy. queue may be nil, in which case critical
// operations are denied without being enqueued.
func NewPolicy(thresholds operation.Thresholds, queue ReviewQueue, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		thresholds: thresholds,
		queue:      queue,
		counter:    zeroCounter{},
		window:     time.Hour,
		logger:     logger,
	}
}

// WithCompliance consults counter over window before the threshold policy
// and denies whenever rule returns a message. A nil rule disables the check.
func (p *Policy) WithCompliance(counter ComplianceCounter, window time.Duration, rule ComplianceRule) *Policy {
	if counter != nil {
		p.counter = counter
	}
	if window > 0 {
		p.window = window
	}
	p.rule = rule
	return p
}

// Decide applies the threshold policy.
func (p *Policy) Decide(ctx context.Context, req *approval.AuthorityRequest) (*approval.AuthorityResponse, error) {
	if req == nil || req.OperationType == "" {
		return nil, &approval.RejectionError{StatusCode: 400, Message: "operationType is required"}
	}
	amount := operation.AmountOf(req.OperationData)
	resp := &approval.AuthorityResponse{
		AuditLogID: req.Context.AuditLogID,
		RiskLevel:  p.thresholds.Classify(amount),
	}

	if p.rule != nil && req.Context.RequestedBy != "" {
		n, err := p.counter.Count(ctx, req.Context.RequestedBy, req.OperationType, p.window)
		if err != nil {
			return nil, fmt.Errorf("compliance counter: %w", err)
		}
		if msg := p.rule(req, n); msg != "" {
			return deny(resp, msg), nil
		}
	}

	if !p.thresholds.IsCritical(amount) {
		resp.Approved = boolPtr(true)
		resp.Message = MessageApproved
		if p.thresholds.RequiresManualReview(amount) {
			resp.Message = MessageApprovedReview
		}
		return resp, nil
	}

	deny(resp, MessageManualRequired)
	if p.queue == nil {
		return resp, nil
	}
	a, err := p.queue.RequestApproval(ctx, review.Request{
		Type:        string(req.OperationType),
		Payload:     req.OperationData,
		Domain:      req.Domain,
		RequestedBy: req.Context.RequestedBy,
		Priority:    review.PriorityForRisk(resp.RiskLevel),
	})
	if err != nil {
		// The denial stands; only the escalation failed.
		logging.L(ctx).Error("failed to enqueue manual approval",
			"operation_type", req.OperationType, "error", err)
		return resp, nil
	}
	resp.ReviewID = a.ID
	p.logger.Info("critical operation escalated for manual approval",
		"operation_type", req.OperationType, "review_id", a.ID, "amount", amount.String())
	return resp, nil
}

func deny(resp *approval.AuthorityResponse, msg string) *approval.AuthorityResponse {
	resp.Approved = boolPtr(false)
	resp.Message = msg
	return resp
}

func boolPtr(b bool) *bool { return &b }
