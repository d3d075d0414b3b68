// Package approval decides whether an operation may run.
//
// The Engine delegates to an external approval authority. When the
// authority cannot be consulted it falls back to a fail-safe rule: critical
// amounts are denied, everything else is approved with the fail-safe flag
// set so the decision is never mistaken for a normal approval. Explicit
// refusals from the authority are final and bypass the fail-safe rule.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/sovereign/internal/notify"
	"github.com/mbd888/sovereign/internal/operation"
)

var (
	ErrAuthorityUnreachable = errors.New("approval authority unreachable")
	ErrMalformedResponse    = errors.New("malformed approval authority response")
	ErrEvaluation           = errors.New("approval evaluation failed")
)

// RejectionError is an explicit refusal from the authority. It is a
// decision, not an outage.
type RejectionError struct {
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("approval authority rejected operation (%d): %s", e.StatusCode, e.Message)
}

// AuthorityContext is the correlation metadata sent with every request.
type AuthorityContext struct {
	RequestedAt   time.Time `json:"requestedAt"`
	RequestedBy   string    `json:"requestedBy"`
	CorrelationID string    `json:"correlationId,omitempty"`
	AuditLogID    string    `json:"auditLogId,omitempty"`
}

// AuthorityRequest is the body submitted to the approval authority.
type AuthorityRequest struct {
	OperationType operation.Type   `json:"operationType"`
	OperationData map[string]any   `json:"operationData"`
	Domain        string           `json:"domain"`
	Context       AuthorityContext `json:"context"`
}

// AuthorityResponse is a successful authority answer. Approved is a
// pointer so a response without the field is detected as malformed.
type AuthorityResponse struct {
	Approved   *bool               `json:"approved"`
	Message    string              `json:"message,omitempty"`
	AuditLogID string              `json:"auditLogId,omitempty"`
	RiskLevel  operation.RiskLevel `json:"riskLevel,omitempty"`
	ReviewID   string              `json:"reviewId,omitempty"`
}

// Authority is the external decision maker. Implementations return a
// *RejectionError for explicit refusals and wrap ErrAuthorityUnreachable
// for transport failures.
type Authority interface {
	Decide(ctx context.Context, req *AuthorityRequest) (*AuthorityResponse, error)
}

// Notifier dispatches sovereign notifications. *notify.Dispatcher implements it.
type Notifier interface {
	NotifySovereign(ctx context.Context, e *notify.SovereignEvent) *notify.Delivery
}

// Decision is the engine's answer. It is always well formed and always
// carries a reason.
type Decision struct {
	Approved             bool                `json:"approved"`
	AutoApproved         bool                `json:"autoApproved,omitempty"`
	Reason               string              `json:"reason"`
	RiskLevel            operation.RiskLevel `json:"riskLevel"`
	RequiresManualReview bool                `json:"requiresManualReview"`
	AuditLogID           string              `json:"auditLogId,omitempty"`
	ReviewID             string              `json:"reviewId,omitempty"`
	FailSafe             bool                `json:"failSafe,omitempty"`
	NetworkError         bool                `json:"networkError,omitempty"`
	Critical             bool                `json:"critical,omitempty"`
	StatusCode           int                 `json:"statusCode,omitempty"`
	Notification         *notify.Delivery    `json:"notification,omitempty"`
	DecidedAt            time.Time           `json:"decidedAt"`
}

// Branch names the policy branch that produced the decision.
func (d *Decision) Branch() string {
	switch {
	case d.AutoApproved:
		return "disabled"
	case d.FailSafe && d.Approved:
		return "failsafe_approved"
	case d.FailSafe:
		return "failsafe_denied"
	case d.Approved:
		return "authority_approved"
	case d.StatusCode >= 300:
		return "rejected"
	default:
		return "authority_denied"
	}
}
