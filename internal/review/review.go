// Package review implements the manual approval workflow: operations
// escalated for human sign-off move PENDING -> APPROVED or REJECTED exactly
// once, are served to reviewers in priority order and are archived once
// terminal and past the retention window.
package review

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/sovereign/internal/operation"
)

var (
	ErrNotFound         = errors.New("manual approval not found")
	ErrAlreadyProcessed = errors.New("manual approval already processed")
	ErrInvalidPriority  = errors.New("invalid priority")
	ErrMissingType      = errors.New("approval type is required")
)

// DefaultRetentionDays is the default archival window.
const DefaultRetentionDays = 90

// Status is the state of a manual approval.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Priority orders the pending queue.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityNormal   Priority = "NORMAL"
	PriorityLow      Priority = "LOW"
)

// Rank is the sort key; lower is served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// ParsePriority accepts any case; empty means NORMAL.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if p.Rank() > 3 {
		return "", ErrInvalidPriority
	}
	return p, nil
}

// PriorityForRisk maps a risk tier to a review priority.
func PriorityForRisk(r operation.RiskLevel) Priority {
	switch r {
	case operation.RiskCritical:
		return PriorityCritical
	case operation.RiskHigh:
		return PriorityHigh
	case operation.RiskLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Approval is a request awaiting, or having received, human sign-off.
type Approval struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	Domain      string         `json:"domain,omitempty"`
	RequestedBy string         `json:"requestedBy"`
	RequestedAt time.Time      `json:"requestedAt"`
	Priority    Priority       `json:"priority"`
	Status      Status         `json:"status"`
	DecidedBy   string         `json:"decidedBy,omitempty"`
	ProcessedAt *time.Time     `json:"processedAt,omitempty"`
	Comments    string         `json:"comments,omitempty"`
}

// Request is the input to Queue.RequestApproval.
type Request struct {
	Type        string         `json:"type" binding:"required"`
	Payload     map[string]any `json:"payload"`
	Domain      string         `json:"domain,omitempty"`
	RequestedBy string         `json:"requestedBy"`
	Priority    Priority       `json:"priority"`
}

// Decision is a terminal transition applied by Store.Decide.
type Decision struct {
	Status    Status
	DecidedBy string
	Comments  string
	At        time.Time
}

// Store persists approvals. Decide must be atomic: of two concurrent
// decisions on one PENDING record exactly one succeeds and the other gets
// ErrAlreadyProcessed.
type Store interface {
	Create(ctx context.Context, a *Approval) error
	Get(ctx context.Context, id string) (*Approval, error)
	ListPending(ctx context.Context) ([]*Approval, error)
	Decide(ctx context.Context, id string, d Decision) (*Approval, error)
	// ArchiveProcessedBefore removes terminal records processed before
	// cutoff from the live set and returns them.
	ArchiveProcessedBefore(ctx context.Context, cutoff time.Time) ([]*Approval, error)
}

func cloneApproval(a *Approval) *Approval {
	c := *a
	if a.Payload != nil {
		c.Payload = make(map[string]any, len(a.Payload))
		for k, v := range a.Payload {
			c.Payload[k] = v
		}
	}
	if a.ProcessedAt != nil {
		t := *a.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}
