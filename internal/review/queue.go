package review

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mbd888/sovereign/internal/idgen"
	"github.com/mbd888/sovereign/internal/logging"
	"github.com/mbd888/sovereign/internal/metrics"
	"github.com/mbd888/sovereign/internal/notify"
	"github.com/mbd888/sovereign/internal/operation"
	"github.com/mbd888/sovereign/internal/realtime"
)

// Notifier sends workflow notifications. *notify.Dispatcher implements it.
type Notifier interface {
	Send(ctx context.Context, kind notify.Kind, msg *notify.Message) *notify.Delivery
}

// ArchiveResult reports one archival sweep.
type ArchiveResult struct {
	Cutoff            time.Time   `json:"cutoff"`
	DaysOld           int         `json:"daysOld"`
	Approvals         []*Approval `json:"approvals"`
	ApprovalCount     int         `json:"approvalCount"`
	NotificationCount int         `json:"notificationCount"`
}

// Queue is the manual approval workflow.
type Queue struct {
	store         Store
	notifier      Notifier
	notifications notify.Log
	feed          notify.Broadcaster
	logger        *slog.Logger
	now           func() time.Time
}

// NewQueue creates a queue over store.
func NewQueue(store Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, logger: logger, now: time.Now}
}

// WithNotifier sets the workflow notifier.
func (q *Queue) WithNotifier(n Notifier) *Queue {
	q.notifier = n
	return q
}

// WithNotificationLog includes the notification log in archival sweeps.
func (q *Queue) WithNotificationLog(l notify.Log) *Queue {
	q.notifications = l
	return q
}

// WithFeed publishes workflow transitions to live subscribers.
func (q *Queue) WithFeed(b notify.Broadcaster) *Queue {
	q.feed = b
	return q
}

// WithClock overrides the timestamp source.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// RequestApproval creates a PENDING approval and notifies reviewers.
func (q *Queue) RequestApproval(ctx context.Context, req Request) (*Approval, error) {
	if strings.TrimSpace(req.Type) == "" {
		return nil, ErrMissingType
	}
	priority, err := ParsePriority(string(req.Priority))
	if err != nil {
		return nil, err
	}
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	a := &Approval{
		ID:          idgen.WithPrefix("rev_"),
		Type:        req.Type,
		Payload:     payload,
		Domain:      req.Domain,
		RequestedBy: req.RequestedBy,
		RequestedAt: q.now().UTC(),
		Priority:    priority,
		Status:      StatusPending,
	}
	if err := q.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	metrics.ManualApprovalsPending.Inc()

	logging.L(ctx).Info("manual approval requested",
		"approval_id", a.ID, "type", a.Type, "priority", a.Priority, "requested_by", a.RequestedBy)

	q.notify(ctx, notify.KindReviewRequested, &notify.Message{
		Subject:  fmt.Sprintf("[%s] Manual approval required: %s", a.Priority, a.Type),
		Body:     fmt.Sprintf("Approval %s for %s was requested by %s and awaits review.", a.ID, a.Type, orUnknown(a.RequestedBy)),
		Priority: notifyPriority(a.Priority),
		Data:     approvalData(a),
	})
	q.publish(realtime.EventReviewRequested, a)
	return a, nil
}

// ProcessApproval applies a reviewer's decision. It fails with ErrNotFound
// for unknown ids and ErrAlreadyProcessed for terminal records; a failed
// call leaves the record unchanged.
func (q *Queue) ProcessApproval(ctx context.Context, id string, approved bool, decidedBy, comments string) (*Approval, error) {
	status := StatusRejected
	if approved {
		status = StatusApproved
	}
	a, err := q.store.Decide(ctx, id, Decision{
		Status:    status,
		DecidedBy: decidedBy,
		Comments:  comments,
		At:        q.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	metrics.ManualApprovalsPending.Dec()
	metrics.ManualApprovalsProcessed.WithLabelValues(string(status)).Inc()

	logging.L(ctx).Info("manual approval processed",
		"approval_id", a.ID, "status", a.Status, "decided_by", a.DecidedBy)

	q.notify(ctx, notify.KindReviewProcessed, &notify.Message{
		Subject:  fmt.Sprintf("Manual approval %s: %s", strings.ToLower(string(a.Status)), a.Type),
		Body:     fmt.Sprintf("Approval %s for %s was %s by %s. Comments: %s", a.ID, a.Type, strings.ToLower(string(a.Status)), orUnknown(a.DecidedBy), orNone(a.Comments)),
		Priority: notify.PriorityNormal,
		Data:     approvalData(a),
	})
	q.publish(realtime.EventReviewProcessed, a)
	return a, nil
}

// Get returns a live approval.
func (q *Queue) Get(ctx context.Context, id string) (*Approval, error) {
	return q.store.Get(ctx, id)
}

// GetPendingApprovals returns PENDING approvals ordered CRITICAL, HIGH,
// NORMAL, LOW, oldest first within a priority.
func (q *Queue) GetPendingApprovals(ctx context.Context) ([]*Approval, error) {
	pending, err := q.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	SortByPriority(pending)
	metrics.ManualApprovalsPending.Set(float64(len(pending)))
	return pending, nil
}

// SortByPriority orders approvals for review.
func SortByPriority(items []*Approval) {
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := items[i].Priority.Rank(), items[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		if !items[i].RequestedAt.Equal(items[j].RequestedAt) {
			return items[i].RequestedAt.Before(items[j].RequestedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// ArchiveOldRecords moves terminal approvals processed more than daysOld
// days ago, and notifications older than the same cutoff, out of the live
// set. A non-positive daysOld uses DefaultRetentionDays.
func (q *Queue) ArchiveOldRecords(ctx context.Context, daysOld int) (*ArchiveResult, error) {
	if daysOld <= 0 {
		daysOld = DefaultRetentionDays
	}
	cutoff := q.now().UTC().AddDate(0, 0, -daysOld)

	archived, err := q.store.ArchiveProcessedBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("archive approvals: %w", err)
	}
	if archived == nil {
		archived = []*Approval{}
	}
	result := &ArchiveResult{
		Cutoff:        cutoff,
		DaysOld:       daysOld,
		Approvals:     archived,
		ApprovalCount: len(archived),
	}

	// Approvals are already gone from the live set at this point, so the
	// sweep is recorded even when the notification log fails.
	var notifErr error
	if q.notifications != nil {
		n, err := q.notifications.ArchiveBefore(ctx, cutoff)
		if err != nil {
			notifErr = fmt.Errorf("archive notifications: %w", err)
		}
		result.NotificationCount = n
	}
	metrics.ArchivedRecordsTotal.WithLabelValues("approval").Add(float64(result.ApprovalCount))
	metrics.ArchivedRecordsTotal.WithLabelValues("notification").Add(float64(result.NotificationCount))

	body := fmt.Sprintf("Records older than %d days (before %s) were archived.", daysOld, cutoff.Format(time.RFC3339))
	data := map[string]any{
		"cutoff":            cutoff.Format(time.RFC3339),
		"approvalCount":     result.ApprovalCount,
		"notificationCount": result.NotificationCount,
	}
	if notifErr != nil {
		logging.L(ctx).Error("archive sweep incomplete",
			"cutoff", cutoff, "approvals", result.ApprovalCount, "error", notifErr)
		body += " Notification archival failed: " + notifErr.Error()
		data["error"] = notifErr.Error()
	} else {
		logging.L(ctx).Info("archived old records",
			"cutoff", cutoff, "approvals", result.ApprovalCount, "notifications", result.NotificationCount)
	}

	q.notify(ctx, notify.KindArchiveSummary, &notify.Message{
		Subject:  fmt.Sprintf("Archive summary: %d approvals, %d notifications", result.ApprovalCount, result.NotificationCount),
		Body:     body,
		Priority: notify.PriorityLow,
		Data:     data,
	})
	if q.feed != nil {
		q.feed.Publish(realtime.EventArchive, map[string]any{
			"approvalCount":     result.ApprovalCount,
			"notificationCount": result.NotificationCount,
		})
	}
	if notifErr != nil {
		return result, notifErr
	}
	return result, nil
}

func (q *Queue) notify(ctx context.Context, kind notify.Kind, msg *notify.Message) {
	if q.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("review notification panicked", "kind", kind, "error", r)
		}
	}()
	q.notifier.Send(ctx, kind, msg)
}

func (q *Queue) publish(t realtime.EventType, a *Approval) {
	if q.feed == nil {
		return
	}
	q.feed.Publish(t, approvalData(a))
}

func approvalData(a *Approval) map[string]any {
	data := map[string]any{
		"id":       a.ID,
		"type":     a.Type,
		"domain":   a.Domain,
		"priority": string(a.Priority),
		"status":   string(a.Status),
	}
	if a.DecidedBy != "" {
		data["decidedBy"] = a.DecidedBy
	}
	if _, ok := a.Payload[operation.AmountKey]; ok {
		data[operation.AmountKey] = operation.AmountOf(a.Payload).String()
	}
	return data
}

func notifyPriority(p Priority) notify.Priority {
	switch p {
	case PriorityCritical:
		return notify.PriorityCritical
	case PriorityHigh:
		return notify.PriorityHigh
	case PriorityLow:
		return notify.PriorityLow
	default:
		return notify.PriorityNormal
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
