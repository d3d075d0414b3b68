package review

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically archives old records.
type Timer struct {
	queue    *Queue
	daysOld  int
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates an archival timer. Non-positive arguments fall back to
// DefaultRetentionDays and one hour.
func NewTimer(queue *Queue, daysOld int, interval time.Duration, logger *slog.Logger) *Timer {
	if daysOld <= 0 {
		daysOld = DefaultRetentionDays
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Timer{
		queue:    queue,
		daysOld:  daysOld,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the archival loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeArchive(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeArchive(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in archive timer", "panic", fmt.Sprint(r))
		}
	}()
	result, err := t.queue.ArchiveOldRecords(ctx, t.daysOld)
	if err != nil {
		t.logger.Warn("archive sweep failed", "error", err)
		return
	}
	if result.ApprovalCount > 0 || result.NotificationCount > 0 {
		t.logger.Info("archive sweep completed",
			"approvals", result.ApprovalCount, "notifications", result.NotificationCount)
	}
}
