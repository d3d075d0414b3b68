package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLog is an in-memory notification log for development and testing.
type MemoryLog struct {
	live     []*Notification
	archived []*Notification
	mu       sync.RWMutex
}

// NewMemoryLog creates a new in-memory notification log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = append(m.live, cloneNotification(n))
	return nil
}

// List returns newest-first records.
func (m *MemoryLog) List(ctx context.Context, limit, offset int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := make([]*Notification, len(m.live))
	copy(sorted, m.live)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	if offset >= len(sorted) {
		return []*Notification{}, nil
	}
	end := len(sorted)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*Notification, 0, end-offset)
	for _, n := range sorted[offset:end] {
		out = append(out, cloneNotification(n))
	}
	return out, nil
}

func (m *MemoryLog) ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.live[:0]
	moved := 0
	for _, n := range m.live {
		if n.Timestamp.Before(cutoff) {
			m.archived = append(m.archived, n)
			moved++
			continue
		}
		kept = append(kept, n)
	}
	m.live = kept
	return moved, nil
}

// Archived returns the number of archived records.
func (m *MemoryLog) Archived() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.archived)
}

func cloneNotification(n *Notification) *Notification {
	c := *n
	if n.Payload != nil {
		c.Payload = make(map[string]any, len(n.Payload))
		for k, v := range n.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}
