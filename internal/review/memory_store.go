package review

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process approval store owned by one Queue.
type MemoryStore struct {
	live     map[string]*Approval
	archived map[string]*Approval
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		live:     make(map[string]*Approval),
		archived: make(map[string]*Approval),
	}
}

func (m *MemoryStore) Create(ctx context.Context, a *Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[a.ID] = cloneApproval(a)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.live[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneApproval(a), nil
}

func (m *MemoryStore) ListPending(ctx context.Context) ([]*Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Approval
	for _, a := range m.live {
		if a.Status == StatusPending {
			out = append(out, cloneApproval(a))
		}
	}
	return out, nil
}

func (m *MemoryStore) Decide(ctx context.Context, id string, d Decision) (*Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.live[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}
	at := d.At
	a.Status = d.Status
	a.DecidedBy = d.DecidedBy
	a.Comments = d.Comments
	a.ProcessedAt = &at
	return cloneApproval(a), nil
}

func (m *MemoryStore) ArchiveProcessedBefore(ctx context.Context, cutoff time.Time) ([]*Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Approval
	for id, a := range m.live {
		if !a.Status.IsTerminal() || a.ProcessedAt == nil || !a.ProcessedAt.Before(cutoff) {
			continue
		}
		m.archived[id] = a
		delete(m.live, id)
		out = append(out, cloneApproval(a))
	}
	return out, nil
}

// ArchivedCount returns the number of archived records.
func (m *MemoryStore) ArchivedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.archived)
}
