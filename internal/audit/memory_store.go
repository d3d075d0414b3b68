package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/sovereign/internal/idgen"
)

// MemoryStore is an in-memory audit store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = idgen.Ordered()
	}
	m.entries = append(m.entries, cloneEntry(e))
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for _, e := range m.entries {
		if f.matches(e) && f.Cursor.After(e.Timestamp, e.ID) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Count(ctx context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.entries {
		if f.matches(e) {
			n++
		}
	}
	return n, nil
}

// Len returns the total number of stored entries across all domains.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// cloneEntry deep-copies so callers cannot mutate stored history.
func cloneEntry(e *Entry) *Entry {
	cp := *e
	cp.OperationData = cloneMap(e.OperationData)
	if e.Approved != nil {
		v := *e.Approved
		cp.Approved = &v
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			out[k] = cloneMap(t)
		case []any:
			cp := make([]any, len(t))
			copy(cp, t)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
