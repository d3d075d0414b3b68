package executor

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/sovereign/internal/operation"
)

// BodyFunc builds the business action for a request. The embedding
// application registers one per operation type it can carry out.
type BodyFunc func(ctx context.Context, req *operation.Request) (any, error)

// Registry maps operation types to bodies.
type Registry struct {
	mu     sync.RWMutex
	bodies map[operation.Type]BodyFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bodies: make(map[operation.Type]BodyFunc)}
}

// Register installs fn for t, replacing any previous body.
func (r *Registry) Register(t operation.Type, fn BodyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies[t] = fn
}

// Lookup returns the body for t.
func (r *Registry) Lookup(t operation.Type) (BodyFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.bodies[t]
	return fn, ok
}

// Types lists registered types in sorted order.
func (r *Registry) Types() []operation.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]operation.Type, 0, len(r.bodies))
	for t := range r.bodies {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Bind adapts a registered body to the Body signature for one request.
func (r *Registry) Bind(req *operation.Request) (Body, bool) {
	fn, ok := r.Lookup(req.Type)
	if !ok {
		return nil, false
	}
	return func(ctx context.Context) (any, error) { return fn(ctx, req) }, true
}
