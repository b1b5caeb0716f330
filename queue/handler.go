package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/relayloop/campaignd/job"
)

// Handler defines the interface for executing a specific job type.
// Provider packages implement this interface so the queue infrastructure
// stays decoupled from third-party call details. A handler's contract is
// at-least-once: a job may be re-executed after a breaker pause, a retry,
// or a crash, so its body must be idempotent or safely re-runnable.
type Handler interface {
	// Execute runs the job. Return nil on success; return an error wrapped
	// by client.Retryable for failures worth another attempt.
	Execute(ctx context.Context, j *job.Job) error

	// Type returns the job type this handler executes.
	Type() job.Type
}

// Registry manages job handlers by type.
// Thread-safe for concurrent handler registration and lookup.
type Registry struct {
	handlers map[job.Type]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[job.Type]Handler),
	}
}

// Register adds a handler for its job type.
// Panics if a handler is already registered for that type.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := h.Type()
	if _, exists := r.handlers[t]; exists {
		panic(fmt.Sprintf("handler already registered for job type: %s", t))
	}
	r.handlers[t] = h
}

// Get retrieves the handler for a job type. Returns nil if none registered.
func (r *Registry) Get(t job.Type) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[t]
}

// Types returns all registered job types.
func (r *Registry) Types() []job.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]job.Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// FuncHandler adapts a function to the Handler interface.
type FuncHandler struct {
	jobType job.Type
	fn      func(ctx context.Context, j *job.Job) error
}

// NewFuncHandler creates a handler from a function.
func NewFuncHandler(t job.Type, fn func(ctx context.Context, j *job.Job) error) *FuncHandler {
	return &FuncHandler{jobType: t, fn: fn}
}

// Execute implements Handler.
func (h *FuncHandler) Execute(ctx context.Context, j *job.Job) error {
	return h.fn(ctx, j)
}

// Type implements Handler.
func (h *FuncHandler) Type() job.Type {
	return h.jobType
}
