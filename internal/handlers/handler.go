package handlers

import (
	"context"
	"sync"

	"github.com/rjoudeh/duewatch/internal/domain"
)

// Handler processes jobs of a single type.
//
// A returned error asks the scheduling layer to decide on a retry. A
// Result with Success=false and a nil error means the handler settled the
// failure itself (validation problems, exhausted local retries) and no
// dispatcher-level retry budget is consumed.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) (*domain.Result, error)
	JobType() string
}

// Registry maps job type names to their handlers. Routing is an exact
// string match; there is no wildcard or fallback handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.JobType()] = h
}

// Get returns the handler for the given job type.
// Returns UnknownJobTypeError if not registered.
func (r *Registry) Get(jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, &domain.UnknownJobTypeError{JobType: jobType}
	}
	return h, nil
}
