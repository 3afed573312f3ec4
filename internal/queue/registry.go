// Package queue implements the claim-based job queue: a handler registry
// and a polling worker that claims jobs from the store and applies the
// retry/completion policy.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mzxrai/memva-sub002/internal/db/models"
	"github.com/mzxrai/memva-sub002/internal/logger"
)

// Handler processes a claimed job and resolves exactly once through its
// return values: a result on success or an error on failure, never both.
// Handlers may run arbitrarily long; the worker keeps the claim lock alive
// for as long as the handler runs. Handlers observe cancellation through
// ctx rather than being forcibly stopped.
type Handler func(ctx context.Context, job *models.Job) (json.RawMessage, error)

// Registry maps job-type strings to their handlers. It is constructed once
// and passed by reference into the worker; there is no ambient global
// registry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	known    map[string]struct{}
}

// NewRegistry creates a registry. knownTypes enumerates the job types the
// application expects; registering a type outside the enumeration is
// allowed for forward compatibility but logged as a warning.
func NewRegistry(knownTypes ...string) *Registry {
	known := make(map[string]struct{}, len(knownTypes))
	for _, t := range knownTypes {
		known[t] = struct{}{}
	}
	return &Registry{
		handlers: make(map[string]Handler),
		known:    known,
	}
}

// Register binds a handler to a job type. Registering the same type twice
// is a programming error and fails.
func (r *Registry) Register(jobType string, handler Handler) error {
	if jobType == "" {
		return fmt.Errorf("job type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for job type %q cannot be nil", jobType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("duplicate handler for job type %q", jobType)
	}
	if _, ok := r.known[jobType]; !ok {
		logger.Warnf("Registering handler for job type %q outside the known enumeration", jobType)
	}
	r.handlers[jobType] = handler
	return nil
}

// Get returns the handler for a job type, if one is registered.
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the sorted list of job types with registered handlers.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
