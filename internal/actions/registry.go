package actions

import (
	"sort"
	"sync"

	"github.com/rloza/tramite/pkg/schema"
)

// Registry is a thread-safe lookup of executors by action kind.
type Registry struct {
	mu        sync.RWMutex
	executors map[schema.ActionType]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[schema.ActionType]Executor),
	}
}

// Register adds an executor. Returns error on duplicate action kind.
func (r *Registry) Register(e Executor) error {
	if e == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	name := e.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor action kind is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor for %q already registered", name)
	}

	r.executors[name] = e
	return nil
}

// Get retrieves the executor for an action kind.
func (r *Registry) Get(action schema.ActionType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[action]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotImplemented, "no executor registered for action %q", action)
	}
	return e, nil
}

// Has checks whether an executor is registered for an action kind.
func (r *Registry) Has(action schema.ActionType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[action]
	return ok
}

// List returns the registered action kinds, sorted.
func (r *Registry) List() []schema.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]schema.ActionType, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}
