// Package stage holds the registry of model transformation functions that
// pipeline definitions can reference by name.
package stage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
)

// ModelFunc is one registered transformation. It receives the record's current
// row, restricted to the configured input columns, and returns the derived
// output row. Errors are classified by the retry machinery; return a permanent
// error for input the function can never process.
type ModelFunc func(row model.RowData) (model.RowData, error)

// Registry maps function names to ModelFuncs. It is safe for concurrent use,
// though registration normally happens only during startup.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]ModelFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]ModelFunc)}
}

// Register adds a function under the given name. Registering the same name
// twice is a programming error and returns an error rather than silently
// replacing the earlier function.
func (r *Registry) Register(name string, fn ModelFunc) error {
	if name == "" {
		return fmt.Errorf("model function name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("model function '%s' must not be nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("model function '%s' is already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is Register for static initialization; it panics on error.
func (r *Registry) MustRegister(name string, fn ModelFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Resolve returns the function registered under name.
func (r *Registry) Resolve(name string) (ModelFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("model function '%s' is not registered", name)
	}
	return fn, nil
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
