// Package registry implements a generic, insertion-ordered, thread-safe
// component registry. Grounded on the teacher's ServiceRegistry
// (coreengine/kernel/services.go), generalized from a fixed service
// shape to any named component type via a type parameter, and
// generalized from nil-only unregistration to a caller-supplied
// shutdown hook invoked in reverse-registration order.
package registry

import (
	"sync"

	"github.com/halimchaibi/cheshire-core/internal/cherr"
)

// ShutdownFunc stops a single registered component.
type ShutdownFunc[T any] func(T) error

// Registry holds named components of type T, tracking registration
// order so Shutdown can tear them down in reverse.
type Registry[T any] struct {
	mu       sync.RWMutex
	items    map[string]T
	order    []string
	shutdown ShutdownFunc[T]
}

// New creates an empty Registry. shutdown may be nil if components
// never need explicit teardown.
func New[T any](shutdown ShutdownFunc[T]) *Registry[T] {
	return &Registry[T]{items: make(map[string]T), shutdown: shutdown}
}

// Register adds a named component. Registering under a name that is
// already present returns a cherr.KindConfiguration error.
func (r *Registry[T]) Register(name string, item T) error {
	if name == "" {
		return cherr.New(cherr.KindConfiguration, "component name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[name]; exists {
		return cherr.New(cherr.KindConfiguration, "component %q already registered", name)
	}
	r.items[name] = item
	r.order = append(r.order, name)
	return nil
}

// Unregister removes a named component without invoking its shutdown
// hook. Returns false if the name was not present.
func (r *Registry[T]) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; !ok {
		return false
	}
	delete(r.items, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the named component and whether it was found.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[name]
	return item, ok
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[name]
	return ok
}

// Names returns registered names in registration order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered components.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Each calls fn for every component in registration order. fn must
// not call back into the registry; Each holds a read lock for its
// duration.
func (r *Registry[T]) Each(fn func(name string, item T)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		fn(name, r.items[name])
	}
}

// Shutdown tears down every registered component in reverse
// registration order, collecting (not stopping on) per-entry errors
// into a cherr.MultiError, mirroring ServiceRegistry's swallow-and-log
// discipline — callers are expected to log the returned error's
// constituents rather than abort.
func (r *Registry[T]) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var merr cherr.MultiError
	if r.shutdown == nil {
		r.items = make(map[string]T)
		r.order = nil
		return merr.ErrOrNil()
	}
	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if err := r.shutdown(r.items[name]); err != nil {
			merr.Add(cherr.Wrap(cherr.KindLifecycle, "component="+name, err))
		}
	}
	r.items = make(map[string]T)
	r.order = nil
	return merr.ErrOrNil()
}
