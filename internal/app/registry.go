package app

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNotRegistered = errors.New("component not registered")
	ErrWrongType     = errors.New("component has a different type")
)

// Registry holds named components for lookup by commands that only need
// one of them.
type Registry struct {
	mu         sync.RWMutex
	components map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{components: make(map[string]any)}
}

// Register adds or replaces a component.
func (r *Registry) Register(name string, component any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = component
}

// Get retrieves a component by name.
func (r *Registry) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return c, ok
}

// Names lists registered components in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.components))
	for n := range r.components {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the named component as T.
func Resolve[T any](r *Registry, name string) (T, error) {
	var zero T
	c, ok := r.Get(name)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	t, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T", ErrWrongType, name, c)
	}
	return t, nil
}
