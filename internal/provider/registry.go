package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages provider adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a new adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter to the registry
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.Name()]; exists {
		return fmt.Errorf("provider %s already registered", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Get retrieves an adapter by name
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// Ordered returns all adapters sorted by priority, ties broken by name.
func (r *Registry) Ordered() []Adapter {
	r.mu.RLock()
	result := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		result = append(result, a)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		pi, pj := result[i].Profile().Priority, result[j].Profile().Priority
		if pi != pj {
			return pi < pj
		}
		return result[i].Name() < result[j].Name()
	})
	return result
}
