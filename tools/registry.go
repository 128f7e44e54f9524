package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps tool-type names to handlers.
// Read-mostly: lookups take a read lock, registration a write lock.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler under name.
// Returns error if the name is empty or already registered.
func (r *Registry) Register(name string, h Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("tool type cannot be empty")
	}
	if h == nil {
		return fmt.Errorf("tool '%s' has a nil handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("tool '%s' already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Replace registers h under name, overwriting any existing handler.
func (r *Registry) Replace(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get returns the handler for name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	return h, ok
}

// Has checks if a tool type is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns registered tool types in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tool types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Describe renders the registered tools for LLM prompts, sorted by name.
func (r *Registry) Describe() string {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	lines := make([]string, 0, len(names))
	for _, name := range names {
		desc := "no description"
		if d, ok := r.handlers[name].(Describer); ok && d.Description() != "" {
			desc = d.Description()
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", name, desc))
	}
	return strings.Join(lines, "\n")
}
