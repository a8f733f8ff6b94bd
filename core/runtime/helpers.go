package runtime

import (
	"sort"
	"sync"
)

// HelperRegistry is the live table of module helpers.
// Helpers become visible when the lifecycle reaches the section
// registration phase.
type HelperRegistry struct {
	mu      sync.RWMutex
	helpers map[string]map[string]any
}

// NewHelperRegistry creates an empty helper table.
func NewHelperRegistry() *HelperRegistry {
	return &HelperRegistry{
		helpers: make(map[string]map[string]any),
	}
}

// Register adds the helpers of a module. Later registrations for the same
// module and name replace earlier ones.
func (r *HelperRegistry) Register(module string, helpers map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table, ok := r.helpers[module]
	if !ok {
		table = make(map[string]any, len(helpers))
		r.helpers[module] = table
	}
	for name, h := range helpers {
		table[name] = h
	}
}

// Get returns a helper of a module.
func (r *HelperRegistry) Get(module, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.helpers[module][name]
	return h, ok
}

// Module returns a copy of the helpers registered by a module.
func (r *HelperRegistry) Module(module string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]any, len(r.helpers[module]))
	for name, h := range r.helpers[module] {
		out[name] = h
	}
	return out
}

// List returns all helpers as sorted "module.name" keys.
func (r *HelperRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for module, table := range r.helpers {
		for name := range table {
			names = append(names, module+"."+name)
		}
	}
	sort.Strings(names)
	return names
}
