// Package registry manages module registration and conflict detection.
// It ensures modules don't claim conflicting names, aliases or action
// prefixes and provides lookup by name or alias.
package registry

import (
	"sync"

	"github.com/artpar/modhost/core/apierr"
	"github.com/artpar/modhost/core/module"
)

// Registry manages registered modules.
type Registry struct {
	mu sync.RWMutex

	// modules in registration order
	modules []*module.Module

	// bindings maps names and aliases to modules
	bindings map[string]*module.Module

	// prefixes maps action prefixes to module names
	prefixes map[string]string
}

// New creates a new registry.
func New() *Registry {
	return &Registry{
		bindings: make(map[string]*module.Module),
		prefixes: make(map[string]string),
	}
}

// Register stores a module under its name and, if set, its alias.
// A name, alias or action prefix that is already bound is a
// ConfigurationError.
func (r *Registry) Register(mod *module.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.bindings[mod.Name]; exists {
		return apierr.Configf(mod.Name, "name already bound to module %q", existing.Name)
	}
	if mod.Alias != "" {
		if mod.Alias == mod.Name {
			return apierr.Configf(mod.Name, "alias %q repeats the module name", mod.Alias)
		}
		if existing, exists := r.bindings[mod.Alias]; exists {
			return apierr.Configf(mod.Name, "alias %q collides with module %q", mod.Alias, existing.Name)
		}
	}
	if owner, exists := r.prefixes[mod.ActionPrefix]; exists {
		return apierr.Configf(mod.Name, "action prefix %q already claimed by module %q", mod.ActionPrefix, owner)
	}

	r.modules = append(r.modules, mod)
	r.bindings[mod.Name] = mod
	if mod.Alias != "" {
		r.bindings[mod.Alias] = mod
	}
	r.prefixes[mod.ActionPrefix] = mod.Name

	return nil
}

// Lookup returns a registered module by name or alias.
func (r *Registry) Lookup(nameOrAlias string) (*module.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, ok := r.bindings[nameOrAlias]
	return mod, ok
}

// List returns all registered modules in registration order.
func (r *Registry) List() []*module.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]*module.Module(nil), r.modules...)
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}
