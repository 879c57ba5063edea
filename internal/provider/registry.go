package provider

import (
	"fmt"
	"sync"

	"github.com/aimuxlabs/aimux/internal/config"
)

// Registry holds the configured providers in declaration order.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// BuildRegistry constructs providers for every enabled config block.
func BuildRegistry(cfgs []config.ProviderConfig, passthroughAuth bool) (*Registry, error) {
	r := NewRegistry()
	for _, cfg := range cfgs {
		if !cfg.IsEnabled() {
			continue
		}
		if err := r.Register(NewHTTPProvider(cfg, passthroughAuth)); err != nil {
			return nil, err
		}
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("no enabled providers configured")
	}
	return r, nil
}

// Register adds a provider. Duplicate names are rejected.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get returns the provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	return p, ok
}

// Names returns all provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// NamesForModel returns the providers that serve the given model, in
// registration order.
func (r *Registry) NamesForModel(model string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, name := range r.order {
		if r.providers[name].SupportsModel(model) {
			out = append(out, name)
		}
	}
	return out
}

// All returns every registered provider in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}
