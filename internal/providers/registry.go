package providers

import (
	"fmt"
	"log"
)

// Registry holds the mapping between provider names and their
// implementations. It is populated once at startup and read-only
// afterwards, so lookups need no locking.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider implementation under its own name. Registering a
// duplicate name overwrites the previous implementation; this is documented
// behavior, not defended against.
func (r *Registry) Register(p Provider) {
	name := p.Name()
	if _, exists := r.providers[name]; exists {
		log.Printf("WARN [ProviderRegistry] Provider '%s' is already registered. Overwriting.", name)
	}
	r.providers[name] = p
	log.Printf("[ProviderRegistry] Registered provider '%s' (category: %s)", name, p.Category())
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	p, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// GetByCategory returns every registered provider in the given category.
func (r *Registry) GetByCategory(category string) []Provider {
	var out []Provider
	for _, p := range r.providers {
		if p.Category() == category {
			out = append(out, p)
		}
	}
	return out
}

// Names returns the names of all registered providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
