package llm

import (
	"fmt"
	"slices"
	"sync"

	"steelwool/internal/domain"
)

// Registry holds named providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.NamedProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.NamedProvider),
	}
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.NamedProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.NamedProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// Streaming returns the named provider's streaming side.
func (r *Registry) Streaming(name string) (domain.StreamProviderAdapter, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	sp, ok := p.(domain.StreamProviderAdapter)
	if !ok {
		return nil, domain.NewDomainError("Registry.Streaming", domain.ErrStreamingUnsupported, name)
	}
	return sp, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
