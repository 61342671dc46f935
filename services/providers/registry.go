package providers

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// Registry manages provider instances. It is owned by the gateway and
// built once at startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a new provider registry
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		if err := r.RegisterProvider(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RegisterProvider registers a provider instance
func (r *Registry) RegisterProvider(provider Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}
	if _, exists := r.providers[name]; exists {
		return ErrProviderAlreadyRegistered
	}

	r.providers[name] = provider
	return nil
}

// GetProvider retrieves a provider by name
func (r *Registry) GetProvider(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, ErrProviderNotFound
	}
	return provider, nil
}

// ListProviders returns all registered provider names, sorted
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListModels returns all models across all providers, sorted
func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []string
	for _, p := range r.providers {
		models = append(models, p.ListModels()...)
	}
	sort.Strings(models)
	return models
}

// ModelsFor returns the models served by one provider
func (r *Registry) ModelsFor(name string) ([]string, error) {
	p, err := r.GetProvider(name)
	if err != nil {
		return nil, err
	}
	models := append([]string(nil), p.ListModels()...)
	sort.Strings(models)
	return models, nil
}

// FindModels searches for models matching a pattern
func (r *Registry) FindModels(pattern string) []string {
	pattern = strings.ToLower(pattern)

	var matches []string
	for _, model := range r.ListModels() {
		if strings.Contains(strings.ToLower(model), pattern) {
			matches = append(matches, model)
		}
	}
	return matches
}
