package gateway

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// Registry holds the providers registered at startup. The purchase request
// names its payment method; the registry resolves it to a provider.
type Registry struct {
	providers map[string]Provider
	primary   string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(provider Provider) {
	r.providers[provider.Name()] = provider

	// First registered provider is the primary.
	if r.primary == "" {
		r.primary = provider.Name()
	}
}

func (r *Registry) Get(name string) (Provider, error) {
	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("gateway: provider %s not registered", name)
	}
	return provider, nil
}

// Primary is the default provider for requests that name no payment method.
func (r *Registry) Primary() (Provider, error) {
	if r.primary == "" {
		return nil, fmt.Errorf("gateway: no provider configured")
	}
	return r.Get(r.primary)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts every provider down, logging failures and continuing.
func (r *Registry) Close(ctx context.Context) {
	for name, provider := range r.providers {
		if err := provider.Close(ctx); err != nil {
			log.Printf("gateway: close %s: %v", name, err)
		}
	}
}
