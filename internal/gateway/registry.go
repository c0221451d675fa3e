package gateway

import (
	"strings"

	"github.com/recurhq/recur/internal/gateway/domain"
)

// Registry resolves charge adapters by provider name.
type Registry struct {
	factories map[string]domain.Factory
}

func NewRegistry(factories ...domain.Factory) *Registry {
	registry := &Registry{factories: map[string]domain.Factory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.factories[provider]
	return ok
}

func (r *Registry) New(provider string, cfg domain.Config) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.New(cfg)
}
