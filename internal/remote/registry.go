package remote

import (
	"fmt"
	"sync"
)

// Constructor builds an Adapter for one provider dialect.
// Implementations register themselves with Register() from init().
type Constructor func(opts Options) Adapter

var (
	registry   = make(map[Provider]Constructor)
	registryMu sync.RWMutex
)

// Register registers an adapter constructor for a provider.
// Called from init() in the dialect files (github.go, gitlab.go).
func Register(p Provider, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("remote: Register constructor is nil for provider %s", p))
	}
	if _, exists := registry[p]; exists {
		panic(fmt.Sprintf("remote: Register called twice for provider %s", p))
	}
	registry[p] = constructor
}

// New builds an adapter for the given provider using the registered
// constructor.
func New(p Provider, opts Options) (Adapter, error) {
	registryMu.RLock()
	constructor := registry[p]
	registryMu.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("no adapter registered for provider %q", p)
	}
	return constructor(opts), nil
}

// IsRegistered reports whether a constructor exists for the provider.
func IsRegistered(p Provider) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, exists := registry[p]
	return exists
}

// RegisteredProviders returns all registered providers.
func RegisteredProviders() []Provider {
	registryMu.RLock()
	defer registryMu.RUnlock()

	providers := make([]Provider, 0, len(registry))
	for p := range registry {
		providers = append(providers, p)
	}
	return providers
}
