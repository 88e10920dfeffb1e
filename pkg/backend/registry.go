package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tessellate-ai/refine/pkg/llmerrors"
)

// Config carries the provider-agnostic settings a Factory needs to construct
// a concrete backend. Unused fields are ignored by providers that do not
// need them.
type Config struct {
	// APIKey authenticates against credential-based providers.
	APIKey string `json:"-" yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For Ollama this is
	// the server host.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Model is the default model when a call does not specify one.
	Model string `json:"model" yaml:"model"`

	// Organization is forwarded to providers that scope keys to an org.
	Organization string `json:"organization,omitempty" yaml:"organization"`
}

// Factory constructs a Backend from configuration.
type Factory func(cfg Config) (Backend, error)

// Registry maps provider identifiers to backend factories. It replaces
// tag-based dynamic dispatch with an explicit, injectable mapping so tests
// can register fakes without touching process-wide state.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a provider identifier to a factory, replacing any previous
// binding for the same identifier.
func (r *Registry) Register(provider string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = factory
}

// New constructs a backend for the provider identifier.
// Returns llmerrors.ErrUnknownProvider for unregistered identifiers.
func (r *Registry) New(provider string, cfg Config) (Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[provider]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", llmerrors.ErrUnknownProvider, provider, r.Providers())
	}
	return factory(cfg)
}

// Providers returns the registered provider identifiers in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
