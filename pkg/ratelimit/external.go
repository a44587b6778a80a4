package ratelimit

import (
	"fmt"

	"llmgate/pkg/config"
	"llmgate/pkg/llmerrors"
)

// ExternalRateLimiter resolves, for a (provider, limit type, model) triple,
// the limiter factory to use and the storage key under which that model's
// consumption is tracked.
type ExternalRateLimiter interface {
	// RateLimiter looks up the factory registered for the pair. A missing
	// registration returns llmerrors.NotConfiguredError: the caller must
	// treat it as "rate limiting misconfigured", not as "no limit".
	RateLimiter(provider config.ProviderID, limitType config.LimitType, model string) (*Factory, error)

	// HasRateLimiter is the non-throwing existence check used to skip a
	// dimension entirely (e.g. a provider with only a request limit).
	HasRateLimiter(provider config.ProviderID, limitType config.LimitType) bool

	// RateLimiterKey derives the storage key for a model's consumption.
	// Pure and deterministic: identical inputs must always yield the same
	// key, or quota accounting breaks across process restarts.
	RateLimiterKey(provider config.ProviderID, limitType config.LimitType, model string) string
}

// KeyFunc derives a storage key from (provider, limit type, model).
type KeyFunc func(provider config.ProviderID, limitType config.LimitType, model string) string

// DefaultServiceID computes the registration id a (provider, limit type) pair
// resolves to unless an explicit override exists.
func DefaultServiceID(provider config.ProviderID, limitType config.LimitType) string {
	return fmt.Sprintf("%s_%s", provider, limitType)
}

// DefaultKey concatenates provider, limit type, and model with underscores,
// e.g. "openai_requests_gpt-4o-mini". Distinct models under one provider/type
// get distinct keys; there is no caller/tenant dimension, so all callers of a
// given provider+model share one bucket.
func DefaultKey(provider config.ProviderID, limitType config.LimitType, model string) string {
	return fmt.Sprintf("%s_%s_%s", provider, limitType, model)
}

type limiterRef struct {
	provider  config.ProviderID
	limitType config.LimitType
}

// Registry is the ExternalRateLimiter implementation: factories registered by
// service id, resolved via the default id scheme unless overridden. Built by
// explicit constructor injection at startup; registrations are not expected
// after wiring completes and lookups are not synchronized.
type Registry struct {
	factories map[string]*Factory
	overrides map[limiterRef]string
	keyFunc   KeyFunc
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithKeyFunc overrides key derivation. This is the extension point for
// adding a per-caller or per-tenant dimension to bucket keys.
func WithKeyFunc(fn KeyFunc) RegistryOption {
	return func(r *Registry) { r.keyFunc = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		factories: make(map[string]*Factory),
		overrides: make(map[limiterRef]string),
		keyFunc:   DefaultKey,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds a factory to an explicit service id.
func (r *Registry) Register(id string, f *Factory) {
	r.factories[id] = f
}

// RegisterFor binds a factory under the default service id for the pair.
func (r *Registry) RegisterFor(provider config.ProviderID, limitType config.LimitType, f *Factory) {
	r.Register(DefaultServiceID(provider, limitType), f)
}

// Override maps a (provider, limit type) pair to a non-default service id,
// letting several pairs share one factory or use a custom registration.
func (r *Registry) Override(provider config.ProviderID, limitType config.LimitType, id string) {
	r.overrides[limiterRef{provider, limitType}] = id
}

func (r *Registry) serviceID(provider config.ProviderID, limitType config.LimitType) string {
	if id, ok := r.overrides[limiterRef{provider, limitType}]; ok {
		return id
	}
	return DefaultServiceID(provider, limitType)
}

// RateLimiter implements ExternalRateLimiter.
func (r *Registry) RateLimiter(provider config.ProviderID, limitType config.LimitType, _ string) (*Factory, error) {
	id := r.serviceID(provider, limitType)
	f, ok := r.factories[id]
	if !ok {
		return nil, &llmerrors.NotConfiguredError{Provider: provider, LimitType: limitType}
	}
	return f, nil
}

// HasRateLimiter implements ExternalRateLimiter.
func (r *Registry) HasRateLimiter(provider config.ProviderID, limitType config.LimitType) bool {
	_, ok := r.factories[r.serviceID(provider, limitType)]
	return ok
}

// RateLimiterKey implements ExternalRateLimiter.
func (r *Registry) RateLimiterKey(provider config.ProviderID, limitType config.LimitType, model string) string {
	return r.keyFunc(provider, limitType, model)
}
