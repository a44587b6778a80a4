// Package bundle wires configuration into a ready-to-use set of rate-limited
// provider clients: base SDK clients, limiter factories per (provider, limit
// type), the limiter registry, and the decorators in front of each client.
package bundle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"llmgate/pkg/config"
	"llmgate/pkg/llm"
	"llmgate/pkg/llmimpl/anthropic"
	"llmgate/pkg/llmimpl/gemini"
	"llmgate/pkg/llmimpl/ollama"
	"llmgate/pkg/llmimpl/openai"
	"llmgate/pkg/logx"
	"llmgate/pkg/metrics"
	"llmgate/pkg/ratelimit"
)

// Bundle is the assembled platform facade: one decorated client per enabled
// provider, sharing a limiter registry and storage backend.
type Bundle struct {
	clients  map[config.ProviderID]llm.Client
	registry *ratelimit.Registry
	store    ratelimit.Store
	logger   *logx.Logger
}

// Option customizes bundle construction.
type Option func(*builder)

type builder struct {
	clock          ratelimit.Clock
	recorder       metrics.Recorder
	baseClients    map[config.ProviderID]llm.Client
	limitOverrides map[config.ProviderID]map[config.LimitType]int64
	disableRetries bool
	logger         *logx.Logger
}

// WithClock overrides the clock used by limiters and retry waits (tests, CLI
// simulations).
func WithClock(c ratelimit.Clock) Option {
	return func(b *builder) { b.clock = c }
}

// WithRecorder sets the metrics recorder for all decorated clients.
func WithRecorder(r metrics.Recorder) Option {
	return func(b *builder) { b.recorder = r }
}

// WithBaseClient injects a pre-built base client for a provider, bypassing
// SDK client construction (mock mode).
func WithBaseClient(id config.ProviderID, client llm.Client) Option {
	return func(b *builder) {
		if b.baseClients == nil {
			b.baseClients = make(map[config.ProviderID]llm.Client)
		}
		b.baseClients[id] = client
	}
}

// WithLimitOverride replaces the configured limit for one (provider, type)
// pair, keeping its policy kind and interval. Used by the diagnostic CLI to
// force rate limiting with an artificially low quota.
func WithLimitOverride(id config.ProviderID, limitType config.LimitType, limit int64) Option {
	return func(b *builder) {
		if b.limitOverrides == nil {
			b.limitOverrides = make(map[config.ProviderID]map[config.LimitType]int64)
		}
		if b.limitOverrides[id] == nil {
			b.limitOverrides[id] = make(map[config.LimitType]int64)
		}
		b.limitOverrides[id][limitType] = limit
	}
}

// WithRetriesDisabled forces retries off regardless of configuration, so raw
// limiter rejections surface to the caller.
func WithRetriesDisabled() Option {
	return func(b *builder) { b.disableRetries = true }
}

// Build runs the configuration-driven registration loop. It fails only when
// the platform cannot be constructed at all (no enabled providers, no usable
// clients, or the storage backend is unreachable); a single misconfigured
// provider is logged and skipped.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*Bundle, error) {
	bld := &builder{
		clock:  ratelimit.RealClock(),
		logger: logx.NewLogger("bundle"),
	}
	for _, opt := range opts {
		opt(bld)
	}
	bld.recorder = selectRecorder(bld, cfg)

	enabled := cfg.EnabledProviders()
	if len(enabled) == 0 && len(bld.baseClients) == 0 {
		return nil, fmt.Errorf("no providers configured: enable at least one provider or inject a client")
	}

	store, locker, err := buildBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		clients:  make(map[config.ProviderID]llm.Client),
		registry: ratelimit.NewRegistry(),
		store:    store,
		logger:   bld.logger,
	}
	estimators := ratelimit.NewEstimatorRegistry()

	providers := enabled
	for id := range bld.baseClients {
		if _, ok := cfg.Providers[id]; !ok {
			providers = append(providers, id)
		}
	}

	for _, id := range providers {
		base, err := bld.baseClient(cfg, id)
		if err != nil {
			// One misconfigured provider must not take down the rest.
			bld.logger.Warn("skipping provider %s: %v", id, err)
			continue
		}

		if cfg.RateLimits.Enabled {
			if err := b.registerLimiters(cfg, bld, id, store, locker); err != nil {
				return nil, err
			}
		}

		retries := cfg.RateLimits.EnableRetries && !bld.disableRetries
		b.clients[id] = ratelimit.NewRateLimitedClient(base, b.registry, estimators,
			ratelimit.WithRetries(retries, cfg.RateLimits.MaxRetries),
			ratelimit.WithClientClock(bld.clock),
			ratelimit.WithRecorder(bld.recorder),
			ratelimit.WithLogger(bld.logger.WithComponent("ratelimit")),
		)
		bld.logger.Info("provider %s registered (retries: %v, max: %d)", id, retries, cfg.RateLimits.MaxRetries)
	}

	if len(b.clients) == 0 {
		_ = store.Close()
		return nil, fmt.Errorf("no provider clients could be constructed")
	}
	return b, nil
}

// selectRecorder picks the metrics recorder: an explicit WithRecorder wins,
// otherwise the config's metrics switch selects Prometheus or no-op.
func selectRecorder(bld *builder, cfg *config.Config) metrics.Recorder {
	if bld.recorder != nil {
		return bld.recorder
	}
	if cfg.Metrics.Enabled {
		return metrics.NewPrometheusRecorder()
	}
	return metrics.Nop()
}

// registerLimiters builds the requests and tokens factories for a provider
// from its effective policy pair.
func (b *Bundle) registerLimiters(cfg *config.Config, bld *builder, id config.ProviderID, store ratelimit.Store, locker ratelimit.Locker) error {
	limits := cfg.LimitsFor(id)

	register := func(limitType config.LimitType, pc *config.LimitPolicyConfig) error {
		if pc == nil {
			return nil
		}
		policy, err := ratelimit.PolicyFromConfig(pc)
		if err != nil {
			return fmt.Errorf("provider %s %s policy: %w", id, limitType, err)
		}
		if override, ok := bld.limitOverrides[id][limitType]; ok {
			policy.Limit = override
			policy.Amount = override
		}
		factory, err := ratelimit.NewFactory(policy,
			ratelimit.WithStore(store),
			ratelimit.WithLocker(locker),
			ratelimit.WithClock(bld.clock),
		)
		if err != nil {
			return fmt.Errorf("provider %s %s factory: %w", id, limitType, err)
		}
		b.registry.RegisterFor(id, limitType, factory)
		return nil
	}

	if err := register(config.LimitRequests, limits.Requests); err != nil {
		return err
	}
	return register(config.LimitTokens, limits.Tokens)
}

// baseClient resolves the base client for a provider: an injected one when
// present, otherwise the real SDK client from configuration.
func (bld *builder) baseClient(cfg *config.Config, id config.ProviderID) (llm.Client, error) {
	if client, ok := bld.baseClients[id]; ok {
		return client, nil
	}

	pc := cfg.Providers[id]
	if pc == nil {
		return nil, fmt.Errorf("provider %s not configured", id)
	}

	apiKey, err := cfg.ResolveAPIKey(id)
	if err != nil {
		return nil, err
	}

	switch id {
	case config.ProviderOpenAI:
		return openai.NewClient(apiKey, pc.Model), nil
	case config.ProviderAnthropic:
		return anthropic.NewClient(apiKey, pc.Model), nil
	case config.ProviderGemini:
		return gemini.NewClient(apiKey, pc.Model), nil
	case config.ProviderOllama:
		return ollama.NewClient(pc.Host, pc.Model), nil
	default:
		return nil, fmt.Errorf("no client implementation for provider %s", id)
	}
}

// buildBackend constructs the limiter store and lock coordinator from the
// storage section. Redis pairs with the distributed locker; local backends
// use the in-process keyed mutex.
func buildBackend(ctx context.Context, cfg *config.Config) (ratelimit.Store, ratelimit.Locker, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return ratelimit.NewMemoryStore(), ratelimit.NewKeyedMutex(), nil

	case "sqlite":
		store, err := ratelimit.NewSQLiteStore(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, ratelimit.NewKeyedMutex(), nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis backend unreachable at %s: %w", cfg.Storage.Redis.Addr, err)
		}
		return ratelimit.NewRedisStore(rdb), ratelimit.NewRedisLocker(rdb), nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Client returns the decorated client for a provider.
func (b *Bundle) Client(id config.ProviderID) (llm.Client, bool) {
	c, ok := b.clients[id]
	return c, ok
}

// Providers returns the ids with a registered client, in config order.
func (b *Bundle) Providers() []config.ProviderID {
	out := make([]config.ProviderID, 0, len(b.clients))
	for _, id := range config.KnownProviders {
		if _, ok := b.clients[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Registry exposes the limiter registry (diagnostics, tests).
func (b *Bundle) Registry() *ratelimit.Registry {
	return b.registry
}

// RateLimitedClient returns the decorator for a provider, for callers that
// need per-call retry outcomes (diagnostic CLI, tests).
func (b *Bundle) RateLimitedClient(id config.ProviderID) (*ratelimit.RateLimitedClient, bool) {
	c, ok := b.clients[id]
	if !ok {
		return nil, false
	}
	rlc, ok := c.(*ratelimit.RateLimitedClient)
	return rlc, ok
}

// Ask is the platform facade: it resolves the model to a provider, delegates
// to that provider's decorated client, and returns the response text.
func (b *Bundle) Ask(ctx context.Context, model, prompt string) (string, error) {
	client, err := b.clientForModel(model)
	if err != nil {
		return "", err
	}
	resp, err := client.Request(ctx, llm.NewRequest(model, []llm.Message{llm.NewUserMessage(prompt)}))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (b *Bundle) clientForModel(model string) (llm.Client, error) {
	provider, err := config.ProviderForModel(model)
	if err != nil {
		return nil, err
	}
	client, ok := b.clients[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s is not enabled for model %s", provider, model)
	}
	return client, nil
}

// Close releases the storage backend.
func (b *Bundle) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}
