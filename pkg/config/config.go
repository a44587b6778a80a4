// Package config provides configuration loading, validation, and defaults for llmgate.
//
// Configuration strictly separates three concerns:
//
//   - Provider registration: which AI providers are enabled, their credentials
//     and default models.
//   - Rate limit policies: per-provider request and token quotas, resolved
//     against the built-in default policy table when not specified.
//   - Backend selection: where limiter state lives (memory, sqlite, redis) and
//     which lock coordinator serializes check-and-deduct.
//
// All sections are validated on load; invalid configs are rejected rather than
// silently corrected.
package config

import (
	"fmt"
	"strings"
	"time"
)

// ProviderID identifies an AI provider.
type ProviderID string

// Known providers. The set is closed at configuration time: configs naming any
// other provider id fail validation.
const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGemini    ProviderID = "gemini"
	ProviderOllama    ProviderID = "ollama"
)

// KnownProviders enumerates every provider id accepted in configuration.
//
//nolint:gochecknoglobals // Closed enumeration, not mutable state
var KnownProviders = []ProviderID{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama}

// IsKnownProvider reports whether id names a supported provider.
func IsKnownProvider(id ProviderID) bool {
	for _, p := range KnownProviders {
		if p == id {
			return true
		}
	}
	return false
}

// LimitType distinguishes the two quota dimensions tracked per provider.
type LimitType string

const (
	// LimitRequests counts outbound requests.
	LimitRequests LimitType = "requests"
	// LimitTokens counts estimated prompt tokens.
	LimitTokens LimitType = "tokens"
)

// Limiter policy kinds.
const (
	PolicyTokenBucket   = "token_bucket"
	PolicyFixedWindow   = "fixed_window"
	PolicySlidingWindow = "sliding_window"
)

// RateConfig describes the refill rate of a limiter: Amount units per Interval.
type RateConfig struct {
	Interval time.Duration `yaml:"interval"`
	Amount   int64         `yaml:"amount"`
}

// LimitPolicyConfig is the policy descriptor for a single (provider, limit type) pair.
type LimitPolicyConfig struct {
	Policy string     `yaml:"policy"`
	Limit  int64      `yaml:"limit"`
	Rate   RateConfig `yaml:"rate"`
}

// Validate checks the policy descriptor for internal consistency.
func (c *LimitPolicyConfig) Validate() error {
	switch c.Policy {
	case PolicyTokenBucket, PolicyFixedWindow, PolicySlidingWindow:
	case "":
		return fmt.Errorf("policy cannot be empty")
	default:
		return fmt.Errorf("unknown policy %q", c.Policy)
	}
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", c.Limit)
	}
	if c.Rate.Amount <= 0 {
		return fmt.Errorf("rate amount must be positive, got %d", c.Rate.Amount)
	}
	if c.Rate.Interval <= 0 {
		return fmt.Errorf("rate interval must be positive, got %v", c.Rate.Interval)
	}
	return nil
}

// ProviderLimitsConfig holds the two optional limit policies for one provider.
// A nil entry means that dimension is not limited.
type ProviderLimitsConfig struct {
	Requests *LimitPolicyConfig `yaml:"requests,omitempty"`
	Tokens   *LimitPolicyConfig `yaml:"tokens,omitempty"`
}

// Validate checks both policies when present.
func (c *ProviderLimitsConfig) Validate() error {
	if c.Requests != nil {
		if err := c.Requests.Validate(); err != nil {
			return fmt.Errorf("requests: %w", err)
		}
	}
	if c.Tokens != nil {
		if err := c.Tokens.Validate(); err != nil {
			return fmt.Errorf("tokens: %w", err)
		}
	}
	return nil
}

// RateLimitsConfig groups global rate limiting switches with per-provider policies.
type RateLimitsConfig struct {
	Enabled       bool                                 `yaml:"enabled"`
	EnableRetries bool                                 `yaml:"enable_retries"`
	MaxRetries    int                                  `yaml:"max_retries"`
	Providers     map[ProviderID]*ProviderLimitsConfig `yaml:"providers"`
}

// Validate checks the rate limit section.
func (c *RateLimitsConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	for id, limits := range c.Providers {
		if !IsKnownProvider(id) {
			return fmt.Errorf("rate limits reference unknown provider %q", id)
		}
		if limits == nil {
			continue
		}
		if err := limits.Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", id, err)
		}
	}
	return nil
}

// defaultPolicy builds a token-bucket policy of limit units refilling fully each minute.
func defaultPolicy(limit int64) *LimitPolicyConfig {
	return &LimitPolicyConfig{
		Policy: PolicyTokenBucket,
		Limit:  limit,
		Rate:   RateConfig{Interval: time.Minute, Amount: limit},
	}
}

// DefaultProviderLimits returns the built-in policy pair for a provider.
// Providers outside the table get the conservative fallback quota.
func DefaultProviderLimits(id ProviderID) *ProviderLimitsConfig {
	switch id {
	case ProviderOpenAI:
		return &ProviderLimitsConfig{Requests: defaultPolicy(180), Tokens: defaultPolicy(450000)}
	case ProviderAnthropic:
		return &ProviderLimitsConfig{Requests: defaultPolicy(100), Tokens: defaultPolicy(100000)}
	case ProviderGemini:
		return &ProviderLimitsConfig{Requests: defaultPolicy(1000), Tokens: defaultPolicy(1000000)}
	default:
		return &ProviderLimitsConfig{Requests: defaultPolicy(60), Tokens: defaultPolicy(60000)}
	}
}

// ProviderConfig holds the connection settings for one provider.
type ProviderConfig struct {
	Enabled bool `yaml:"enabled"`

	// Credential resolution, in precedence order: APIKey (literal, discouraged
	// outside tests), APIKeyEncrypted (AES-GCM blob, see secrets.go),
	// APIKeyEnv (environment variable name).
	APIKey          string `yaml:"api_key,omitempty"`
	APIKeyEncrypted string `yaml:"api_key_encrypted,omitempty"`
	APIKeyEnv       string `yaml:"api_key_env,omitempty"`

	// Model is the default model requested through this provider.
	Model string `yaml:"model"`

	// Host applies to self-hosted providers (ollama).
	Host string `yaml:"host,omitempty"`
}

// StorageConfig selects the limiter state backend and lock coordinator.
type StorageConfig struct {
	// Backend is one of "memory", "sqlite", "redis".
	Backend string `yaml:"backend"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// Validate checks the storage section.
func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case "", "memory":
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite backend requires sqlite.path")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis backend requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	return nil
}

// MetricsConfig selects the metrics recorder.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	PrometheusURL string `yaml:"prometheus_url,omitempty"` // For the query service, not the recorder
}

// Config is the root configuration object.
type Config struct {
	Providers  map[ProviderID]*ProviderConfig `yaml:"providers"`
	RateLimits RateLimitsConfig               `yaml:"rate_limits"`
	Storage    StorageConfig                  `yaml:"storage"`
	Metrics    MetricsConfig                  `yaml:"metrics"`
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	for id := range c.Providers {
		if !IsKnownProvider(id) {
			return fmt.Errorf("unknown provider %q (known: %v)", id, KnownProviders)
		}
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

// EnabledProviders returns the ids of all enabled providers, in stable order.
func (c *Config) EnabledProviders() []ProviderID {
	out := make([]ProviderID, 0, len(c.Providers))
	for _, id := range KnownProviders {
		if pc, ok := c.Providers[id]; ok && pc != nil && pc.Enabled {
			out = append(out, id)
		}
	}
	return out
}

// LimitsFor resolves the effective limit policies for a provider: the
// configured entry when present, the default table otherwise.
func (c *Config) LimitsFor(id ProviderID) *ProviderLimitsConfig {
	if limits, ok := c.RateLimits.Providers[id]; ok && limits != nil {
		return limits
	}
	return DefaultProviderLimits(id)
}

// providerPattern maps a model-name prefix to its provider.
type providerPattern struct {
	Prefix   string
	Provider ProviderID
}

// providerPatterns infers the provider from a model name. Checked in order;
// first prefix match wins.
//
//nolint:gochecknoglobals // Static inference table
var providerPatterns = []providerPattern{
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"claude", ProviderAnthropic},
	{"gemini", ProviderGemini},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"phi", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// ProviderForModel returns the provider that serves the given model name.
func ProviderForModel(model string) (ProviderID, error) {
	name := strings.ToLower(strings.TrimSpace(model))
	if name == "" {
		return "", fmt.Errorf("model name cannot be empty")
	}
	for _, p := range providerPatterns {
		if strings.HasPrefix(name, p.Prefix) {
			return p.Provider, nil
		}
	}
	return "", fmt.Errorf("cannot determine provider for model %q", model)
}
