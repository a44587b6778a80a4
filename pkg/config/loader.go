package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, env-expands, and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML config bytes. `${VAR}` references are
// expanded from the environment before decoding.
func Parse(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns a config with every provider disabled and rate limiting on.
func Default() *Config {
	cfg := &Config{
		Providers: map[ProviderID]*ProviderConfig{},
		RateLimits: RateLimitsConfig{
			Enabled:       true,
			EnableRetries: true,
			MaxRetries:    3,
		},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = map[ProviderID]*ProviderConfig{}
	}
	if cfg.RateLimits.Providers == nil {
		cfg.RateLimits.Providers = map[ProviderID]*ProviderLimitsConfig{}
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	for id, pc := range cfg.Providers {
		if pc == nil {
			continue
		}
		if pc.APIKeyEnv == "" && pc.APIKey == "" && pc.APIKeyEncrypted == "" {
			pc.APIKeyEnv = defaultKeyEnv(id)
		}
		if id == ProviderOllama && pc.Host == "" {
			pc.Host = "http://localhost:11434"
		}
	}
}

func defaultKeyEnv(id ProviderID) string {
	switch id {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// ResolveAPIKey returns the credential for a provider, following the
// precedence documented on ProviderConfig. Ollama needs no key and returns "".
func (c *Config) ResolveAPIKey(id ProviderID) (string, error) {
	pc, ok := c.Providers[id]
	if !ok || pc == nil {
		return "", fmt.Errorf("provider %s not configured", id)
	}
	if pc.APIKey != "" {
		return pc.APIKey, nil
	}
	if pc.APIKeyEncrypted != "" {
		key, err := DecryptSecret(pc.APIKeyEncrypted)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt api key for %s: %w", id, err)
		}
		return key, nil
	}
	if pc.APIKeyEnv != "" {
		if v := os.Getenv(pc.APIKeyEnv); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("provider %s: environment variable %s is not set", id, pc.APIKeyEnv)
	}
	if id == ProviderOllama {
		return "", nil
	}
	return "", fmt.Errorf("provider %s has no credential configured", id)
}
