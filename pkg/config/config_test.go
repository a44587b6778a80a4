package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderForModel(t *testing.T) {
	tests := []struct {
		model    string
		expected ProviderID
	}{
		{"gpt-4o", ProviderOpenAI},
		{"gpt-4o-mini", ProviderOpenAI},
		{"o1-preview", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"claude-sonnet-4-0", ProviderAnthropic},
		{"Claude-Opus-4", ProviderAnthropic},
		{"gemini-2.0-flash", ProviderGemini},
		{"llama3.2", ProviderOllama},
		{"qwen2.5-coder", ProviderOllama},
		{"mistral-small", ProviderOllama},
		{"deepseek-r1", ProviderOllama},
		{"ollama:custom-model", ProviderOllama},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, err := ProviderForModel(tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestProviderForModelRejectsUnknown(t *testing.T) {
	_, err := ProviderForModel("davinci-002")
	assert.Error(t, err)

	_, err = ProviderForModel("")
	assert.Error(t, err)

	_, err = ProviderForModel("   ")
	assert.Error(t, err)
}

func TestDefaultProviderLimitsTable(t *testing.T) {
	openai := DefaultProviderLimits(ProviderOpenAI)
	require.NotNil(t, openai.Requests)
	require.NotNil(t, openai.Tokens)
	assert.Equal(t, int64(180), openai.Requests.Limit)
	assert.Equal(t, int64(450000), openai.Tokens.Limit)
	assert.Equal(t, PolicyTokenBucket, openai.Requests.Policy)
	assert.Equal(t, time.Minute, openai.Requests.Rate.Interval)
	assert.Equal(t, openai.Requests.Limit, openai.Requests.Rate.Amount, "defaults refill the full quota each interval")

	anthropic := DefaultProviderLimits(ProviderAnthropic)
	assert.Equal(t, int64(100), anthropic.Requests.Limit)
	assert.Equal(t, int64(100000), anthropic.Tokens.Limit)

	gemini := DefaultProviderLimits(ProviderGemini)
	assert.Equal(t, int64(1000), gemini.Requests.Limit)
	assert.Equal(t, int64(1000000), gemini.Tokens.Limit)

	// Providers outside the table fall back to the conservative quota.
	ollama := DefaultProviderLimits(ProviderOllama)
	assert.Equal(t, int64(60), ollama.Requests.Limit)
	assert.Equal(t, int64(60000), ollama.Tokens.Limit)
}

func TestLimitPolicyConfigValidate(t *testing.T) {
	valid := &LimitPolicyConfig{
		Policy: PolicyFixedWindow,
		Limit:  10,
		Rate:   RateConfig{Interval: time.Minute, Amount: 10},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*LimitPolicyConfig)
	}{
		{"empty policy", func(c *LimitPolicyConfig) { c.Policy = "" }},
		{"unknown policy", func(c *LimitPolicyConfig) { c.Policy = "leaky_bucket" }},
		{"zero limit", func(c *LimitPolicyConfig) { c.Limit = 0 }},
		{"negative limit", func(c *LimitPolicyConfig) { c.Limit = -5 }},
		{"zero rate amount", func(c *LimitPolicyConfig) { c.Rate.Amount = 0 }},
		{"zero rate interval", func(c *LimitPolicyConfig) { c.Rate.Interval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestConfigValidateRejectsUnknownProvider(t *testing.T) {
	cfg := &Config{
		Providers: map[ProviderID]*ProviderConfig{
			"cohere": {Enabled: true},
		},
	}
	assert.Error(t, cfg.Validate())

	cfg = &Config{
		RateLimits: RateLimitsConfig{
			Providers: map[ProviderID]*ProviderLimitsConfig{
				"cohere": nil,
			},
		},
	}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsNegativeMaxRetries(t *testing.T) {
	cfg := &Config{RateLimits: RateLimitsConfig{MaxRetries: -1}}
	assert.Error(t, cfg.Validate())
}

func TestStorageConfigValidate(t *testing.T) {
	var sc StorageConfig
	require.NoError(t, sc.Validate(), "empty backend defaults to memory")

	sc.Backend = "sqlite"
	assert.Error(t, sc.Validate(), "sqlite needs a path")
	sc.SQLite.Path = "/tmp/limits.db"
	assert.NoError(t, sc.Validate())

	sc = StorageConfig{Backend: "redis"}
	assert.Error(t, sc.Validate(), "redis needs an addr")
	sc.Redis.Addr = "localhost:6379"
	assert.NoError(t, sc.Validate())

	sc = StorageConfig{Backend: "etcd"}
	assert.Error(t, sc.Validate())
}

func TestEnabledProvidersStableOrder(t *testing.T) {
	cfg := &Config{
		Providers: map[ProviderID]*ProviderConfig{
			ProviderOllama:    {Enabled: true},
			ProviderOpenAI:    {Enabled: true},
			ProviderAnthropic: {Enabled: false},
			ProviderGemini:    nil,
		},
	}
	assert.Equal(t, []ProviderID{ProviderOpenAI, ProviderOllama}, cfg.EnabledProviders())
}

func TestLimitsForFallsBackToDefaults(t *testing.T) {
	custom := &ProviderLimitsConfig{
		Requests: &LimitPolicyConfig{
			Policy: PolicySlidingWindow,
			Limit:  42,
			Rate:   RateConfig{Interval: time.Minute, Amount: 42},
		},
	}
	cfg := &Config{
		RateLimits: RateLimitsConfig{
			Providers: map[ProviderID]*ProviderLimitsConfig{ProviderOpenAI: custom},
		},
	}

	assert.Same(t, custom, cfg.LimitsFor(ProviderOpenAI))
	assert.Equal(t, DefaultProviderLimits(ProviderAnthropic), cfg.LimitsFor(ProviderAnthropic))
}
