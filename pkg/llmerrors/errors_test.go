package llmerrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/pkg/config"
)

func TestNewRateLimitErrorReasons(t *testing.T) {
	reqErr := NewRateLimitError(config.ProviderOpenAI, config.LimitRequests, 30*time.Second)
	assert.Equal(t, ReasonRequests, reqErr.Reason)
	assert.Contains(t, reqErr.Error(), "Request rate limit exceeded")
	assert.Contains(t, reqErr.Error(), "provider=openai")

	tokErr := NewRateLimitError(config.ProviderAnthropic, config.LimitTokens, time.Second)
	assert.Equal(t, ReasonTokens, tokErr.Reason)
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		retryAfter time.Duration
		expected   int
	}{
		{0, 0},
		{-5 * time.Second, 0},
		{500 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{61 * time.Second, 61},
	}
	for _, tt := range tests {
		e := &RateLimitError{RetryAfter: tt.retryAfter}
		assert.Equal(t, tt.expected, e.RetryAfterSeconds(), "retryAfter=%s", tt.retryAfter)
	}
}

func TestNegativeRetryAfterClamped(t *testing.T) {
	e := NewRateLimitError(config.ProviderOpenAI, config.LimitRequests, -time.Second)
	assert.Equal(t, time.Duration(0), e.RetryAfter)
}

func TestErrorClassificationThroughWrapping(t *testing.T) {
	rle := NewRateLimitError(config.ProviderGemini, config.LimitTokens, time.Second)
	wrapped := fmt.Errorf("call failed: %w", rle)

	assert.True(t, IsRateLimit(wrapped))
	got, ok := AsRateLimit(wrapped)
	require.True(t, ok)
	assert.Equal(t, config.ProviderGemini, got.Provider)

	nce := &NotConfiguredError{Provider: config.ProviderOpenAI, LimitType: config.LimitRequests}
	assert.True(t, IsNotConfigured(fmt.Errorf("setup: %w", nce)))

	// The two classes never overlap.
	assert.False(t, IsRateLimit(nce))
	assert.False(t, IsNotConfigured(rle))
	assert.False(t, IsRateLimit(errors.New("plain")))
}
