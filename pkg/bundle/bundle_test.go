package bundle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/pkg/config"
	"llmgate/pkg/llm"
	"llmgate/pkg/llmerrors"
	"llmgate/pkg/llmimpl"
	"llmgate/pkg/metrics"
	"llmgate/pkg/ratelimit"
)

// stubClock controls time for limiter math. After fires immediately and, when
// autoAdvance is set, moves the clock by the waited duration first.
type stubClock struct {
	mu          sync.Mutex
	now         time.Time
	autoAdvance bool
}

func newStubClock(autoAdvance bool) *stubClock {
	return &stubClock{
		now:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		autoAdvance: autoAdvance,
	}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	if c.autoAdvance {
		c.now = c.now.Add(d)
	}
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func TestSelectRecorderFollowsMetricsConfig(t *testing.T) {
	cfg := config.Default()
	assert.IsType(t, &metrics.NoopRecorder{}, selectRecorder(&builder{}, cfg),
		"metrics disabled defaults to the no-op recorder")

	// An explicit WithRecorder wins over the config switch.
	cfg.Metrics.Enabled = true
	custom := metrics.Nop()
	assert.Same(t, custom, selectRecorder(&builder{recorder: custom}, cfg))

	// promauto registers against the default registry; construct once.
	assert.IsType(t, &metrics.PrometheusRecorder{}, selectRecorder(&builder{}, cfg))
}

func TestBuildFailsWithoutProviders(t *testing.T) {
	_, err := Build(context.Background(), config.Default())
	assert.Error(t, err)
}

func TestBuildFailsOnUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "etcd"

	_, err := Build(context.Background(), cfg,
		WithBaseClient(config.ProviderOpenAI, llmimpl.NewMock(config.ProviderOpenAI)))
	assert.Error(t, err)
}

func TestBuildWiresLimitersFromDefaults(t *testing.T) {
	mock := llmimpl.NewMock(config.ProviderOpenAI)
	b, err := Build(context.Background(), config.Default(),
		WithBaseClient(config.ProviderOpenAI, mock))
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	assert.Equal(t, []config.ProviderID{config.ProviderOpenAI}, b.Providers())

	reg := b.Registry()
	assert.True(t, reg.HasRateLimiter(config.ProviderOpenAI, config.LimitRequests))
	assert.True(t, reg.HasRateLimiter(config.ProviderOpenAI, config.LimitTokens))
	assert.False(t, reg.HasRateLimiter(config.ProviderAnthropic, config.LimitRequests))

	_, ok := b.Client(config.ProviderOpenAI)
	assert.True(t, ok)
	_, ok = b.Client(config.ProviderAnthropic)
	assert.False(t, ok)
}

func TestBundleEnforcesLimitWithoutRetries(t *testing.T) {
	mock := llmimpl.NewMock(config.ProviderOpenAI)
	b, err := Build(context.Background(), config.Default(),
		WithBaseClient(config.ProviderOpenAI, mock),
		WithLimitOverride(config.ProviderOpenAI, config.LimitRequests, 2),
		WithRetriesDisabled(),
		WithClock(newStubClock(false)),
	)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		reply, err := b.Ask(ctx, "gpt-4o-mini", "ping")
		require.NoError(t, err)
		assert.Equal(t, "mock response", reply)
	}

	_, err = b.Ask(ctx, "gpt-4o-mini", "ping")
	require.Error(t, err)
	rle, ok := llmerrors.AsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, config.LimitRequests, rle.LimitType)
	assert.Positive(t, rle.RetryAfter)
	assert.Equal(t, 2, mock.Calls())
}

func TestBundleRetriesThroughRefill(t *testing.T) {
	mock := llmimpl.NewMock(config.ProviderOpenAI)
	b, err := Build(context.Background(), config.Default(),
		WithBaseClient(config.ProviderOpenAI, mock),
		WithLimitOverride(config.ProviderOpenAI, config.LimitRequests, 1),
		WithClock(newStubClock(true)),
	)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	client, ok := b.RateLimitedClient(config.ProviderOpenAI)
	require.True(t, ok)

	ctx := context.Background()
	req := llm.NewRequest("gpt-4o", []llm.Message{llm.NewUserMessage("ping")})

	_, outcome, err := client.RequestWithOutcome(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, outcome.RetryAttempts)

	// The second call exhausts the bucket, waits out the refill on the stub
	// clock, and succeeds on retry.
	_, outcome, err = client.RequestWithOutcome(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ratelimit.StateSucceeded, outcome.State)
	assert.Equal(t, 1, outcome.RetryAttempts)
	assert.Equal(t, 2, mock.Calls())
}

func TestAskRejectsUnroutableModels(t *testing.T) {
	b, err := Build(context.Background(), config.Default(),
		WithBaseClient(config.ProviderOpenAI, llmimpl.NewMock(config.ProviderOpenAI)))
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	_, err = b.Ask(ctx, "davinci-002", "hello")
	assert.Error(t, err, "model with no provider mapping")

	_, err = b.Ask(ctx, "claude-sonnet-4-0", "hello")
	assert.Error(t, err, "provider not enabled in this bundle")
}

func TestBundleDisabledRateLimitingPassesThrough(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimits.Enabled = false

	mock := llmimpl.NewMock(config.ProviderOpenAI)
	b, err := Build(context.Background(), cfg,
		WithBaseClient(config.ProviderOpenAI, mock),
		WithLimitOverride(config.ProviderOpenAI, config.LimitRequests, 1),
	)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := b.Ask(ctx, "gpt-4o", "ping")
		require.NoError(t, err)
	}
	assert.Equal(t, 5, mock.Calls(), "no limiters registered, every call goes through")
}
