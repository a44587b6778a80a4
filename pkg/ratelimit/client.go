package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llmgate/pkg/config"
	"llmgate/pkg/llm"
	"llmgate/pkg/llmerrors"
	"llmgate/pkg/logx"
	"llmgate/pkg/metrics"
)

// CallState labels where a decorated call is in the retry state machine.
type CallState string

const (
	// StateAttempting: consuming limiter budget and delegating.
	StateAttempting CallState = "attempting"
	// StateWaiting: blocked for a rejection's retry-after before re-attempting.
	StateWaiting CallState = "waiting"
	// StateSucceeded: the base client call completed.
	StateSucceeded CallState = "succeeded"
	// StatePermanentlyLimited: retries exhausted, terminal rate-limit error.
	StatePermanentlyLimited CallState = "permanently_limited"
	// StateFailed: non-retried failure (retries disabled, base client error,
	// configuration error, or cancellation).
	StateFailed CallState = "failed"
)

// Outcome summarizes one decorated call for callers that need visibility into
// the retry loop (the diagnostic CLI, tests).
type Outcome struct {
	State          CallState
	RetryAttempts  int
	LastRetryAfter time.Duration
	Waited         time.Duration
}

// RateLimitedClient wraps one base provider client and enforces the requests
// and tokens limiters in front of every call, with an opt-in retry loop on
// rejections. Constructed once per provider at startup; holds no mutable
// state between requests, so it is safe for concurrent use. Limiter state
// lives entirely in the external storage backend.
type RateLimitedClient struct {
	base          llm.Client
	limiters      ExternalRateLimiter
	estimators    *EstimatorRegistry
	enableRetries bool
	maxRetries    int
	clock         Clock
	logger        *logx.Logger
	recorder      metrics.Recorder
}

// ClientOption customizes a RateLimitedClient.
type ClientOption func(*RateLimitedClient)

// WithRetries configures the retry loop. maxRetries counts retries, not
// attempts: a call may run maxRetries+1 consume sequences.
func WithRetries(enabled bool, maxRetries int) ClientOption {
	return func(c *RateLimitedClient) {
		c.enableRetries = enabled
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
	}
}

// WithClientClock overrides the clock used for retry waits (tests).
func WithClientClock(clock Clock) ClientOption {
	return func(c *RateLimitedClient) { c.clock = clock }
}

// WithLogger overrides the decorator's logger.
func WithLogger(logger *logx.Logger) ClientOption {
	return func(c *RateLimitedClient) { c.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) ClientOption {
	return func(c *RateLimitedClient) { c.recorder = r }
}

// NewRateLimitedClient decorates base with rate limiting. Retries default to
// disabled so raw limiter behavior is observable unless explicitly opted in.
func NewRateLimitedClient(base llm.Client, limiters ExternalRateLimiter, estimators *EstimatorRegistry, opts ...ClientOption) *RateLimitedClient {
	c := &RateLimitedClient{
		base:       base,
		limiters:   limiters,
		estimators: estimators,
		maxRetries: 3,
		clock:      RealClock(),
		logger:     logx.NewLogger("ratelimit"),
		recorder:   metrics.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Supports delegates to the base client.
func (c *RateLimitedClient) Supports(model string) bool {
	return c.base.Supports(model)
}

// Provider delegates to the base client.
func (c *RateLimitedClient) Provider() config.ProviderID {
	return c.base.Provider()
}

// Request implements llm.Client.
func (c *RateLimitedClient) Request(ctx context.Context, req llm.Request) (llm.Response, error) {
	resp, _, err := c.RequestWithOutcome(ctx, req)
	return resp, err
}

// RequestWithOutcome runs the full consume/delegate/retry sequence and
// reports the terminal state alongside the result.
//
// The state machine: Attempting consumes budget and delegates; a rejection
// moves to Waiting (retries enabled, budget left) or terminates as Failed
// (retries disabled) / PermanentlyLimited (retries exhausted). Waiting blocks
// the calling goroutine for the rejection's retry-after, then re-enters
// Attempting with the full consume sequence. Base client errors terminate as
// Failed on first occurrence; they are never retried here.
func (c *RateLimitedClient) RequestWithOutcome(ctx context.Context, req llm.Request) (llm.Response, Outcome, error) {
	provider := c.base.Provider()
	callID := uuid.NewString()[:8]
	start := c.clock.Now()
	outcome := Outcome{State: StateAttempting}

	for {
		rejection, err := c.consume(ctx, provider, req, callID)
		if err != nil {
			// Configuration or storage failure: fatal, never retried.
			outcome.State = StateFailed
			c.observe(provider, req.Model, "error", errorLabel(err), start)
			return llm.Response{}, outcome, err
		}

		if rejection == nil {
			resp, err := c.base.Request(ctx, req)
			if err != nil {
				outcome.State = StateFailed
				c.logger.Info("call %s: %s request failed: %v (retries: %d)", callID, provider, err, outcome.RetryAttempts)
				c.observe(provider, req.Model, "error", "provider", start)
				return llm.Response{}, outcome, err
			}
			outcome.State = StateSucceeded
			c.logger.Debug("call %s: %s request succeeded (retries: %d, waited: %s)",
				callID, provider, outcome.RetryAttempts, outcome.Waited)
			c.observe(provider, req.Model, "success", "", start)
			return resp, outcome, nil
		}

		outcome.LastRetryAfter = rejection.RetryAfter

		if !c.enableRetries {
			outcome.State = StateFailed
			c.logger.Info("call %s: %s %s rejected, retries disabled (retry after %s)",
				callID, provider, rejection.LimitType, rejection.RetryAfter)
			c.observe(provider, req.Model, "rate_limited", string(rejection.LimitType), start)
			return llm.Response{}, outcome, rejection
		}

		if outcome.RetryAttempts >= c.maxRetries {
			outcome.State = StatePermanentlyLimited
			c.logger.Warn("call %s: %s permanently limited after %d retries (last retry after %s)",
				callID, provider, outcome.RetryAttempts, rejection.RetryAfter)
			c.observe(provider, req.Model, "rate_limited", string(rejection.LimitType), start)
			return llm.Response{}, outcome, rejection
		}

		outcome.State = StateWaiting
		c.logger.Info("call %s: %s %s rejected, waiting %s before retry %d/%d",
			callID, provider, rejection.LimitType, rejection.RetryAfter, outcome.RetryAttempts+1, c.maxRetries)
		c.recorder.ObserveQueueWait(string(provider), rejection.RetryAfter)

		select {
		case <-ctx.Done():
			outcome.State = StateFailed
			return llm.Response{}, outcome, fmt.Errorf("retry wait cancelled: %w", ctx.Err())
		case <-c.clock.After(rejection.RetryAfter):
		}

		outcome.RetryAttempts++
		outcome.Waited += rejection.RetryAfter
		outcome.State = StateAttempting
	}
}

// consume runs the two-dimension consume sequence: one unit from the requests
// limiter, then the estimated token cost from the tokens limiter. It returns
// a non-nil *llmerrors.RateLimitError on rejection, or a fatal error for
// configuration/storage failures.
//
// A token-limiter rejection does not refund the request unit already
// consumed: the two consumes are sequential and independent, so a rejected
// call still spends one request-bucket unit. This asymmetry is externally
// observable quota behavior and is pinned by tests; do not "fix" it.
func (c *RateLimitedClient) consume(ctx context.Context, provider config.ProviderID, req llm.Request, callID string) (*llmerrors.RateLimitError, error) {
	if c.limiters.HasRateLimiter(provider, config.LimitRequests) {
		rejection, err := c.consumeDimension(ctx, provider, config.LimitRequests, req.Model, 1)
		if err != nil {
			return nil, err
		}
		if rejection != nil {
			c.logger.Debug("call %s: request limiter rejected (retry after %s)", callID, rejection.RetryAfter)
			c.recorder.IncThrottle(string(provider), string(config.LimitRequests), "rejected")
			return rejection, nil
		}
	}

	if c.limiters.HasRateLimiter(provider, config.LimitTokens) {
		estimated := int64(c.estimators.ForModel(req.Model).Estimate(req))
		rejection, err := c.consumeDimension(ctx, provider, config.LimitTokens, req.Model, estimated)
		if err != nil {
			return nil, err
		}
		if rejection != nil {
			c.logger.Debug("call %s: token limiter rejected %d tokens (retry after %s)",
				callID, estimated, rejection.RetryAfter)
			c.recorder.IncThrottle(string(provider), string(config.LimitTokens), "rejected")
			return rejection, nil
		}
	}

	return nil, nil
}

func (c *RateLimitedClient) consumeDimension(ctx context.Context, provider config.ProviderID, limitType config.LimitType, model string, amount int64) (*llmerrors.RateLimitError, error) {
	factory, err := c.limiters.RateLimiter(provider, limitType, model)
	if err != nil {
		return nil, err
	}

	key := c.limiters.RateLimiterKey(provider, limitType, model)
	res, err := factory.Create(key).Consume(ctx, amount)
	if err != nil {
		return nil, err
	}
	if res.Accepted {
		return nil, nil
	}
	return llmerrors.NewRateLimitError(provider, limitType, res.RetryAfter), nil
}

func (c *RateLimitedClient) observe(provider config.ProviderID, model, status, errorType string, start time.Time) {
	c.recorder.ObserveRequest(string(provider), model, status, errorType, c.clock.Now().Sub(start))
}

func errorLabel(err error) string {
	if llmerrors.IsNotConfigured(err) {
		return "not_configured"
	}
	return "storage"
}

// Middleware adapts the decorator to the llm.Middleware composition style.
func Middleware(limiters ExternalRateLimiter, estimators *EstimatorRegistry, opts ...ClientOption) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return NewRateLimitedClient(next, limiters, estimators, opts...)
	}
}
