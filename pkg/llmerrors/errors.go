// Package llmerrors provides the error taxonomy for rate-limited LLM calls.
package llmerrors

import (
	"errors"
	"fmt"
	"math"
	"time"

	"llmgate/pkg/config"
)

// Rejection reasons, one per limit dimension.
const (
	ReasonRequests = "Request rate limit exceeded"
	ReasonTokens   = "Token rate limit exceeded"
)

// RateLimitError signals a limiter rejection. It is recoverable: callers (or
// the decorator's retry loop) may wait RetryAfter and try again.
type RateLimitError struct {
	Provider   config.ProviderID
	LimitType  config.LimitType
	RetryAfter time.Duration
	Reason     string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s (provider=%s, retry after %s)", e.Reason, e.Provider, e.RetryAfter)
}

// RetryAfterSeconds reports the wait in whole seconds, rounded up, never negative.
func (e *RateLimitError) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// NewRateLimitError builds a rejection for the given limit dimension.
func NewRateLimitError(provider config.ProviderID, limitType config.LimitType, retryAfter time.Duration) *RateLimitError {
	reason := ReasonRequests
	if limitType == config.LimitTokens {
		reason = ReasonTokens
	}
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &RateLimitError{
		Provider:   provider,
		LimitType:  limitType,
		RetryAfter: retryAfter,
		Reason:     reason,
	}
}

// NotConfiguredError signals that no limiter factory was registered for a
// (provider, limit type) the decorator expected to exist. This is a setup
// bug, fatal to the calling request, and never retried.
type NotConfiguredError struct {
	Provider  config.ProviderID
	LimitType config.LimitType
}

// Error implements the error interface.
func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("no rate limiter configured for provider %s, type %s", e.Provider, e.LimitType)
}

// IsRateLimit reports whether err is (or wraps) a limiter rejection.
func IsRateLimit(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// AsRateLimit extracts a RateLimitError from err, if present.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// IsNotConfigured reports whether err is (or wraps) a limiter configuration error.
func IsNotConfigured(err error) bool {
	var nce *NotConfiguredError
	return errors.As(err, &nce)
}
