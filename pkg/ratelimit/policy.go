// Package ratelimit implements policy-driven request and token quotas for LLM
// providers: limiter factories over pluggable storage, the registry that
// resolves limiters by (provider, limit type, model), token estimation, and
// the rate-limited client decorator with its retry loop.
package ratelimit

import (
	"fmt"
	"time"

	"llmgate/pkg/config"
)

// Kind selects the limiter algorithm.
type Kind string

const (
	// KindTokenBucket allows bursts up to the limit and refills continuously.
	// Recommended default: tolerates bursty AI traffic.
	KindTokenBucket Kind = config.PolicyTokenBucket
	// KindFixedWindow resets the full limit at wall-clock interval boundaries.
	KindFixedWindow Kind = config.PolicyFixedWindow
	// KindSlidingWindow smooths consumption across two overlapping windows.
	KindSlidingWindow Kind = config.PolicySlidingWindow
)

// Policy is the value object describing one limiter: up to Limit units held,
// refilling Amount units per Interval.
type Policy struct {
	Kind     Kind
	Limit    int64
	Interval time.Duration
	Amount   int64
}

// NewPolicy validates and builds a Policy.
func NewPolicy(kind Kind, limit int64, interval time.Duration, amount int64) (Policy, error) {
	p := Policy{Kind: kind, Limit: limit, Interval: interval, Amount: amount}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// PolicyFromConfig converts a validated config descriptor.
func PolicyFromConfig(c *config.LimitPolicyConfig) (Policy, error) {
	if c == nil {
		return Policy{}, fmt.Errorf("nil limit policy config")
	}
	return NewPolicy(Kind(c.Policy), c.Limit, c.Rate.Interval, c.Rate.Amount)
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	switch p.Kind {
	case KindTokenBucket, KindFixedWindow, KindSlidingWindow:
	default:
		return fmt.Errorf("unknown policy kind %q", p.Kind)
	}
	if p.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", p.Limit)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("refill amount must be positive, got %d", p.Amount)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("refill interval must be positive, got %v", p.Interval)
	}
	return nil
}

// refillPerSecond is the continuous refill rate of a token bucket.
func (p Policy) refillPerSecond() float64 {
	return float64(p.Amount) / p.Interval.Seconds()
}
