package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Result is the outcome of one consume attempt.
type Result struct {
	Accepted   bool
	RetryAfter time.Duration
	Remaining  int64
}

// Reservation reports how long a caller would have to wait before a consume
// of the probed amount could succeed. WaitDuration zero means it would be
// accepted now.
type Reservation struct {
	WaitDuration time.Duration
}

// Factory produces limiters sharing one policy, storage backend, and lock
// coordinator. One factory exists per (provider, limit type) pair; each
// distinct key passed to Create gets independent bucket state.
type Factory struct {
	policy Policy
	store  Store
	locker Locker
	clock  Clock
}

// FactoryOption customizes a Factory.
type FactoryOption func(*Factory)

// WithStore selects the storage backend (default: in-memory).
func WithStore(s Store) FactoryOption {
	return func(f *Factory) { f.store = s }
}

// WithLocker selects the lock coordinator (default: in-process keyed mutex).
func WithLocker(l Locker) FactoryOption {
	return func(f *Factory) { f.locker = l }
}

// WithClock overrides the clock (tests).
func WithClock(c Clock) FactoryOption {
	return func(f *Factory) { f.clock = c }
}

// NewFactory creates a limiter factory for the given policy.
func NewFactory(policy Policy, opts ...FactoryOption) (*Factory, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	f := &Factory{
		policy: policy,
		store:  NewMemoryStore(),
		locker: NewKeyedMutex(),
		clock:  RealClock(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Policy returns the factory's policy.
func (f *Factory) Policy() Policy { return f.policy }

// Create returns the limiter tracking consumption under the given key.
// Limiters are cheap handles: all state lives in the store.
func (f *Factory) Create(key string) *Limiter {
	return &Limiter{factory: f, key: key}
}

// Limiter is a keyed view onto a factory's shared state.
type Limiter struct {
	factory *Factory
	key     string
}

// Key returns the storage key this limiter consumes under.
func (l *Limiter) Key() string { return l.key }

// Consume atomically attempts to deduct amount units from the bucket. The
// fetch/compute/save cycle runs under the factory's lock, so two concurrent
// consumers of the same key never both succeed on the last unit of budget.
func (l *Limiter) Consume(ctx context.Context, amount int64) (Result, error) {
	f := l.factory

	release, err := f.locker.Lock(ctx, l.key)
	if err != nil {
		return Result{}, fmt.Errorf("limiter lock failed for %s: %w", l.key, err)
	}
	defer release()

	st, _, err := f.store.Fetch(ctx, l.key)
	if err != nil {
		return Result{}, err
	}

	res := f.apply(&st, f.clock.Now(), amount, true)

	// Window rollover and refill mutate state even on rejection; persist
	// unconditionally so shared stores stay coherent.
	if err := f.store.Save(ctx, l.key, st, f.stateTTL()); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Reserve reports the wait before amount units could be consumed, without
// mutating any state.
func (l *Limiter) Reserve(ctx context.Context, amount int64) (Reservation, error) {
	f := l.factory

	st, _, err := f.store.Fetch(ctx, l.key)
	if err != nil {
		return Reservation{}, err
	}

	res := f.apply(&st, f.clock.Now(), amount, false)
	if res.Accepted {
		return Reservation{}, nil
	}
	return Reservation{WaitDuration: res.RetryAfter}, nil
}

// stateTTL bounds state lifetime in expiring stores. Two intervals is enough
// for every policy to fully recover, so expired state equals a full bucket.
func (f *Factory) stateTTL() time.Duration {
	return 2 * f.policy.Interval
}

// apply runs the policy math against st at time now. When deduct is false the
// computation is speculative and st is left semantically unchanged (rollover
// bookkeeping aside).
func (f *Factory) apply(st *State, now time.Time, amount int64, deduct bool) Result {
	switch f.policy.Kind {
	case KindTokenBucket:
		return f.applyTokenBucket(st, now, amount, deduct)
	case KindFixedWindow:
		return f.applyFixedWindow(st, now, amount, deduct)
	case KindSlidingWindow:
		return f.applySlidingWindow(st, now, amount, deduct)
	default:
		// Unreachable: policy validated at construction.
		return Result{}
	}
}

func (f *Factory) applyTokenBucket(st *State, now time.Time, amount int64, deduct bool) Result {
	p := f.policy
	rate := p.refillPerSecond()

	if st.RefilledAt == 0 {
		// First sighting of this key: full bucket.
		st.Level = float64(p.Limit)
	} else {
		elapsed := now.Sub(time.Unix(0, st.RefilledAt)).Seconds()
		if elapsed > 0 {
			st.Level = math.Min(float64(p.Limit), st.Level+elapsed*rate)
		}
	}
	st.RefilledAt = now.UnixNano()

	if st.Level >= float64(amount) {
		if deduct {
			st.Level -= float64(amount)
		}
		return Result{Accepted: true, Remaining: int64(st.Level)}
	}

	deficit := float64(amount) - st.Level
	wait := time.Duration(deficit / rate * float64(time.Second))
	return Result{RetryAfter: wait, Remaining: int64(st.Level)}
}

func (f *Factory) applyFixedWindow(st *State, now time.Time, amount int64, deduct bool) Result {
	p := f.policy
	windowStart := now.Truncate(p.Interval)

	if st.WindowStart != windowStart.UnixNano() {
		st.WindowStart = windowStart.UnixNano()
		st.Used = 0
	}

	if st.Used+amount <= p.Limit {
		if deduct {
			st.Used += amount
		}
		return Result{Accepted: true, Remaining: p.Limit - st.Used}
	}

	wait := windowStart.Add(p.Interval).Sub(now)
	return Result{RetryAfter: wait, Remaining: p.Limit - st.Used}
}

func (f *Factory) applySlidingWindow(st *State, now time.Time, amount int64, deduct bool) Result {
	p := f.policy
	windowStart := now.Truncate(p.Interval)

	if st.WindowStart != windowStart.UnixNano() {
		if st.WindowStart == windowStart.Add(-p.Interval).UnixNano() {
			// Adjacent window: current usage slides into the previous slot.
			st.PrevUsed = st.Used
		} else {
			st.PrevUsed = 0
		}
		st.WindowStart = windowStart.UnixNano()
		st.Used = 0
	}

	frac := float64(now.Sub(windowStart)) / float64(p.Interval)
	weighted := float64(st.PrevUsed)*(1-frac) + float64(st.Used)

	if weighted+float64(amount) <= float64(p.Limit) {
		if deduct {
			st.Used += amount
		}
		return Result{Accepted: true, Remaining: p.Limit - int64(weighted) - amount}
	}

	overshoot := weighted + float64(amount) - float64(p.Limit)
	var wait time.Duration
	if st.PrevUsed > 0 {
		// The weighted count decays at PrevUsed units per interval.
		wait = time.Duration(overshoot / float64(st.PrevUsed) * float64(p.Interval))
		if remaining := windowStart.Add(p.Interval).Sub(now); wait > remaining {
			wait = remaining
		}
	} else {
		wait = windowStart.Add(p.Interval).Sub(now)
	}
	return Result{RetryAfter: wait, Remaining: p.Limit - int64(weighted)}
}
