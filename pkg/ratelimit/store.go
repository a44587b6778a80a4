package ratelimit

import (
	"context"
	"sync"
	"time"
)

// State is the persisted consumption record for one limiter key. Only the
// fields relevant to the active policy are used: Level/RefilledAt for token
// buckets, WindowStart/Used/PrevUsed for windowed policies.
type State struct {
	Level       float64 `json:"level"`
	RefilledAt  int64   `json:"refilled_at"` // unix nanos of last refill
	WindowStart int64   `json:"window_start"`
	Used        int64   `json:"used"`
	PrevUsed    int64   `json:"prev_used"`
}

// Store persists limiter state by key. Implementations do not need to be
// atomic on their own: every fetch/compute/save cycle runs under the
// factory's Locker.
type Store interface {
	// Fetch returns the state for key and whether it existed.
	Fetch(ctx context.Context, key string) (State, bool, error)

	// Save writes the state for key. Implementations with expiry apply ttl;
	// others may ignore it.
	Save(ctx context.Context, key string, st State, ttl time.Duration) error

	// Close releases backend handles.
	Close() error
}

// MemoryStore is the process-local backend: volatile, lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Fetch implements Store.
func (s *MemoryStore) Fetch(_ context.Context, key string) (State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	return st, ok, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, key string, st State, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = st
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Locker serializes check-and-deduct cycles for a key. For shared stores the
// locker must coordinate across processes; otherwise two concurrent consumers
// of the same key could both succeed on the last unit of budget.
type Locker interface {
	// Lock blocks until the key lock is held or ctx is done, and returns the
	// release function.
	Lock(ctx context.Context, key string) (func(), error)
}

// KeyedMutex is the in-process lock coordinator: one mutex per key.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock implements Locker.
func (k *KeyedMutex) Lock(_ context.Context, key string) (func(), error) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}
