package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps limiter state in Redis so multiple application instances
// share one budget per key.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a store over an existing Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "llmgate:limiter:"}
}

// Fetch implements Store.
func (s *RedisStore) Fetch(ctx context.Context, key string) (State, bool, error) {
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to fetch limiter state for %s: %w", key, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		// Corrupt state: treat as absent so the limiter re-initializes.
		return State{}, false, nil
	}
	return st, true, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, key string, st State, ttl time.Duration) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode limiter state for %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save limiter state for %s: %w", key, err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

// RedisLocker coordinates check-and-deduct across processes with a SET NX PX
// lease. Release is token-checked so an expired holder cannot free a lock
// re-acquired by someone else.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	lease  time.Duration
	retry  time.Duration
}

// releaseScript deletes the lock only if the caller still holds it.
//
//nolint:gochecknoglobals // Compiled once, shared across lockers
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// NewRedisLocker creates a distributed locker over an existing Redis client.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{
		rdb:    rdb,
		prefix: "llmgate:lock:",
		lease:  5 * time.Second,
		retry:  10 * time.Millisecond,
	}
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, l.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock for %s: %w", key, err)
		}
		if ok {
			release := func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.rdb, []string{lockKey}, token).Err()
			}
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err() //nolint:wrapcheck // Context error propagated as-is
		case <-time.After(l.retry):
		}
	}
}
