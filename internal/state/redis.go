package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	loginSetKey   = "auditwatch:logins"
	failurePrefix = "auditwatch:failures:"
)

// RedisLoginHistory stores the login set in a Redis set; SADD makes the
// first-login check atomic across processes.
type RedisLoginHistory struct {
	client redis.UniversalClient
}

func NewRedisLoginHistory(client redis.UniversalClient) *RedisLoginHistory {
	return &RedisLoginHistory{client: client}
}

func (h *RedisLoginHistory) HasLoggedInBefore(ctx context.Context, username string) (bool, error) {
	ok, err := h.client.SIsMember(ctx, loginSetKey, normalizeUsername(username)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check login history: %w", err)
	}
	return ok, nil
}

func (h *RedisLoginHistory) RecordLogin(ctx context.Context, username string) error {
	if err := h.client.SAdd(ctx, loginSetKey, normalizeUsername(username)).Err(); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

func (h *RedisLoginHistory) RecordFirstLogin(ctx context.Context, username string) (bool, error) {
	added, err := h.client.SAdd(ctx, loginSetKey, normalizeUsername(username)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record login: %w", err)
	}
	return added == 1, nil
}

// RedisFailureCounters uses INCR for lossless concurrent increments. INCR and
// EXPIRE NX run in one MULTI so a counter never outlives its window.
type RedisFailureCounters struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisFailureCounters(client redis.UniversalClient, ttl time.Duration) *RedisFailureCounters {
	return &RedisFailureCounters{client: client, ttl: ttl}
}

func (c *RedisFailureCounters) Increment(ctx context.Context, kind FailureKind, key string) (int64, error) {
	k := failurePrefix + counterKey(kind, key)

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, c.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment failure counter: %w", err)
	}
	return incr.Val(), nil
}

func (c *RedisFailureCounters) Get(ctx context.Context, kind FailureKind, key string) (int64, error) {
	n, err := c.client.Get(ctx, failurePrefix+counterKey(kind, key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read failure counter: %w", err)
	}
	return n, nil
}

func (c *RedisFailureCounters) Reset(ctx context.Context, kind FailureKind, key string) error {
	if err := c.client.Del(ctx, failurePrefix+counterKey(kind, key)).Err(); err != nil {
		return fmt.Errorf("failed to reset failure counter: %w", err)
	}
	return nil
}

// NewRedis returns Redis-backed state shared by every instance using the same server.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *EngineState {
	if ttl <= 0 {
		ttl = DefaultCounterTTL
	}
	return &EngineState{
		Logins:     NewRedisLoginHistory(client),
		Failures:   NewRedisFailureCounters(client, ttl),
		CounterTTL: ttl,
	}
}
