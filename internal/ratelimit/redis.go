package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	identityKeyPrefix = "keyserver:limit:identity:"
	originKeyPrefix   = "keyserver:limit:origin:"
)

// RedisLimiter shares counters across processes through Redis. Same
// semantics as MemoryLimiter: SET NX with expiry implements the identity
// cooldown, INCR with expiry implements the origin window.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter verifies connectivity and returns a Redis-backed limiter
func NewRedisLimiter(client *redis.Client) (*RedisLimiter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisLimiter{client: client}, nil
}

// AdmitIdentity allows one admission per identity per window
func (r *RedisLimiter) AdmitIdentity(ctx context.Context, identity string, window time.Duration) (Decision, error) {
	key := identityKeyPrefix + identity

	set, err := r.client.SetNX(ctx, key, 1, window).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("identity admission failed: %w", err)
	}
	if set {
		return Decision{Allowed: true}, nil
	}

	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return Decision{RetryAfter: ttl}, nil
}

// AdmitOrigin counts requests per origin in a fixed window
func (r *RedisLimiter) AdmitOrigin(ctx context.Context, origin string, window time.Duration, maxPerWindow int) (Decision, error) {
	key := originKeyPrefix + origin

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("origin admission failed: %w", err)
	}
	if count == 1 {
		// first request anchors the window
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("origin window expiry failed: %w", err)
		}
	}

	if count > int64(maxPerWindow) {
		ttl, err := r.client.PTTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = window
		}
		return Decision{RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true}, nil
}
