package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is the shared-bucket backend selected by TORBO_REDIS_URL:
// several gateway processes fronted by one address share rate-limit state
// through a single Redis instance instead of each keeping an independent
// in-memory bucket. It sits behind the same Limiter interface InMemory
// implements, so the dispatcher never knows which backend is active.
//
// The bucket algorithm here is a fixed-window approximation (INCR + EXPIRE)
// rather than InMemory's true token bucket, because Redis has no built-in
// floating-point accumulator primitive; this trades a small amount of burst
// tolerance at window boundaries for a single round trip per request.
type RedisLimiter struct {
	client            *redis.Client
	requestsPerMinute int
	prefix            string
}

// NewRedisLimiter returns a RedisLimiter using client, capped at
// requestsPerMinute requests per fixed 60-second window per key.
func NewRedisLimiter(client *redis.Client, requestsPerMinute int) *RedisLimiter {
	return &RedisLimiter{client: client, requestsPerMinute: requestsPerMinute, prefix: "torbo:ratelimit:"}
}

// Allow increments the counter for key's current window and compares it
// against the configured capacity.
func (r *RedisLimiter) Allow(key string) (bool, time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	redisKey := fmt.Sprintf("%s%s:%d", r.prefix, key, time.Now().Unix()/60)
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		// Fail open: a Redis outage must not take down the whole gateway.
		return true, 0
	}
	if count == 1 {
		r.client.Expire(ctx, redisKey, 90*time.Second)
	}
	if int(count) > r.requestsPerMinute {
		ttl, err := r.client.TTL(ctx, redisKey).Result()
		if err != nil || ttl <= 0 {
			ttl = time.Second
		}
		return false, time.Duration(math.Ceil(ttl.Seconds())) * time.Second
	}
	return true, 0
}
