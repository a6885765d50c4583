// Package ratelimit implements the per-IP token bucket that gates the HTTP
// dispatcher before access-control evaluation runs.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the interface the HTTP dispatcher depends on, so the in-memory
// bucket implementation can be swapped for a shared backend (see
// RedisLimiter) without touching call sites.
type Limiter interface {
	// Allow reports whether a request from key may proceed now. When false,
	// retryAfter is the caller's recommended Retry-After value, rounded up
	// to the next whole second.
	Allow(key string) (ok bool, retryAfter time.Duration)
}

// bucketEntry pairs a rate.Limiter with the last time it was touched, so
// idle buckets can be evicted.
type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// InMemory is a per-key token bucket: capacity C = configured requests per
// minute, refill rate C/60 per second, computed as rate.Limiter's internal
// floating-point accumulator. Buckets are created lazily on first use and
// evicted after idleTimeout of inactivity.
type InMemory struct {
	mu          sync.Mutex
	capacity    int
	idleTimeout time.Duration
	buckets     map[string]*bucketEntry
}

// DefaultIdleTimeout is how long a bucket may sit unused before Evict
// removes it.
const DefaultIdleTimeout = 10 * time.Minute

// NewInMemory returns an InMemory limiter with the given requests-per-minute
// capacity. idleTimeout <= 0 uses DefaultIdleTimeout.
func NewInMemory(requestsPerMinute int, idleTimeout time.Duration) *InMemory {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &InMemory{
		capacity:    requestsPerMinute,
		idleTimeout: idleTimeout,
		buckets:     make(map[string]*bucketEntry),
	}
}

// Allow consumes one token from key's bucket if available.
func (m *InMemory) Allow(key string) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.buckets[key]
	if !ok {
		refillPerSecond := rate.Limit(float64(m.capacity) / 60.0)
		entry = &bucketEntry{limiter: rate.NewLimiter(refillPerSecond, m.capacity)}
		m.buckets[key] = entry
	}
	entry.lastSeen = now

	res := entry.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	delay := res.DelayFrom(now)
	if delay <= 0 {
		return true, 0
	}
	// The reservation would have to wait; cancel it and reject this request
	// instead of making the caller block.
	res.CancelAt(now)
	seconds := math.Ceil(delay.Seconds())
	return false, time.Duration(seconds) * time.Second
}

// Evict removes buckets idle for longer than idleTimeout. Intended to be
// called periodically from a background goroutine.
func (m *InMemory) Evict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for key, entry := range m.buckets {
		if now.Sub(entry.lastSeen) > m.idleTimeout {
			delete(m.buckets, key)
		}
	}
}

// StartEvictor runs Evict every idleTimeout until ctx is cancelled. Intended
// to be run in its own goroutine for the life of the process, so a
// long-running gateway doesn't accumulate one bucket per distinct caller IP
// forever.
func (m *InMemory) StartEvictor(ctx context.Context) {
	ticker := time.NewTicker(m.idleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict()
		}
	}
}
