/**
 * @description
 * This package implements the in-process token bucket limiter that guards all
 * ingress (webhooks and APIs) against flood abuse. Buckets are keyed by client
 * (IP or API key id), created lazily on first observation, and refilled in
 * full once per interval rather than trickled fractionally.
 *
 * The bucket table is owned by the constructed Limiter instance, never a
 * package global, so its lifecycle is tied to the service instance. When the
 * table grows past the configured ceiling it is cleared wholesale; that can
 * reset a legitimate client's window early, which is acceptable for abuse
 * mitigation but would not be for precise quota accounting.
 */

package ratelimit

import (
	"sync"
	"time"
)

// Config controls bucket capacity and refill behavior.
type Config struct {
	// Capacity is the number of tokens granted per key per interval.
	Capacity int
	// Interval is the full-refill period.
	Interval time.Duration
	// MaxKeys is the bucket table ceiling; exceeding it triggers a full clear.
	MaxKeys int
	// ExemptPaths bypass the limiter entirely (health checks, infra probes).
	ExemptPaths []string
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// Limiter is a per-key token bucket gate. The zero value is not usable;
// construct with New.
type Limiter struct {
	capacity int
	interval time.Duration
	maxKeys  int
	exempt   map[string]struct{}

	mu      sync.RWMutex
	buckets map[string]*bucket

	now func() time.Time // overridable for tests
}

// New creates a Limiter from the given config, applying sane floors.
func New(cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	exempt := make(map[string]struct{}, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = struct{}{}
	}
	return &Limiter{
		capacity: cfg.Capacity,
		interval: cfg.Interval,
		maxKeys:  cfg.MaxKeys,
		exempt:   exempt,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// IsExempt reports whether a request path bypasses rate limiting. Evaluated
// before any bucket lookup so probes never populate the table.
func (l *Limiter) IsExempt(path string) bool {
	_, ok := l.exempt[path]
	return ok
}

// Allow attempts to consume one token for the client key. It returns false
// without consuming when the bucket is empty.
func (l *Limiter) Allow(key string) bool {
	b := l.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	if now.Sub(b.lastRefill) >= l.interval {
		b.tokens = l.capacity
		b.lastRefill = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	// Coarse eviction: wholesale clear once the table outgrows the ceiling.
	if len(l.buckets) >= l.maxKeys {
		l.buckets = make(map[string]*bucket)
	}
	b = &bucket{tokens: l.capacity, lastRefill: l.now()}
	l.buckets[key] = b
	return b
}

// Size returns the current bucket table size.
func (l *Limiter) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}
