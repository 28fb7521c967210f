/**
 * @description
 * This file implements the distributed API quota: a Redis-backed fixed
 * window shared by every replica, applied to authenticated clients on top of
 * the per-process token bucket. The window counter and its expiry are
 * maintained atomically in one Lua round trip, and the allow/deny decision
 * is made here so callers only see a QuotaDecision, never raw counters.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client and Lua script execution.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// quotaWindowScript bumps the window counter and reports how long the window
// has left, in one atomic step. A counter at 1 is fresh and gets its expiry;
// a counter whose expiry was lost (flush, migration) is given a new one so it
// cannot linger forever.
var quotaWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
local left = redis.call("PTTL", KEYS[1])
if hits == 1 or left < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  left = tonumber(ARGV[1])
end
return {hits, left}
`)

// QuotaDecision is the outcome of one quota charge.
type QuotaDecision struct {
	Allowed bool
	// Count is the number of requests charged to the window so far,
	// including this one.
	Count int
	// RetryAfter is how long a denied caller should wait for the window to
	// roll over. Zero when allowed.
	RetryAfter time.Duration
}

// RedisQuota charges authenticated API usage against a shared fixed window.
// The zero limiter (nil receiver or nil client) disables enforcement.
type RedisQuota struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisQuota creates a quota keyed under the given prefix, e.g.
// "dio:rate_limit".
func NewRedisQuota(client redis.UniversalClient, prefix string) *RedisQuota {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "dio:rate_limit"
	}
	return &RedisQuota{client: client, prefix: prefix}
}

// Allow charges one request for (scope, subject) against the window and
// decides whether it may proceed. Errors mean Redis could not answer; the
// caller decides whether to fail open.
func (q *RedisQuota) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (QuotaDecision, error) {
	if q == nil || q.client == nil || limit <= 0 || window <= 0 {
		return QuotaDecision{Allowed: true}, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return QuotaDecision{Allowed: true}, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := q.prefix + ":" + scope + ":" + subject
	raw, err := quotaWindowScript.Run(ctx, q.client, []string{key}, windowMs).Result()
	if err != nil {
		return QuotaDecision{}, err
	}
	hits, leftMs, err := parseQuotaReply(raw)
	if err != nil {
		return QuotaDecision{}, err
	}
	return decideQuota(hits, leftMs, limit, windowMs), nil
}

func parseQuotaReply(raw interface{}) (hits, leftMs int64, err error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("quota script reply has shape %T, want [2]int", raw)
	}
	hits, ok = values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("quota script hit count has type %T", values[0])
	}
	leftMs, ok = values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("quota script ttl has type %T", values[1])
	}
	return hits, leftMs, nil
}

// decideQuota turns the raw window state into a decision. Denied callers get
// a retry hint rounded up to a whole second, never less than one, so a
// Retry-After header built from it is always honest.
func decideQuota(hits, leftMs int64, limit int, windowMs int64) QuotaDecision {
	if hits <= int64(limit) {
		return QuotaDecision{Allowed: true, Count: int(hits)}
	}
	if leftMs < 0 {
		leftMs = windowMs
	}
	retryAfter := time.Duration(leftMs) * time.Millisecond
	if rounded := retryAfter.Truncate(time.Second); rounded < retryAfter {
		retryAfter = rounded + time.Second
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return QuotaDecision{Count: int(hits), RetryAfter: retryAfter}
}
