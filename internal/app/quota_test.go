package app

import (
	"context"
	"testing"
	"time"
)

func TestQuotaDisabledConfigurationsAllow(t *testing.T) {
	cases := []struct {
		name  string
		quota *RedisQuota
		limit int
	}{
		{"nil limiter", nil, 100},
		{"no client", NewRedisQuota(nil, "dio:rate_limit"), 100},
		{"zero limit", NewRedisQuota(nil, "dio:rate_limit"), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := tc.quota.Allow(context.Background(), "api", "key:abc", tc.limit, time.Minute)
			if err != nil {
				t.Fatalf("Allow returned error: %v", err)
			}
			if !d.Allowed {
				t.Fatal("disabled quota denied a request")
			}
		})
	}
}

func TestNewRedisQuotaNormalizesPrefix(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "dio:rate_limit"},
		{"  ", "dio:rate_limit"},
		{"custom:quota:", "custom:quota"},
		{"custom:quota", "custom:quota"},
	}
	for _, tc := range cases {
		if q := NewRedisQuota(nil, tc.in); q.prefix != tc.want {
			t.Errorf("NewRedisQuota(%q).prefix = %q, want %q", tc.in, q.prefix, tc.want)
		}
	}
}

func TestDecideQuota(t *testing.T) {
	cases := []struct {
		name           string
		hits, leftMs   int64
		limit          int
		wantAllowed    bool
		wantRetryAfter time.Duration
	}{
		{"under limit", 5, 30_000, 10, true, 0},
		{"exactly at limit", 10, 30_000, 10, true, 0},
		{"one over limit", 11, 30_000, 10, false, 30 * time.Second},
		{"retry rounds up", 11, 1_500, 10, false, 2 * time.Second},
		{"retry never below one second", 11, 10, 10, false, time.Second},
		{"lost expiry falls back to full window", 11, -1, 10, false, time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := decideQuota(tc.hits, tc.leftMs, tc.limit, time.Minute.Milliseconds())
			if d.Allowed != tc.wantAllowed {
				t.Fatalf("Allowed = %t, want %t", d.Allowed, tc.wantAllowed)
			}
			if d.RetryAfter != tc.wantRetryAfter {
				t.Fatalf("RetryAfter = %v, want %v", d.RetryAfter, tc.wantRetryAfter)
			}
			if d.Count != int(tc.hits) {
				t.Fatalf("Count = %d, want %d", d.Count, tc.hits)
			}
		})
	}
}

func TestParseQuotaReplyRejectsForeignShapes(t *testing.T) {
	for _, raw := range []interface{}{
		nil,
		"nope",
		[]interface{}{int64(1)},
		[]interface{}{"1", int64(2)},
		[]interface{}{int64(1), "2"},
	} {
		if _, _, err := parseQuotaReply(raw); err == nil {
			t.Errorf("parseQuotaReply(%#v) accepted a malformed reply", raw)
		}
	}
}
