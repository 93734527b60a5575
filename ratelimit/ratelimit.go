// Package ratelimit enforces per-tenant ingestion admission limits.
//
// The limiter is a fixed window counter in Redis: INCR on
// tenant:{id}:ratelimit:ingest, with EXPIRE set on the first hit of each
// window. Admissions beyond the limit are refused until the window expires.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Limiter counts batch admissions per tenant per window.
type Limiter struct {
	client *goredis.Client
	limit  int64
	window time.Duration
}

// New creates a limiter allowing limit admissions per window.
func New(client *goredis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{client: client, limit: int64(limit), window: window}
}

func key(tenantID string) string {
	return fmt.Sprintf("tenant:%s:ratelimit:ingest", tenantID)
}

// Allow records an admission attempt and reports whether it is within the
// tenant's limit. The counter key expires with the window, so a new window
// starts automatically after the TTL elapses.
func (l *Limiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	k := key(tenantID)
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr %s: %w", k, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: expire %s: %w", k, err)
		}
	}
	return count <= l.limit, nil
}

// Remaining returns the number of admissions left in the current window.
func (l *Limiter) Remaining(ctx context.Context, tenantID string) (int64, error) {
	count, err := l.client.Get(ctx, key(tenantID)).Int64()
	if err != nil {
		if err == goredis.Nil {
			return l.limit, nil
		}
		return 0, fmt.Errorf("ratelimit: get: %w", err)
	}
	if count >= l.limit {
		return 0, nil
	}
	return l.limit - count, nil
}
