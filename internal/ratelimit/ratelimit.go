// Package ratelimit implements a Redis-backed, per-API-key, per-minute
// request budget for the admission API.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "ratelimit:"
	window    = time.Minute
)

// Limiter enforces a fixed per-integer-minute-window request budget per key,
// using an INCR+EXPIRE counter keyed by key id and wall-clock minute. It
// implements the middleware.RateLimiter interface structurally.
type Limiter struct {
	client      *redis.Client
	bypassKeyID string
}

// New returns a Limiter backed by client. bypassKeyID, when non-empty, names
// a key id that is always allowed regardless of its configured limit — used
// for the legacy global API key carried over from the single-tenant gateway.
func New(client *redis.Client, bypassKeyID string) *Limiter {
	return &Limiter{client: client, bypassKeyID: bypassKeyID}
}

// Allow increments the counter for keyID's current minute window and reports
// whether the count is still within limit. The window key expires 60 seconds
// after being first touched so each calendar minute starts a fresh budget.
func (l *Limiter) Allow(ctx context.Context, keyID string, limit int) (bool, error) {
	if l.bypassKeyID != "" && keyID == l.bypassKeyID {
		return true, nil
	}

	if limit <= 0 {
		return false, nil
	}

	minuteBucket := time.Now().UTC().Truncate(window).Unix()
	redisKey := fmt.Sprintf("%s%s:%d", keyPrefix, keyID, minuteBucket)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit incr: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit expire: %w", err)
		}
	}

	return count <= int64(limit), nil
}
