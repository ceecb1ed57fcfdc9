package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
)

// RateLimiter enforces a per-API-key, per-minute request budget. Allow
// reports whether the request identified by keyID is within limit for the
// current window, incrementing the window's counter as a side effect.
type RateLimiter interface {
	Allow(ctx context.Context, keyID string, limit int) (bool, error)
}

// RateLimit enforces per-key rate limits using the AuthContext attached by
// AuthenticateAPIKey. Requests with no AuthContext (public endpoints) pass
// through unthrottled, since they never resolved to a billable key.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := GetAuthContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)

				return
			}

			allowed, err := limiter.Allow(r.Context(), strconv.FormatInt(ac.KeyID, 10), ac.RateLimitPerMin)
			if err != nil {
				logger.LogAttrs(r.Context(), slog.LevelError, "rate limiter unavailable",
					slog.String("error", err.Error()),
				)
				writeRFC7807Error(w, r, http.StatusServiceUnavailable, "rate_limiter_unavailable", "rate limiter is unavailable")

				return
			}

			if !allowed {
				w.Header().Set("Retry-After", "60")
				writeRFC7807Error(w, r, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
