package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

const adminTokenHeader = "X-Admin-Token"

// AuthenticateAdmin guards admin-only routes behind a single shared bearer
// token read from the environment at startup. If token is empty the
// middleware rejects every request, since an unset admin token must never
// fail open.
func AuthenticateAdmin(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(adminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.LogAttrs(r.Context(), slog.LevelWarn, "admin authentication failed",
					slog.String("path", r.URL.Path),
				)
				writeRFC7807Error(w, r, http.StatusUnauthorized, "invalid_admin_token", "admin token is invalid")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
