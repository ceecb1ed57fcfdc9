package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ratemate/taas/internal/storage"
)

const (
	apiKeyHeader      = "X-API-Key"
	apiKeyQueryParam  = "api_key"
	problemTypePrefix = "https://taas.dev/problems/"
)

// AuthError represents an authentication failure with an HTTP status to report.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string { return e.Message }

var (
	// ErrMissingAPIKey is returned when no API key is present on the request.
	ErrMissingAPIKey = &AuthError{Status: http.StatusUnauthorized, Code: "missing_api_key", Message: "API key is required"}
	// ErrInvalidAPIKey is returned when the presented key does not match any active key.
	ErrInvalidAPIKey = &AuthError{Status: http.StatusUnauthorized, Code: "invalid_api_key", Message: "API key is invalid"}
	// ErrAPIKeyInactive is returned when the key is known but has been deactivated.
	ErrAPIKeyInactive = &AuthError{Status: http.StatusForbidden, Code: "api_key_inactive", Message: "API key is inactive"}
)

// extractAPIKey pulls the raw key from the X-API-Key header, falling back to
// the api_key query parameter for clients that cannot set custom headers.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return strings.TrimSpace(key)
	}

	return strings.TrimSpace(r.URL.Query().Get(apiKeyQueryParam))
}

// authenticateRequest resolves the raw API key on r against store, returning
// the matched key or an AuthError describing why authentication failed.
func authenticateRequest(ctx context.Context, store storage.APIKeyStore, r *http.Request) (*storage.APIKey, error) {
	raw := extractAPIKey(r)
	if raw == "" {
		return nil, ErrMissingAPIKey
	}

	key, err := store.VerifyAPIKey(ctx, raw)
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			return nil, ErrInvalidAPIKey
		}

		return nil, err
	}

	if !key.Active {
		return nil, ErrAPIKeyInactive
	}

	return key, nil
}

// AuthenticateAPIKey authenticates every request against store using the
// X-API-Key header (or api_key query parameter). On success it attaches an
// AuthContext to the request context; on failure it writes an RFC 7807
// problem response and does not call next.
func AuthenticateAPIKey(store storage.APIKeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := authenticateRequest(r.Context(), store, r)
			if err != nil {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					authErr = &AuthError{Status: http.StatusInternalServerError, Code: "auth_error", Message: "authentication failed"}
				}

				logger.LogAttrs(r.Context(), slog.LevelWarn, "api key authentication failed",
					slog.String("code", authErr.Code),
					slog.String("path", r.URL.Path),
				)
				writeAuthError(w, r, authErr)

				return
			}

			ac := &AuthContext{
				KeyID:           key.ID,
				Name:            key.Name,
				Project:         key.Project,
				RateLimitPerMin: key.RateLimitPerMin,
			}
			next.ServeHTTP(w, r.WithContext(SetAuthContext(r.Context(), ac)))
		})
	}
}

// writeAuthError writes an RFC 7807 problem+json response for an AuthError.
func writeAuthError(w http.ResponseWriter, r *http.Request, authErr *AuthError) {
	writeRFC7807Error(w, r, authErr.Status, authErr.Code, authErr.Message)
}

// writeRFC7807Error writes a minimal RFC 7807 problem response.
func writeRFC7807Error(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	body := `{"type":"` + problemTypePrefix + code + `","title":"` + http.StatusText(status) +
		`","status":` + strconv.Itoa(status) + `,"detail":"` + detail + `","instance":"` + r.URL.Path + `"}`
	_, _ = w.Write([]byte(body))
}
