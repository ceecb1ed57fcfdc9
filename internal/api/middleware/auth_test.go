package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthenticateAPIKey(t *testing.T) {
	activeKey := &storage.APIKey{ID: 1, Name: "ci", Project: "checkout", RateLimitPerMin: 60, Active: true}
	inactiveKey := &storage.APIKey{ID: 2, Name: "disabled", Project: "checkout", RateLimitPerMin: 60, Active: false}

	t.Run("missing key returns 401", func(t *testing.T) {
		store := &MockAPIKeyStore{}
		handler := AuthenticateAPIKey(store, testLogger())(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
			t.Fatal("next should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid key attaches auth context", func(t *testing.T) {
		store := &MockAPIKeyStore{
			VerifyAPIKeyFunc: func(_ context.Context, raw string) (*storage.APIKey, error) {
				require.Equal(t, "taas_ak_valid", raw)

				return activeKey, nil
			},
		}

		var gotCtx *AuthContext

		handler := AuthenticateAPIKey(store, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotCtx, _ = GetAuthContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.Header.Set(apiKeyHeader, "taas_ak_valid")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotCtx)
		assert.Equal(t, int64(1), gotCtx.KeyID)
	})

	t.Run("inactive key returns 403", func(t *testing.T) {
		store := &MockAPIKeyStore{
			VerifyAPIKeyFunc: func(_ context.Context, _ string) (*storage.APIKey, error) {
				return inactiveKey, nil
			},
		}
		handler := AuthenticateAPIKey(store, testLogger())(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
			t.Fatal("next should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.Header.Set(apiKeyHeader, "taas_ak_disabled")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown key returns 401", func(t *testing.T) {
		store := &MockAPIKeyStore{
			VerifyAPIKeyFunc: func(_ context.Context, _ string) (*storage.APIKey, error) {
				return nil, storage.ErrAPIKeyNotFound
			},
		}
		handler := AuthenticateAPIKey(store, testLogger())(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
			t.Fatal("next should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.URL.RawQuery = "api_key=unknown"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
