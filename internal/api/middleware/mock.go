package middleware

import (
	"context"

	"github.com/ratemate/taas/internal/storage"
)

// MockAPIKeyStore is a test double for storage.APIKeyStore with overridable
// function fields, following the teacher's function-field mock pattern.
type MockAPIKeyStore struct {
	VerifyAPIKeyFunc func(ctx context.Context, raw string) (*storage.APIKey, error)
	InsertAPIKeyFunc func(ctx context.Context, name, project string, rateLimitPerMin int) (string, *storage.APIKey, error)
	ListAPIKeysFunc  func(ctx context.Context, project string) ([]*storage.APIKey, error)
	UpdateAPIKeyFunc func(ctx context.Context, id int64, active *bool, rateLimitPerMin *int) (*storage.APIKey, error)
	HealthCheckFunc  func(ctx context.Context) error
}

func (m *MockAPIKeyStore) VerifyAPIKey(ctx context.Context, raw string) (*storage.APIKey, error) {
	if m.VerifyAPIKeyFunc != nil {
		return m.VerifyAPIKeyFunc(ctx, raw)
	}

	return nil, storage.ErrAPIKeyNotFound
}

func (m *MockAPIKeyStore) InsertAPIKey(
	ctx context.Context, name, project string, rateLimitPerMin int,
) (string, *storage.APIKey, error) {
	if m.InsertAPIKeyFunc != nil {
		return m.InsertAPIKeyFunc(ctx, name, project, rateLimitPerMin)
	}

	return "", nil, nil
}

func (m *MockAPIKeyStore) ListAPIKeys(ctx context.Context, project string) ([]*storage.APIKey, error) {
	if m.ListAPIKeysFunc != nil {
		return m.ListAPIKeysFunc(ctx, project)
	}

	return nil, nil
}

func (m *MockAPIKeyStore) UpdateAPIKey(
	ctx context.Context, id int64, active *bool, rateLimitPerMin *int,
) (*storage.APIKey, error) {
	if m.UpdateAPIKeyFunc != nil {
		return m.UpdateAPIKeyFunc(ctx, id, active, rateLimitPerMin)
	}

	return nil, storage.ErrAPIKeyNotFound
}

func (m *MockAPIKeyStore) HealthCheck(ctx context.Context) error {
	if m.HealthCheckFunc != nil {
		return m.HealthCheckFunc(ctx)
	}

	return nil
}
