package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/ratemate/taas/internal/config"
)

func setupAPIKeyStore(ctx context.Context, t *testing.T) APIKeyStore {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	return NewAPIKeyStore(&Connection{DB: testDB.Connection})
}

func TestAPIKeyStore_InsertAndVerify(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupAPIKeyStore(ctx, t)

	raw, key, err := store.InsertAPIKey(ctx, "ci-runner", "checkout", 120)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.True(t, key.Active)
	assert.Equal(t, 120, key.RateLimitPerMin)

	found, err := store.VerifyAPIKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, key.ID, found.ID)
	assert.Equal(t, "checkout", found.Project)

	_, err = store.VerifyAPIKey(ctx, "taas_ak_not_a_real_key")
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)
}

func TestAPIKeyStore_UpdateAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupAPIKeyStore(ctx, t)

	_, key, err := store.InsertAPIKey(ctx, "batch-runner", "mobile-app", 60)
	require.NoError(t, err)

	inactive := false
	newLimit := 10
	updated, err := store.UpdateAPIKey(ctx, key.ID, &inactive, &newLimit)
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, 10, updated.RateLimitPerMin)

	keys, err := store.ListAPIKeys(ctx, "mobile-app")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)

	_, err = store.UpdateAPIKey(ctx, 999999, nil, nil)
	assert.Error(t, err)
}
