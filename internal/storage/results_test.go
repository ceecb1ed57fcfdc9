package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/ratemate/taas/internal/config"
)

func setupResultStores(ctx context.Context, t *testing.T) (SessionStore, ResultStore) {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := &Connection{DB: testDB.Connection}

	return NewSessionStore(conn), NewResultStore(conn)
}

func TestResultStore_AppendAndLatest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	sessions, results := setupResultStores(ctx, t)

	sessionID := uuid.NewString()
	require.NoError(t, sessions.UpsertSession(ctx, sessionID, "checkout", "web", "visual", "running", nil))

	summary1 := json.RawMessage(`{"pass": false, "diff_pixels": 120}`)
	summary2 := json.RawMessage(`{"pass": true, "diff_pixels": 0}`)

	_, err := results.AppendResult(ctx, sessionID, summary1)
	require.NoError(t, err)

	second, err := results.AppendResult(ctx, sessionID, summary2)
	require.NoError(t, err)

	latest, err := results.LatestResult(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.JSONEq(t, string(summary2), string(latest.Summary))

	all, err := results.ListResults(ctx, sessionID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = results.LatestResult(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestResultStore_GetResult(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	sessions, results := setupResultStores(ctx, t)

	sessionID := uuid.NewString()
	require.NoError(t, sessions.UpsertSession(ctx, sessionID, "checkout", "web", "visual", "running", nil))

	created, err := results.AppendResult(ctx, sessionID, json.RawMessage(`{"pass": true}`))
	require.NoError(t, err)

	fetched, err := results.GetResult(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, fetched.SessionID)

	_, err = results.GetResult(ctx, 9999999)
	assert.ErrorIs(t, err, ErrResultNotFound)
}
