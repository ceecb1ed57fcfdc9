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

func setupSessionStore(ctx context.Context, t *testing.T) SessionStore {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	return NewSessionStore(&Connection{DB: testDB.Connection})
}

func TestSessionStore_UpsertAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupSessionStore(ctx, t)

	id := uuid.NewString()
	payload := json.RawMessage(`{"url":"https://example.com"}`)
	require.NoError(t, store.UpsertSession(ctx, id, "checkout", "web", "visual", "queued", payload))

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "queued", sess.Status)
	assert.Equal(t, "checkout", sess.Project)
	assert.JSONEq(t, string(payload), string(sess.Payload))

	require.NoError(t, store.UpsertSession(ctx, id, "checkout", "web", "visual", "running", payload))

	sess, err = store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "running", sess.Status)

	_, err = store.GetSession(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_UpdateStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupSessionStore(ctx, t)

	id := uuid.NewString()
	require.NoError(t, store.UpsertSession(ctx, id, "checkout", "web", "visual", "queued", nil))
	require.NoError(t, store.UpdateSessionStatus(ctx, id, "completed"))

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "completed", sess.Status)

	err = store.UpdateSessionStatus(ctx, uuid.NewString(), "completed")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_ListSessionsAndProjects(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupSessionStore(ctx, t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.UpsertSession(ctx, uuid.NewString(), "checkout", "web", "visual", "queued", nil))
	}

	require.NoError(t, store.UpsertSession(ctx, uuid.NewString(), "mobile-app", "mobile", "security", "queued", nil))

	sessions, err := store.ListSessions(ctx, SessionFilter{Project: "checkout", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, sessions, 3)

	projects, err := store.ListProjects(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(projects), 2)
}
