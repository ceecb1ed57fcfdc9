package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client)
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := &Job{SessionID: "s1", Project: "checkout", Kind: "web", TestType: "visual"}
	require.NoError(t, q.Enqueue(ctx, job))

	got, err := q.Dequeue(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	require.Equal(t, "s1", got.SessionID)

	require.NoError(t, q.Ack(ctx, "worker-1", got))

	n, err := q.Recover(ctx, "worker-1")
	require.NoError(t, err)
	require.Zero(t, n, "acked job should not be recoverable")
}

func TestQueue_DequeueTimesOut(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Dequeue(context.Background(), "worker-1", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestQueue_RequeueReturnsJobToPending(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := &Job{SessionID: "s2", Project: "checkout", Kind: "web", TestType: "visual"}
	require.NoError(t, q.Enqueue(ctx, job))

	got, err := q.Dequeue(ctx, "worker-1", time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Requeue(ctx, "worker-1", got))

	again, err := q.Dequeue(ctx, "worker-2", time.Second)
	require.NoError(t, err)
	require.Equal(t, "s2", again.SessionID)
}

func TestQueue_RecoverMovesProcessingJobsBackToPending(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := &Job{SessionID: "s3", Project: "checkout", Kind: "web", TestType: "visual"}
	require.NoError(t, q.Enqueue(ctx, job))

	_, err := q.Dequeue(ctx, "crashed-worker", time.Second)
	require.NoError(t, err)

	n, err := q.Recover(ctx, "crashed-worker")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	recovered, err := q.Dequeue(ctx, "worker-2", time.Second)
	require.NoError(t, err)
	require.Equal(t, "s3", recovered.SessionID)
}

func TestQueue_CancelFlag(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	requested, err := q.IsCancelRequested(ctx, "s4")
	require.NoError(t, err)
	require.False(t, requested)

	require.NoError(t, q.RequestCancel(ctx, "s4"))

	requested, err = q.IsCancelRequested(ctx, "s4")
	require.NoError(t, err)
	require.True(t, requested)

	require.NoError(t, q.ClearCancel(ctx, "s4"))

	requested, err = q.IsCancelRequested(ctx, "s4")
	require.NoError(t, err)
	require.False(t, requested)
}

func TestQueue_Liveness(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	alive, err := q.IsAlive(ctx, "worker-1")
	require.NoError(t, err)
	require.False(t, alive)

	require.NoError(t, q.Heartbeat(ctx, "worker-1"))

	alive, err = q.IsAlive(ctx, "worker-1")
	require.NoError(t, err)
	require.True(t, alive)
}

func TestQueue_PendingCount(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, q.Enqueue(ctx, &Job{SessionID: "s1", Kind: "web", TestType: "smoke"}))
	require.NoError(t, q.Enqueue(ctx, &Job{SessionID: "s2", Kind: "web", TestType: "smoke"}))

	n, err = q.PendingCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}
