// Package queue implements the durable job queue workers pull admitted test
// sessions from, backed by Redis's reliable-queue (LPUSH/BLMOVE) pattern.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingKey       = "taas:queue:pending"
	processingPrefix = "taas:queue:processing:"
	cancelPrefix     = "cancel:"
	livenessPrefix   = "taas:liveness:"

	cancelTTL   = time.Hour
	livenessTTL = 30 * time.Second
)

// ErrEmpty is returned by Dequeue when no job arrived before the deadline.
var ErrEmpty = errors.New("queue: no job available")

// Job is one admitted test session waiting for a worker.
type Job struct {
	SessionID  string          `json:"session_id"`
	Project    string          `json:"project"`
	Kind       string          `json:"kind"`
	TestType   string          `json:"test_type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Queue is a Redis-backed, at-least-once job queue.
type Queue struct {
	client *redis.Client
}

// New returns a Queue backed by client.
func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Enqueue pushes job onto the pending list for any idle worker to pick up.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	job.EnqueuedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}

	if err := q.client.LPush(ctx, pendingKey, data).Err(); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}

	return nil
}

// Dequeue blocks up to timeout for a job, atomically moving it from the
// pending list into workerID's processing list so a crashed worker's
// in-flight jobs can be recovered by Recover.
func (q *Queue) Dequeue(ctx context.Context, workerID string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLMove(ctx, pendingKey, processingKey(workerID), "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}

		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(result), &job); err != nil {
		return nil, fmt.Errorf("queue: unmarshal job: %w", err)
	}

	return &job, nil
}

// Ack removes job from workerID's processing list once it has been durably
// recorded as complete, cancelled, or failed terminally.
func (q *Queue) Ack(ctx context.Context, workerID string, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}

	if err := q.client.LRem(ctx, processingKey(workerID), 1, data).Err(); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}

	return nil
}

// Requeue moves job from workerID's processing list back onto the pending
// list, for transient failures that should retry on another worker.
func (q *Queue) Requeue(ctx context.Context, workerID string, job *Job) error {
	if err := q.Ack(ctx, workerID, job); err != nil {
		return err
	}

	return q.Enqueue(ctx, job)
}

// Recover re-enqueues every job left in workerID's processing list, for use
// at startup after an unclean shutdown or by a reaper watching dead workers.
func (q *Queue) Recover(ctx context.Context, workerID string) (int, error) {
	key := processingKey(workerID)

	n := 0

	for {
		data, err := q.client.RPop(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			break
		}

		if err != nil {
			return n, fmt.Errorf("queue: recover: %w", err)
		}

		if err := q.client.LPush(ctx, pendingKey, data).Err(); err != nil {
			return n, fmt.Errorf("queue: recover requeue: %w", err)
		}

		n++
	}

	return n, nil
}

// RequestCancel records an out-of-band cancellation request for sessionID.
// Executors check IsCancelRequested at suspension points rather than being
// interrupted directly.
func (q *Queue) RequestCancel(ctx context.Context, sessionID string) error {
	if err := q.client.Set(ctx, cancelPrefix+sessionID, "1", cancelTTL).Err(); err != nil {
		return fmt.Errorf("queue: request cancel: %w", err)
	}

	return nil
}

// IsCancelRequested reports whether sessionID has a pending cancellation flag.
func (q *Queue) IsCancelRequested(ctx context.Context, sessionID string) (bool, error) {
	n, err := q.client.Exists(ctx, cancelPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("queue: check cancel: %w", err)
	}

	return n > 0, nil
}

// ClearCancel removes sessionID's cancellation flag once the job has
// terminated, so the key does not linger until its TTL if the session id is
// ever reused.
func (q *Queue) ClearCancel(ctx context.Context, sessionID string) error {
	if err := q.client.Del(ctx, cancelPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("queue: clear cancel: %w", err)
	}

	return nil
}

// Heartbeat refreshes workerID's liveness key so a reaper can tell live
// workers from crashed ones.
func (q *Queue) Heartbeat(ctx context.Context, workerID string) error {
	if err := q.client.Set(ctx, livenessPrefix+workerID, time.Now().UTC().Format(time.RFC3339), livenessTTL).Err(); err != nil {
		return fmt.Errorf("queue: heartbeat: %w", err)
	}

	return nil
}

// IsAlive reports whether workerID has heartbeat within the liveness window.
func (q *Queue) IsAlive(ctx context.Context, workerID string) (bool, error) {
	n, err := q.client.Exists(ctx, livenessPrefix+workerID).Result()
	if err != nil {
		return false, fmt.Errorf("queue: check liveness: %w", err)
	}

	return n > 0, nil
}

func processingKey(workerID string) string {
	return processingPrefix + workerID
}

// PendingCount reports the number of jobs waiting to be picked up, for the
// admission API's queue-counters endpoint.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: pending count: %w", err)
	}

	return n, nil
}
