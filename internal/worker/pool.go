// Package worker implements the bounded-concurrency pool that pulls admitted
// test sessions off the durable queue and dispatches them to an executor.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ratemate/taas/internal/queue"
)

const (
	dequeueTimeout   = 5 * time.Second
	heartbeatPeriod  = 10 * time.Second
	recoverOnStartup = true
)

// Handler runs one job to completion. Returning an error makes the pool
// requeue the job for another attempt rather than ack it as done; a handler
// that fully records failure in job results should return nil so the job is
// not retried.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, job *queue.Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job *queue.Job) error {
	return f(ctx, job)
}

// Pool dequeues jobs and runs up to Concurrency of them at a time.
type Pool struct {
	Queue       *queue.Queue
	Handler     Handler
	WorkerID    string
	Concurrency int
	Logger      *slog.Logger
}

// Run blocks until ctx is canceled, dispatching jobs to p.Handler. On
// startup it recovers any jobs left in this worker's processing list by a
// prior unclean shutdown before accepting new work.
func (p *Pool) Run(ctx context.Context) error {
	logger := p.logger()

	if recoverOnStartup {
		n, err := p.Queue.Recover(ctx, p.WorkerID)
		if err != nil {
			logger.Error("recover in-flight jobs failed", slog.String("error", err.Error()))
		} else if n > 0 {
			logger.Info("recovered in-flight jobs", slog.Int("count", n))
		}
	}

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup

	stopHeartbeat := p.startHeartbeat(ctx)
	defer stopHeartbeat()

	for {
		if ctx.Err() != nil {
			wg.Wait()

			return nil
		}

		select {
		case <-ctx.Done():
			wg.Wait()

			return nil
		case sem <- struct{}{}:
		}

		job, err := p.Queue.Dequeue(ctx, p.WorkerID, dequeueTimeout)
		if err != nil {
			<-sem

			if errors.Is(err, queue.ErrEmpty) || ctx.Err() != nil {
				continue
			}

			logger.Error("dequeue failed", slog.String("error", err.Error()))
			continue
		}

		wg.Add(1)

		go func(job *queue.Job) {
			defer wg.Done()
			defer func() { <-sem }()

			p.process(ctx, job)
		}(job)
	}
}

func (p *Pool) process(ctx context.Context, job *queue.Job) {
	logger := p.logger().With(
		slog.String("session_id", job.SessionID),
		slog.String("test_type", job.TestType),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job handler panicked", slog.Any("panic", r))
			_ = p.Queue.Requeue(ctx, p.WorkerID, job)
		}
	}()

	logger.Info("job started")

	if err := p.Handler.Handle(ctx, job); err != nil {
		logger.Error("job failed, requeuing", slog.String("error", err.Error()))

		if requeueErr := p.Queue.Requeue(ctx, p.WorkerID, job); requeueErr != nil {
			logger.Error("requeue failed", slog.String("error", requeueErr.Error()))
		}

		return
	}

	if err := p.Queue.Ack(ctx, p.WorkerID, job); err != nil {
		logger.Error("ack failed", slog.String("error", err.Error()))

		return
	}

	logger.Info("job completed")
}

func (p *Pool) startHeartbeat(ctx context.Context) func() {
	ticker := time.NewTicker(heartbeatPeriod)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				close(done)

				return
			case <-ticker.C:
				if err := p.Queue.Heartbeat(ctx, p.WorkerID); err != nil {
					p.logger().Error("heartbeat failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	return func() { <-done }
}

func (p *Pool) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}

	return slog.Default()
}
