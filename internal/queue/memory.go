package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueueFull is returned when the in-memory buffer stays full.
var ErrQueueFull = errors.New("commit queue full")

// MemoryQueue is a channel-backed queue for single-process deployments and tests.
type MemoryQueue struct {
	jobs       chan CommitJob
	log        zerolog.Logger
	base, max  time.Duration
	publishTTL time.Duration
}

// NewMemoryQueue creates a queue holding up to size jobs. Failed jobs are
// retried after base, doubling up to max.
func NewMemoryQueue(size int, base, max time.Duration, log zerolog.Logger) *MemoryQueue {
	return &MemoryQueue{
		jobs:       make(chan CommitJob, size),
		log:        log.With().Str("component", "commit-queue").Logger(),
		base:       base,
		max:        max,
		publishTTL: 2 * time.Second,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job CommitJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(q.publishTTL):
		return ErrQueueFull
	}
}

// Len returns the number of buffered jobs.
func (q *MemoryQueue) Len() int { return len(q.jobs) }

func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-q.jobs:
			job.Attempt++
			if err := h(ctx, job); err != nil {
				delay := Backoff(job.Attempt, q.base, q.max)
				q.log.Warn().Err(err).
					Str("appointment_id", job.AppointmentID).
					Int("attempt", job.Attempt).
					Dur("retry_in", delay).
					Msg("commit retry failed")
				q.requeue(ctx, job, delay)
			}
		}
	}
}

func (q *MemoryQueue) requeue(ctx context.Context, job CommitJob, delay time.Duration) {
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
			if err := q.Enqueue(ctx, job); err != nil {
				q.log.Error().Err(err).Str("appointment_id", job.AppointmentID).Msg("commit job dropped")
			}
		}
	}()
}
