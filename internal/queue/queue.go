// Package queue carries pending draft commits until they succeed.
package queue

import (
	"context"
	"time"
)

// CommitJob asks a worker to finish an appointment whose record could not
// be committed.
type CommitJob struct {
	AppointmentID string    `json:"appointmentId"`
	Attempt       int       `json:"attempt"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// Handler processes one job. An error schedules the job again.
type Handler func(ctx context.Context, job CommitJob) error

// Queue is a durable or in-process job queue.
type Queue interface {
	Enqueue(ctx context.Context, job CommitJob) error
	// Consume delivers jobs to h until ctx is done.
	Consume(ctx context.Context, h Handler) error
}

// Backoff returns the delay before the given attempt, doubling from base up to max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}
