// Package queue implements the durable email job queue and the batch
// worker that drains it. Multiple workers may poll concurrently; the
// only coordination is the store's conditional status claim.
package queue

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"tern/internal/errs"
	"tern/internal/models"
	"tern/internal/store"
	"tern/internal/utils/logger"
)

var log = logger.New("QUEUE")

var validate = validator.New()

// Queue appends jobs to the durable send queue.
type Queue struct {
	store store.JobStore
	now   func() time.Time
}

// New builds a Queue.
func New(s store.JobStore) *Queue {
	return &Queue{store: s, now: time.Now}
}

// WithClock overrides the queue's clock. Intended for tests.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Enqueue appends one job with status queued. The job's subject and HTML
// are stored as-is: content is frozen at enqueue time.
func (q *Queue) Enqueue(ctx context.Context, job *models.EmailJob) error {
	if err := q.prepare(job); err != nil {
		return err
	}
	return q.store.CreateJob(ctx, job)
}

// EnqueueBulk appends jobs in one batch insert.
func (q *Queue) EnqueueBulk(ctx context.Context, jobs []*models.EmailJob) error {
	for _, job := range jobs {
		if err := q.prepare(job); err != nil {
			return err
		}
	}
	return q.store.CreateJobs(ctx, jobs)
}

func (q *Queue) prepare(job *models.EmailJob) error {
	if err := validate.Struct(job); err != nil {
		return errs.Validation("invalid email job: %v", err)
	}
	job.Status = models.JobStatusQueued
	job.RetryCount = 0
	job.QueuedAt = q.now()
	return nil
}
