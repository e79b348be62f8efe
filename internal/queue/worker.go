package queue

import (
	"context"
	"time"

	"tern/internal/errs"
	"tern/internal/models"
	"tern/internal/relay"
	"tern/internal/store"
	"tern/internal/tracking"
)

// Worker drains the job queue one bounded batch per tick. Workers hold
// no state between ticks and never block each other: a job is owned by
// whichever worker wins the queued/failed -> processing claim.
type Worker struct {
	store     store.Store
	pool      *relay.Pool
	sender    relay.Sender
	transform tracking.Transformer
	now       func() time.Time
}

// NewWorker builds a Worker.
func NewWorker(s store.Store, pool *relay.Pool, sender relay.Sender, transform tracking.Transformer) *Worker {
	return &Worker{
		store:     s,
		pool:      pool,
		sender:    sender,
		transform: transform,
		now:       time.Now,
	}
}

// WithClock overrides the worker's clock. Intended for tests.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// ProcessBatch claims and delivers up to limit due jobs, oldest first.
// One job's failure never aborts the rest of the batch. It returns how
// many jobs were delivered and how many failed.
func (w *Worker) ProcessBatch(ctx context.Context, limit int) (processed, failed int) {
	jobs, err := w.store.DueJobs(ctx, limit)
	if err != nil {
		log.Error("failed to select due jobs", err)
		return 0, 0
	}

	for i := range jobs {
		job := jobs[i]

		claimed, err := w.store.ClaimJob(ctx, job.ID, job.Status, models.JobStatusProcessing)
		if err != nil {
			log.Error("failed to claim job "+job.ID, err)
			continue
		}
		if !claimed {
			// Another worker won the race. Not an error.
			continue
		}
		job.Status = models.JobStatusProcessing

		if err := w.deliver(ctx, &job); err != nil {
			w.recordFailure(ctx, &job, err)
			failed++
			continue
		}
		w.recordSuccess(ctx, &job)
		processed++
	}

	return processed, failed
}

func (w *Worker) deliver(ctx context.Context, job *models.EmailJob) error {
	cred, err := w.pool.Select(ctx, job.TeamID)
	if err != nil {
		return err
	}

	html := w.transform(job.HTML, job.CampaignID, job.To)
	msg := relay.Message{
		From:    cred.Username,
		To:      job.To,
		Subject: job.Subject,
		HTML:    html,
	}
	if err := w.sender.Send(ctx, cred, msg); err != nil {
		return err
	}

	if err := w.pool.RecordUse(ctx, cred.ID); err != nil {
		log.Warn("failed to record credential use for %s: %v", cred.ID, err)
	}
	return nil
}

func (w *Worker) recordSuccess(ctx context.Context, job *models.EmailJob) {
	now := w.now()
	job.Status = models.JobStatusSent
	job.SentAt = &now
	job.LastError = ""
	if err := w.store.UpdateJob(ctx, job); err != nil {
		log.Error("failed to persist sent job "+job.ID, err)
		return
	}

	if job.CampaignID == "" {
		return
	}
	if err := w.store.MarkRecipient(ctx, job.CampaignID, job.To, models.RecipientStatusSent, "", now); err != nil {
		log.Warn("failed to update ledger for %s/%s: %v", job.CampaignID, job.To, err)
	}
	if err := w.store.IncrementCampaignCounters(ctx, job.CampaignID, 1, 0); err != nil {
		log.Warn("failed to bump success counter for %s: %v", job.CampaignID, err)
	}
}

func (w *Worker) recordFailure(ctx context.Context, job *models.EmailJob, cause error) {
	now := w.now()
	job.Status = models.JobStatusFailed
	job.FailedAt = &now
	job.LastError = cause.Error()
	job.RetryCount++

	if errs.IsConfiguration(cause) {
		// Retrying cannot help until an operator fixes the tenant's
		// relay setup; exhaust the attempts so the job goes terminal
		// but stays visible.
		job.RetryCount = models.MaxJobAttempts
		log.Error("job "+job.ID+" failed on tenant configuration", cause)
	} else {
		log.Warn("job %s attempt %d failed: %v", job.ID, job.RetryCount, cause)
	}

	if err := w.store.UpdateJob(ctx, job); err != nil {
		log.Error("failed to persist failed job "+job.ID, err)
		return
	}

	// Campaign bookkeeping happens only when the job goes terminal, so
	// one recipient contributes exactly one unit to the aggregate
	// counters and successCount+failureCount lands on totalRecipients.
	if job.CampaignID == "" || job.RetryCount < models.MaxJobAttempts {
		return
	}
	if err := w.store.MarkRecipient(ctx, job.CampaignID, job.To, models.RecipientStatusFailed, job.LastError, now); err != nil {
		log.Warn("failed to update ledger for %s/%s: %v", job.CampaignID, job.To, err)
	}
	if err := w.store.IncrementCampaignCounters(ctx, job.CampaignID, 0, 1); err != nil {
		log.Warn("failed to bump failure counter for %s: %v", job.CampaignID, err)
	}
}
