// Package campaigns turns campaign definitions into queue jobs and moves
// campaigns through their lifecycle: draft -> pending (scheduled) ->
// sending -> sent/failed. The dispatcher owns the recipient ledger and
// aggregate counters; the scheduler claims due campaigns.
package campaigns

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"tern/internal/errs"
	"tern/internal/models"
	"tern/internal/queue"
	"tern/internal/store"
	"tern/internal/utils/logger"
)

var log = logger.New("CAMPAIGNS")

var validate = validator.New()

// CreateInput describes a new campaign. Subject and HTML become the
// frozen content of jobs at send time.
type CreateInput struct {
	Name    string `json:"name"`
	Subject string `json:"subject" validate:"required"`
	HTML    string `json:"html" validate:"required"`
	Footer  string `json:"footer"`
}

// Summary aggregates a campaign's ledger outcomes.
type Summary struct {
	Total       int64 `json:"total"`
	Sent        int64 `json:"sent"`
	Failed      int64 `json:"failed"`
	SuccessRate int   `json:"successRate"`
}

// Dispatcher implements campaign operations.
type Dispatcher struct {
	store store.Store
	queue *queue.Queue
	now   func() time.Time
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(s store.Store, q *queue.Queue) *Dispatcher {
	return &Dispatcher{store: s, queue: q, now: time.Now}
}

// WithClock overrides the dispatcher's clock. Intended for tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Create stores a draft campaign for the tenant.
func (d *Dispatcher) Create(ctx context.Context, teamID string, in CreateInput) (*models.Campaign, error) {
	if err := validate.Struct(in); err != nil {
		return nil, errs.Validation("invalid campaign: %v", err)
	}

	name := in.Name
	if name == "" {
		name = in.Subject
	}

	c := &models.Campaign{
		TeamID:     teamID,
		Name:       name,
		Subject:    in.Subject,
		HTML:       in.HTML,
		Footer:     in.Footer,
		Status:     models.CampaignStatusDraft,
		Source:     models.CampaignSourceManual,
		Recurrence: models.RecurrenceNone,
		Timezone:   "UTC",
	}
	if err := d.store.CreateCampaign(ctx, c); err != nil {
		return nil, log.Error("failed to create campaign", err)
	}
	return c, nil
}

// AttachRecipients replaces the campaign's recipient ledger with the
// deduplicated email list, every row pending. An empty list after
// deduplication is a no-op.
func (d *Dispatcher) AttachRecipients(ctx context.Context, teamID, campaignID string, emails []string) error {
	c, err := d.store.GetCampaign(ctx, teamID, campaignID)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	var rows []*models.CampaignRecipient
	for _, email := range emails {
		email = strings.TrimSpace(email)
		key := strings.ToLower(email)
		if email == "" || seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, &models.CampaignRecipient{
			CampaignID: c.ID,
			Email:      email,
			Status:     models.RecipientStatusPending,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	if err := d.store.ReplaceRecipients(ctx, c.ID, rows); err != nil {
		return log.Error("failed to replace recipient ledger", err)
	}

	captured := d.now()
	c.Snapshot.CapturedAt = &captured
	return d.store.UpdateCampaign(ctx, c)
}

// SendCampaign moves the campaign into sending and enqueues one job per
// pending ledger recipient, freezing the current subject and HTML into
// each job. It is a no-op when the campaign is paused and fails with a
// ValidationError when the ledger holds no pending recipients.
func (d *Dispatcher) SendCampaign(ctx context.Context, c *models.Campaign) error {
	if c.Paused {
		return nil
	}

	pending, err := d.store.RecipientsByStatus(ctx, c.ID, models.RecipientStatusPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return errs.Validation("no recipients to send")
	}

	c.Status = models.CampaignStatusSending
	c.TotalRecipients = len(pending)
	c.SentAt = nil
	if err := d.store.UpdateCampaign(ctx, c); err != nil {
		return log.Error("failed to mark campaign sending", err)
	}

	html := c.HTML
	if c.Footer != "" {
		html += "\n" + c.Footer
	}

	jobs := make([]*models.EmailJob, 0, len(pending))
	for _, r := range pending {
		jobs = append(jobs, &models.EmailJob{
			TeamID:     c.TeamID,
			CampaignID: c.ID,
			To:         r.Email,
			Subject:    c.Subject,
			HTML:       html,
		})
	}
	if err := d.queue.EnqueueBulk(ctx, jobs); err != nil {
		return log.Error("failed to enqueue campaign jobs", err)
	}

	log.Info("campaign %s dispatched %d jobs", c.ID, len(jobs))
	return nil
}

// ScheduleCampaign arms the campaign to fire at the given time, with an
// optional recurrence.
func (d *Dispatcher) ScheduleCampaign(ctx context.Context, teamID, campaignID string, at time.Time, recurrence models.RecurrenceKind) error {
	if recurrence == "" {
		recurrence = models.RecurrenceNone
	}
	if !recurrence.Valid() {
		return errs.Validation("unknown recurrence %q", recurrence)
	}

	c, err := d.store.GetCampaign(ctx, teamID, campaignID)
	if err != nil {
		return err
	}
	switch c.Status {
	case models.CampaignStatusDraft, models.CampaignStatusPending:
	default:
		return errs.Validation("campaign is %s and cannot be scheduled", c.Status)
	}

	c.Status = models.CampaignStatusPending
	c.ScheduledAt = &at
	c.Recurrence = recurrence
	return d.store.UpdateCampaign(ctx, c)
}

// RetryFailedRecipients resets every failed ledger row to pending and
// enqueues a fresh job for each, using the campaign's current content.
// It returns how many recipients were re-enqueued.
func (d *Dispatcher) RetryFailedRecipients(ctx context.Context, teamID, campaignID string) (int, error) {
	c, err := d.store.GetCampaign(ctx, teamID, campaignID)
	if err != nil {
		return 0, err
	}

	failedRows, err := d.store.RecipientsByStatus(ctx, c.ID, models.RecipientStatusFailed)
	if err != nil {
		return 0, err
	}
	if len(failedRows) == 0 {
		return 0, nil
	}

	if _, err := d.store.ResetRecipients(ctx, c.ID, models.RecipientStatusFailed, models.RecipientStatusPending); err != nil {
		return 0, log.Error("failed to reset ledger rows", err)
	}

	html := c.HTML
	if c.Footer != "" {
		html += "\n" + c.Footer
	}
	jobs := make([]*models.EmailJob, 0, len(failedRows))
	for _, r := range failedRows {
		jobs = append(jobs, &models.EmailJob{
			TeamID:     c.TeamID,
			CampaignID: c.ID,
			To:         r.Email,
			Subject:    c.Subject,
			HTML:       html,
		})
	}
	if err := d.queue.EnqueueBulk(ctx, jobs); err != nil {
		return 0, log.Error("failed to enqueue retry jobs", err)
	}

	// The retried recipients hand back their failure units; they will be
	// recounted when their fresh jobs settle.
	c.Status = models.CampaignStatusSending
	c.FailureCount -= len(failedRows)
	if c.FailureCount < 0 {
		c.FailureCount = 0
	}
	c.FailedAt = nil
	c.FailedReason = ""
	if err := d.store.UpdateCampaign(ctx, c); err != nil {
		return 0, log.Error("failed to reopen campaign", err)
	}

	log.Info("campaign %s retrying %d failed recipients", c.ID, len(failedRows))
	return len(failedRows), nil
}

// Finalize sweeps campaigns stuck in sending whose jobs have all
// settled and stamps their terminal status: failed when any recipient
// exhausted retries, sent otherwise. Recurring campaigns re-arm for
// their next occurrence instead of going terminal. Run once per
// processing tick, after the queue worker drains its batch.
func (d *Dispatcher) Finalize(ctx context.Context) error {
	sending, err := d.store.SendingCampaigns(ctx)
	if err != nil {
		return err
	}

	for i := range sending {
		c := sending[i]

		open, err := d.store.OpenJobCount(ctx, c.ID)
		if err != nil {
			log.Error("failed to count open jobs for "+c.ID, err)
			continue
		}
		// Counters move between the open-count read and this check; a
		// campaign that looks unfinished is simply picked up on a later
		// sweep.
		fresh, err := d.store.GetCampaign(ctx, "", c.ID)
		if err != nil {
			continue
		}
		processed := fresh.SuccessCount + fresh.FailureCount
		if open != 0 || processed == 0 {
			continue
		}

		now := d.now()
		if fresh.Recurring() {
			d.rearm(ctx, fresh, now)
			continue
		}

		if fresh.FailureCount > 0 {
			fresh.Status = models.CampaignStatusFailed
			fresh.FailedAt = &now
			fresh.FailedReason = "one or more recipients exhausted delivery attempts"
		} else {
			fresh.Status = models.CampaignStatusSent
		}
		fresh.SentAt = &now
		if err := d.store.UpdateCampaign(ctx, fresh); err != nil {
			log.Error("failed to finalize campaign "+c.ID, err)
			continue
		}
		log.Success("campaign %s finalized as %s (%d ok, %d failed)",
			c.ID, fresh.Status, fresh.SuccessCount, fresh.FailureCount)
	}
	return nil
}

// rearm resets a recurring campaign for its next cycle. Sent ledger rows
// go back to pending; failed rows stay failed for an operator-driven
// retry. The next fire time was computed by the scheduler at dispatch.
func (d *Dispatcher) rearm(ctx context.Context, c *models.Campaign, now time.Time) {
	if _, err := d.store.ResetRecipients(ctx, c.ID, models.RecipientStatusSent, models.RecipientStatusPending); err != nil {
		log.Error("failed to reset ledger for recurring campaign "+c.ID, err)
		return
	}
	c.Status = models.CampaignStatusPending
	c.SuccessCount = 0
	c.FailureCount = 0
	c.TotalRecipients = 0
	c.SentAt = &now
	if err := d.store.UpdateCampaign(ctx, c); err != nil {
		log.Error("failed to re-arm recurring campaign "+c.ID, err)
		return
	}
	log.Info("recurring campaign %s re-armed for %v", c.ID, c.ScheduledAt)
}

// AnalyticsSummary reports the ledger's delivery outcomes.
func (d *Dispatcher) AnalyticsSummary(ctx context.Context, teamID, campaignID string) (*Summary, error) {
	c, err := d.store.GetCampaign(ctx, teamID, campaignID)
	if err != nil {
		return nil, err
	}

	total, err := d.store.CountRecipients(ctx, c.ID, "")
	if err != nil {
		return nil, err
	}
	sent, err := d.store.CountRecipients(ctx, c.ID, models.RecipientStatusSent)
	if err != nil {
		return nil, err
	}
	failed, err := d.store.CountRecipients(ctx, c.ID, models.RecipientStatusFailed)
	if err != nil {
		return nil, err
	}

	s := &Summary{Total: total, Sent: sent, Failed: failed}
	if total > 0 {
		s.SuccessRate = int(sent * 100 / total)
	}
	return s, nil
}

// TrackOpen bumps the campaign's open counter.
func (d *Dispatcher) TrackOpen(ctx context.Context, campaignID string) error {
	return d.store.IncrementEngagement(ctx, campaignID, 1, 0)
}

// TrackClick bumps the campaign's click counter.
func (d *Dispatcher) TrackClick(ctx context.Context, campaignID string) error {
	return d.store.IncrementEngagement(ctx, campaignID, 0, 1)
}
