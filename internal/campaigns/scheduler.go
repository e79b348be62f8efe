package campaigns

import (
	"context"
	"time"

	"tern/internal/models"
	"tern/internal/store"
)

// Scheduler fires pending campaigns whose scheduled time has passed.
// Multiple instances may run concurrently against the same database;
// the conditional pending -> sending claim makes sure each due campaign
// is dispatched exactly once.
type Scheduler struct {
	store      store.Store
	dispatcher *Dispatcher
	now        func() time.Time
}

// NewScheduler builds a Scheduler.
func NewScheduler(s store.Store, d *Dispatcher) *Scheduler {
	return &Scheduler{store: s, dispatcher: d, now: time.Now}
}

// WithClock overrides the scheduler's clock. Intended for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// RunScheduledCampaigns dispatches every due campaign once. A campaign
// whose dispatch fails is stamped failed with the reason; other due
// campaigns still run.
func (s *Scheduler) RunScheduledCampaigns(ctx context.Context) error {
	now := s.now()
	due, err := s.store.DueCampaigns(ctx, now)
	if err != nil {
		return log.Error("failed to list due campaigns", err)
	}

	for i := range due {
		c := due[i]

		claimed, err := s.store.ClaimCampaign(ctx, c.ID, models.CampaignStatusPending, models.CampaignStatusSending)
		if err != nil {
			log.Error("failed to claim campaign "+c.ID, err)
			continue
		}
		if !claimed {
			// Another scheduler instance got here first.
			continue
		}

		// The due listing is a snapshot; a pause landing between it and
		// the claim would otherwise strand the campaign in sending.
		fresh, err := s.store.GetCampaign(ctx, "", c.ID)
		if err != nil {
			log.Error("failed to reload campaign "+c.ID, err)
			continue
		}
		if fresh.Paused {
			if _, err := s.store.ClaimCampaign(ctx, c.ID, models.CampaignStatusSending, models.CampaignStatusPending); err != nil {
				log.Error("failed to release paused campaign "+c.ID, err)
			}
			continue
		}
		fresh.Status = models.CampaignStatusSending

		if fresh.Recurring() {
			// SendCampaign persists the campaign, carrying the next
			// occurrence along with it.
			next := nextScheduledAt(fresh.ScheduledAt, fresh.Recurrence, fresh.Timezone)
			fresh.ScheduledAt = &next
		}

		if err := s.dispatcher.SendCampaign(ctx, fresh); err != nil {
			fresh.Status = models.CampaignStatusFailed
			failedAt := s.now()
			fresh.FailedAt = &failedAt
			fresh.FailedReason = err.Error()
			if uerr := s.store.UpdateCampaign(ctx, fresh); uerr != nil {
				log.Error("failed to record campaign dispatch failure", uerr)
			}
			log.Error("campaign "+fresh.ID+" dispatch failed", err)
			continue
		}
	}
	return nil
}

// nextScheduledAt advances the fire time by one recurrence interval in
// the campaign's timezone, keeping the local wall-clock time stable
// across DST transitions.
func nextScheduledAt(at *time.Time, kind models.RecurrenceKind, tz string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	local := at.In(loc)
	switch kind {
	case models.RecurrenceWeekly:
		return local.AddDate(0, 0, 7)
	default:
		return local.AddDate(0, 0, 1)
	}
}
