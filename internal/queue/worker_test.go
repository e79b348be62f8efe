package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tern/internal/errs"
	"tern/internal/models"
	"tern/internal/relay"
	"tern/internal/store/memory"
	"tern/internal/tracking"
	"tern/internal/utils/crypto"
)

const testTeamID = "22222222-2222-2222-2222-222222222222"

// fakeSender records messages and fails on demand.
type fakeSender struct {
	sent []relay.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, cred *models.RelayCredential, msg relay.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestMain(m *testing.M) {
	if err := crypto.InitializeKey("worker-test-secret"); err != nil {
		panic(err)
	}
	m.Run()
}

func newTestWorker(t *testing.T, st *memory.Store, sender relay.Sender) *Worker {
	t.Helper()
	pool := relay.NewPool(st, func(ctx context.Context, in relay.RegisterInput) error { return nil })
	_, err := pool.Register(context.Background(), testTeamID, relay.RegisterInput{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "mailer@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	return NewWorker(st, pool, sender, tracking.None)
}

func enqueueTestJob(t *testing.T, st *memory.Store, campaignID string) *models.EmailJob {
	t.Helper()
	job := &models.EmailJob{
		TeamID:     testTeamID,
		CampaignID: campaignID,
		To:         "rcpt@example.com",
		Subject:    "S",
		HTML:       "<p>Hi</p>",
	}
	require.NoError(t, New(st).Enqueue(context.Background(), job))
	return job
}

func TestProcessBatch_DeliversQueuedJob(t *testing.T) {
	st := memory.New()
	sender := &fakeSender{}
	worker := newTestWorker(t, st, sender)

	job := enqueueTestJob(t, st, "")

	processed, failed := worker.ProcessBatch(context.Background(), 10)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "rcpt@example.com", sender.sent[0].To)
	assert.Equal(t, "mailer@example.com", sender.sent[0].From)

	due, err := st.DueJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "a sent job must never be selected again")

	open, err := st.OpenJobCount(context.Background(), job.CampaignID)
	require.NoError(t, err)
	assert.Zero(t, open)
}

func TestProcessBatch_ClaimedJobIsSkipped(t *testing.T) {
	st := memory.New()
	sender := &fakeSender{}
	worker := newTestWorker(t, st, sender)

	job := enqueueTestJob(t, st, "")

	// Simulate a concurrent worker that already owns the job.
	claimed, err := st.ClaimJob(context.Background(), job.ID, models.JobStatusQueued, models.JobStatusProcessing)
	require.NoError(t, err)
	require.True(t, claimed)

	processed, failed := worker.ProcessBatch(context.Background(), 10)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, failed)
	assert.Empty(t, sender.sent)
}

func TestProcessBatch_TransientFailureRetriesUntilCap(t *testing.T) {
	st := memory.New()
	sender := &fakeSender{err: errs.Delivery(errors.New("451 try again later"))}
	worker := newTestWorker(t, st, sender)

	enqueueTestJob(t, st, "")

	for attempt := 1; attempt <= models.MaxJobAttempts; attempt++ {
		processed, failed := worker.ProcessBatch(context.Background(), 10)
		assert.Equal(t, 0, processed)
		assert.Equal(t, 1, failed, "attempt %d should fail", attempt)
	}

	// The cap is reached: the job is terminal and never selected again.
	due, err := st.DueJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	processed, failed := worker.ProcessBatch(context.Background(), 10)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, failed)
}

func TestProcessBatch_ConfigurationFailureIsTerminal(t *testing.T) {
	st := memory.New()
	// No credential registered: delivery fails with a ConfigurationError.
	pool := relay.NewPool(st, func(ctx context.Context, in relay.RegisterInput) error { return nil })
	worker := NewWorker(st, pool, &fakeSender{}, tracking.None)

	enqueueTestJob(t, st, "")

	processed, failed := worker.ProcessBatch(context.Background(), 10)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 1, failed)

	// A tenant misconfiguration exhausts the attempts in one go.
	due, err := st.DueJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestProcessBatch_UpdatesCampaignBookkeeping(t *testing.T) {
	st := memory.New()
	sender := &fakeSender{}
	worker := newTestWorker(t, st, sender)

	campaign := &models.Campaign{
		TeamID:  testTeamID,
		Name:    "launch",
		Subject: "S",
		HTML:    "<p>Hi</p>",
		Status:  models.CampaignStatusSending,
	}
	require.NoError(t, st.CreateCampaign(context.Background(), campaign))
	require.NoError(t, st.ReplaceRecipients(context.Background(), campaign.ID, []*models.CampaignRecipient{
		{CampaignID: campaign.ID, Email: "rcpt@example.com", Status: models.RecipientStatusPending},
	}))

	enqueueTestJob(t, st, campaign.ID)

	processed, _ := worker.ProcessBatch(context.Background(), 10)
	require.Equal(t, 1, processed)

	got, err := st.GetCampaign(context.Background(), testTeamID, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, 0, got.FailureCount)

	sent, err := st.RecipientsByStatus(context.Background(), campaign.ID, models.RecipientStatusSent)
	require.NoError(t, err)
	assert.Len(t, sent, 1)
}

func TestProcessBatch_FailureCountsOnceAtExhaustion(t *testing.T) {
	st := memory.New()
	sender := &fakeSender{err: errs.Delivery(errors.New("smtp unreachable"))}
	worker := newTestWorker(t, st, sender)

	campaign := &models.Campaign{
		TeamID:  testTeamID,
		Name:    "launch",
		Subject: "S",
		HTML:    "<p>Hi</p>",
		Status:  models.CampaignStatusSending,
	}
	require.NoError(t, st.CreateCampaign(context.Background(), campaign))
	require.NoError(t, st.ReplaceRecipients(context.Background(), campaign.ID, []*models.CampaignRecipient{
		{CampaignID: campaign.ID, Email: "rcpt@example.com", Status: models.RecipientStatusPending},
	}))

	enqueueTestJob(t, st, campaign.ID)

	for i := 0; i < models.MaxJobAttempts; i++ {
		worker.ProcessBatch(context.Background(), 10)
	}

	got, err := st.GetCampaign(context.Background(), testTeamID, campaign.ID)
	require.NoError(t, err)
	// One recipient, one failure unit, regardless of how many attempts
	// were burned getting there.
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, 0, got.SuccessCount)
}

func TestEnqueue_RejectsInvalidJob(t *testing.T) {
	q := New(memory.New())

	err := q.Enqueue(context.Background(), &models.EmailJob{
		TeamID: testTeamID,
		To:     "not-an-email",
	})
	assert.True(t, errs.IsValidation(err))
}

func TestEnqueue_FreezesQueueState(t *testing.T) {
	st := memory.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := New(st).WithClock(func() time.Time { return at })

	job := &models.EmailJob{
		TeamID:     testTeamID,
		To:         "rcpt@example.com",
		Subject:    "S",
		HTML:       "<p>Hi</p>",
		Status:     models.JobStatusFailed,
		RetryCount: 2,
	}
	require.NoError(t, q.Enqueue(context.Background(), job))

	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, at, job.QueuedAt)
}
