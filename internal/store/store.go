// Package store defines the persistence surface the delivery core runs
// against. Every state transition that matters for correctness is a
// conditional update: the caller names the status it expects the row to
// still hold, and the store reports whether the transition matched. A
// miss means a concurrent poller won the race; callers back off silently.
package store

import (
	"context"
	"time"

	"tern/internal/models"
)

// JobStore persists the durable email job queue.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.EmailJob) error
	CreateJobs(ctx context.Context, jobs []*models.EmailJob) error
	// DueJobs returns up to limit jobs that are queued, or failed with
	// retries remaining, ordered by QueuedAt ascending.
	DueJobs(ctx context.Context, limit int) ([]models.EmailJob, error)
	// ClaimJob transitions a job from to to only if its status still
	// equals from. It reports whether the claim matched.
	ClaimJob(ctx context.Context, id string, from, to models.JobStatus) (bool, error)
	// UpdateJob persists the job's delivery outcome: status, retry count,
	// last error, and the sent/failed timestamps. Other columns are left
	// untouched.
	UpdateJob(ctx context.Context, job *models.EmailJob) error
	// OpenJobCount counts a campaign's jobs that may still produce an
	// outcome: queued, processing, or failed with retries remaining.
	OpenJobCount(ctx context.Context, campaignID string) (int64, error)
	JobsByCampaign(ctx context.Context, campaignID string) ([]models.EmailJob, error)
}

// CampaignStore persists campaigns.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	// GetCampaign returns the campaign only if it belongs to teamID. An
	// empty teamID skips the tenant scope; the finalize and schedule
	// sweeps use it to reload campaigns across tenants.
	GetCampaign(ctx context.Context, teamID, id string) (*models.Campaign, error)
	UpdateCampaign(ctx context.Context, c *models.Campaign) error
	// ClaimCampaign transitions a campaign's status only if it still
	// equals from. It reports whether the claim matched.
	ClaimCampaign(ctx context.Context, id string, from, to models.CampaignStatus) (bool, error)
	// DueCampaigns returns unpaused pending campaigns scheduled at or
	// before now.
	DueCampaigns(ctx context.Context, now time.Time) ([]models.Campaign, error)
	SendingCampaigns(ctx context.Context) ([]models.Campaign, error)
	// IncrementCampaignCounters bumps the aggregate delivery counters.
	IncrementCampaignCounters(ctx context.Context, id string, success, failure int) error
	// IncrementEngagement bumps open/click counters.
	IncrementEngagement(ctx context.Context, id string, opens, clicks int) error
}

// RecipientStore persists the per-campaign recipient ledger.
type RecipientStore interface {
	// ReplaceRecipients drops any existing ledger for the campaign and
	// installs rows in its place.
	ReplaceRecipients(ctx context.Context, campaignID string, rows []*models.CampaignRecipient) error
	RecipientsByStatus(ctx context.Context, campaignID string, status models.RecipientStatus) ([]models.CampaignRecipient, error)
	CountRecipients(ctx context.Context, campaignID string, status models.RecipientStatus) (int64, error)
	// MarkRecipient updates the ledger row for (campaignID, email).
	MarkRecipient(ctx context.Context, campaignID, email string, status models.RecipientStatus, reason string, at time.Time) error
	// ResetRecipients moves every ledger row with status from back to to,
	// clearing failure reasons. It returns the number of rows moved.
	ResetRecipients(ctx context.Context, campaignID string, from, to models.RecipientStatus) (int64, error)
}

// CredentialStore persists relay credentials.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *models.RelayCredential) error
	GetCredential(ctx context.Context, id string) (*models.RelayCredential, error)
	// VerifiedCredentials returns the tenant's verified credentials
	// ordered by usage count ascending, then AddedAt ascending.
	VerifiedCredentials(ctx context.Context, teamID string) ([]models.RelayCredential, error)
	IncrementCredentialUsage(ctx context.Context, id string) error
}

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *models.Workflow) error
	IncrementWorkflowEnrolled(ctx context.Context, id string) error
	IncrementWorkflowCompleted(ctx context.Context, id string) error
}

// EnrollmentStore persists workflow enrollments.
type EnrollmentStore interface {
	CreateEnrollment(ctx context.Context, e *models.WorkflowEnrollment) error
	// HasActiveEnrollment reports whether an active enrollment exists for
	// the (workflow, contact) pair.
	HasActiveEnrollment(ctx context.Context, workflowID, contactID string) (bool, error)
	// DueEnrollments returns up to limit active enrollments whose
	// NextExecutionAt is at or before now, ordered ascending.
	DueEnrollments(ctx context.Context, limit int, now time.Time) ([]models.WorkflowEnrollment, error)
	// ClaimEnrollment moves NextExecutionAt from from to to only if the
	// enrollment still sits at stepIndex with that due time. Winning the
	// claim leases the enrollment to the caller until to; losing means a
	// concurrent engine tick took it.
	ClaimEnrollment(ctx context.Context, id string, stepIndex int, from, to time.Time) (bool, error)
	UpdateEnrollment(ctx context.Context, e *models.WorkflowEnrollment) error
}

// ContactStore is the recipient-resolution collaborator surface.
type ContactStore interface {
	CreateContact(ctx context.Context, c *models.Contact) error
	GetContact(ctx context.Context, id string) (*models.Contact, error)
}

// TemplateStore is the template collaborator surface.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *models.Template) error
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
}

// Store is the full persistence surface.
type Store interface {
	JobStore
	CampaignStore
	RecipientStore
	CredentialStore
	WorkflowStore
	EnrollmentStore
	ContactStore
	TemplateStore
}
