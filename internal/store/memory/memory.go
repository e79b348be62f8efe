// Package memory is an in-memory Store implementation. It backs tests
// and offers the same conditional-update claim semantics as the postgres
// store: a claim only matches while the row still holds the expected
// status.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tern/internal/errs"
	"tern/internal/models"
	"tern/internal/store"
)

// Store holds all state in mutex-guarded maps.
type Store struct {
	mu          sync.Mutex
	jobs        map[string]*models.EmailJob
	campaigns   map[string]*models.Campaign
	recipients  map[string][]*models.CampaignRecipient
	credentials map[string]*models.RelayCredential
	workflows   map[string]*models.Workflow
	enrollments map[string]*models.WorkflowEnrollment
	contacts    map[string]*models.Contact
	templates   map[string]*models.Template
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*models.EmailJob),
		campaigns:   make(map[string]*models.Campaign),
		recipients:  make(map[string][]*models.CampaignRecipient),
		credentials: make(map[string]*models.RelayCredential),
		workflows:   make(map[string]*models.Workflow),
		enrollments: make(map[string]*models.WorkflowEnrollment),
		contacts:    make(map[string]*models.Contact),
		templates:   make(map[string]*models.Template),
	}
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

// --- jobs ---

func (s *Store) CreateJob(ctx context.Context, job *models.EmailJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&job.ID)
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) CreateJobs(ctx context.Context, jobs []*models.EmailJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		ensureID(&job.ID)
		cp := *job
		s.jobs[job.ID] = &cp
	}
	return nil
}

func jobDue(j *models.EmailJob) bool {
	return j.Status == models.JobStatusQueued || j.Retryable()
}

func (s *Store) DueJobs(ctx context.Context, limit int) ([]models.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.EmailJob
	for _, j := range s.jobs {
		if jobDue(j) {
			due = append(due, *j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].QueuedAt.Before(due[b].QueuedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) ClaimJob(ctx context.Context, id string, from, to models.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	return true, nil
}

func (s *Store) UpdateJob(ctx context.Context, job *models.EmailJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return errs.ErrNotFound
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) OpenJobCount(ctx context.Context, campaignID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.CampaignID != campaignID {
			continue
		}
		if j.Status == models.JobStatusQueued || j.Status == models.JobStatusProcessing || j.Retryable() {
			n++
		}
	}
	return n, nil
}

func (s *Store) JobsByCampaign(ctx context.Context, campaignID string) ([]models.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EmailJob
	for _, j := range s.jobs {
		if j.CampaignID == campaignID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].QueuedAt.Before(out[b].QueuedAt) })
	return out, nil
}

// --- campaigns ---

func (s *Store) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&c.ID)
	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, teamID, id string) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || (teamID != "" && c.TeamID != teamID) {
		return nil, errs.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[c.ID]; !ok {
		return errs.ErrNotFound
	}
	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *Store) ClaimCampaign(ctx context.Context, id string, from, to models.CampaignStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (s *Store) DueCampaigns(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.Campaign
	for _, c := range s.campaigns {
		if c.Status != models.CampaignStatusPending || c.Paused {
			continue
		}
		if c.ScheduledAt == nil || c.ScheduledAt.After(now) {
			continue
		}
		due = append(due, *c)
	}
	sort.Slice(due, func(a, b int) bool { return due[a].ScheduledAt.Before(*due[b].ScheduledAt) })
	return due, nil
}

func (s *Store) SendingCampaigns(ctx context.Context) ([]models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Campaign
	for _, c := range s.campaigns {
		if c.Status == models.CampaignStatusSending {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *Store) IncrementCampaignCounters(ctx context.Context, id string, success, failure int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return errs.ErrNotFound
	}
	c.SuccessCount += success
	c.FailureCount += failure
	return nil
}

func (s *Store) IncrementEngagement(ctx context.Context, id string, opens, clicks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return errs.ErrNotFound
	}
	c.OpenCount += opens
	c.ClickCount += clicks
	if opens > 0 {
		now := time.Now()
		c.LastOpenedAt = &now
	}
	return nil
}

// --- recipient ledger ---

func (s *Store) ReplaceRecipients(ctx context.Context, campaignID string, rows []*models.CampaignRecipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]*models.CampaignRecipient, 0, len(rows))
	for _, r := range rows {
		ensureID(&r.ID)
		cp := *r
		kept = append(kept, &cp)
	}
	s.recipients[campaignID] = kept
	return nil
}

func (s *Store) RecipientsByStatus(ctx context.Context, campaignID string, status models.RecipientStatus) ([]models.CampaignRecipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CampaignRecipient
	for _, r := range s.recipients[campaignID] {
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *Store) CountRecipients(ctx context.Context, campaignID string, status models.RecipientStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.recipients[campaignID] {
		if status == "" || r.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkRecipient(ctx context.Context, campaignID, email string, status models.RecipientStatus, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recipients[campaignID] {
		if r.Email != email {
			continue
		}
		r.Status = status
		r.FailedReason = reason
		if status == models.RecipientStatusSent {
			t := at
			r.SentAt = &t
		}
		return nil
	}
	return errs.ErrNotFound
}

func (s *Store) ResetRecipients(ctx context.Context, campaignID string, from, to models.RecipientStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.recipients[campaignID] {
		if r.Status != from {
			continue
		}
		r.Status = to
		r.FailedReason = ""
		n++
	}
	return n, nil
}

// --- relay credentials ---

func (s *Store) CreateCredential(ctx context.Context, cred *models.RelayCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&cred.ID)
	cp := *cred
	s.credentials[cred.ID] = &cp
	return nil
}

func (s *Store) GetCredential(ctx context.Context, id string) (*models.RelayCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (s *Store) VerifiedCredentials(ctx context.Context, teamID string) ([]models.RelayCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RelayCredential
	for _, cred := range s.credentials {
		if cred.TeamID == teamID && cred.Verified {
			out = append(out, *cred)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].UsageCount != out[b].UsageCount {
			return out[a].UsageCount < out[b].UsageCount
		}
		return out[a].AddedAt.Before(out[b].AddedAt)
	})
	return out, nil
}

func (s *Store) IncrementCredentialUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[id]
	if !ok {
		return errs.ErrNotFound
	}
	cred.UsageCount++
	return nil
}

// --- workflows ---

func (s *Store) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&wf.ID)
	cp := *wf
	cp.Steps = append([]models.WorkflowStep(nil), wf.Steps...)
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *wf
	cp.Steps = append([]models.WorkflowStep(nil), wf.Steps...)
	return &cp, nil
}

func (s *Store) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return errs.ErrNotFound
	}
	cp := *wf
	cp.Steps = append([]models.WorkflowStep(nil), wf.Steps...)
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *Store) IncrementWorkflowEnrolled(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return errs.ErrNotFound
	}
	wf.Stats.Enrolled++
	return nil
}

func (s *Store) IncrementWorkflowCompleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return errs.ErrNotFound
	}
	wf.Stats.Completed++
	return nil
}

// --- enrollments ---

func (s *Store) CreateEnrollment(ctx context.Context, e *models.WorkflowEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&e.ID)
	cp := *e
	cp.History = append([]models.StepExecution(nil), e.History...)
	s.enrollments[e.ID] = &cp
	return nil
}

func (s *Store) HasActiveEnrollment(ctx context.Context, workflowID, contactID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrollments {
		if e.WorkflowID == workflowID && e.ContactID == contactID && e.Status == models.EnrollmentStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DueEnrollments(ctx context.Context, limit int, now time.Time) ([]models.WorkflowEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.WorkflowEnrollment
	for _, e := range s.enrollments {
		if e.Status != models.EnrollmentStatusActive || e.NextExecutionAt.After(now) {
			continue
		}
		cp := *e
		cp.History = append([]models.StepExecution(nil), e.History...)
		due = append(due, cp)
	}
	sort.Slice(due, func(a, b int) bool { return due[a].NextExecutionAt.Before(due[b].NextExecutionAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) ClaimEnrollment(ctx context.Context, id string, stepIndex int, from, to time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok || e.CurrentStepIndex != stepIndex || !e.NextExecutionAt.Equal(from) {
		return false, nil
	}
	e.NextExecutionAt = to
	return true, nil
}

func (s *Store) UpdateEnrollment(ctx context.Context, e *models.WorkflowEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enrollments[e.ID]; !ok {
		return errs.ErrNotFound
	}
	cp := *e
	cp.History = append([]models.StepExecution(nil), e.History...)
	s.enrollments[e.ID] = &cp
	return nil
}

// --- contacts / templates ---

func (s *Store) CreateContact(ctx context.Context, c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&c.ID)
	cp := *c
	s.contacts[c.ID] = &cp
	return nil
}

func (s *Store) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&t.ID)
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *t
	return &cp, nil
}
