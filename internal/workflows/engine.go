// Package workflows runs drip sequences: ordered email and wait steps a
// contact moves through one step per processing tick. Enrollment rows are
// the engine's only state; the email steps themselves ride the durable
// job queue like any campaign send.
package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tern/internal/errs"
	"tern/internal/models"
	"tern/internal/queue"
	"tern/internal/store"
	"tern/internal/utils"
	"tern/internal/utils/logger"
)

var log = logger.New("WORKFLOWS")

// Fallback content for email steps whose template vanished or was saved
// without a subject or body.
const (
	defaultSubject = "(No Subject)"
	defaultHTML    = "<p>No Content</p>"
)

// Engine advances enrollments through their workflow's steps.
type Engine struct {
	store   store.Store
	queue   *queue.Queue
	backoff time.Duration
	now     func() time.Time
}

// NewEngine builds an Engine. backoff is how long an enrollment waits
// after a step execution error before it is retried.
func NewEngine(s store.Store, q *queue.Queue, backoff time.Duration) *Engine {
	return &Engine{store: s, queue: q, backoff: backoff, now: time.Now}
}

// WithClock overrides the engine's clock. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Enroll starts the contact on the workflow at step zero, due
// immediately. Enrollment is silently skipped when the workflow is
// missing, not active, belongs to another tenant, or the contact already
// has an active enrollment in it.
func (e *Engine) Enroll(ctx context.Context, teamID, workflowID, contactID string) error {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	if wf.TeamID != teamID || wf.Status != models.WorkflowStatusActive {
		return nil
	}

	active, err := e.store.HasActiveEnrollment(ctx, workflowID, contactID)
	if err != nil {
		return err
	}
	if active {
		log.Debug("contact %s already enrolled in workflow %s", contactID, workflowID)
		return nil
	}

	enrollment := &models.WorkflowEnrollment{
		TeamID:          teamID,
		WorkflowID:      workflowID,
		ContactID:       contactID,
		Status:          models.EnrollmentStatusActive,
		NextExecutionAt: e.now(),
	}
	if err := e.store.CreateEnrollment(ctx, enrollment); err != nil {
		return log.Error("failed to create enrollment", err)
	}
	if err := e.store.IncrementWorkflowEnrolled(ctx, workflowID); err != nil {
		log.Warn("failed to bump enrolled count for workflow %s: %v", workflowID, err)
	}
	return nil
}

// ProcessDueEnrollments advances every due active enrollment by exactly
// one step. Each enrollment is claimed with a conditional update before
// its step runs, so concurrent engine ticks never execute the same step
// twice. An enrollment whose step errors is pushed back by the engine's
// backoff and retried on a later tick; it never blocks the rest of the
// batch. Returns how many enrollments were advanced; held and cancelled
// enrollments do not count.
func (e *Engine) ProcessDueEnrollments(ctx context.Context, limit int) (int, error) {
	due, err := e.store.DueEnrollments(ctx, limit, e.now())
	if err != nil {
		return 0, log.Error("failed to list due enrollments", err)
	}

	advanced := 0
	for i := range due {
		enrollment := due[i]
		// The claim doubles as a lease: if the step execution dies
		// mid-flight the enrollment comes due again after the backoff.
		claimed, err := e.store.ClaimEnrollment(ctx, enrollment.ID, enrollment.CurrentStepIndex, enrollment.NextExecutionAt, e.now().Add(e.backoff))
		if err != nil {
			log.Error("failed to claim enrollment "+enrollment.ID, err)
			continue
		}
		if !claimed {
			// Another engine tick owns this enrollment.
			continue
		}
		ok, err := e.processEnrollment(ctx, &enrollment)
		if err != nil {
			log.Error("step execution failed for enrollment "+enrollment.ID, err)
			enrollment.NextExecutionAt = e.now().Add(e.backoff)
			if uerr := e.store.UpdateEnrollment(ctx, &enrollment); uerr != nil {
				log.Error("failed to record step backoff", uerr)
			}
			continue
		}
		if ok {
			advanced++
		}
	}
	return advanced, nil
}

// processEnrollment runs the enrollment's current step and reports
// whether the enrollment advanced. Completion is detected here too: an
// enrollment whose index has moved past the last step completes on this
// tick rather than inline after that step ran.
func (e *Engine) processEnrollment(ctx context.Context, enrollment *models.WorkflowEnrollment) (bool, error) {
	wf, err := e.store.GetWorkflow(ctx, enrollment.WorkflowID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, e.cancel(ctx, enrollment, "workflow no longer exists")
		}
		return false, err
	}
	if wf.Status != models.WorkflowStatusActive {
		// Paused or draft workflows hold their enrollments in place; the
		// claim's lease rechecks them after the backoff.
		return false, nil
	}

	if enrollment.CurrentStepIndex >= len(wf.Steps) {
		enrollment.Status = models.EnrollmentStatusCompleted
		if err := e.store.UpdateEnrollment(ctx, enrollment); err != nil {
			return false, err
		}
		if err := e.store.IncrementWorkflowCompleted(ctx, wf.ID); err != nil {
			log.Warn("failed to bump completed count for workflow %s: %v", wf.ID, err)
		}
		log.Success("enrollment %s completed workflow %s", enrollment.ID, wf.Name)
		return true, nil
	}

	contact, err := e.store.GetContact(ctx, enrollment.ContactID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, e.cancel(ctx, enrollment, "contact no longer exists")
		}
		return false, err
	}

	step := wf.Steps[enrollment.CurrentStepIndex]
	now := e.now()
	next := now

	switch step.Kind {
	case models.StepKindEmail:
		if err := e.sendStepEmail(ctx, wf, &step, contact); err != nil {
			return false, err
		}
	case models.StepKindWait:
		next = now.Add(step.Unit.Duration(step.Duration))
	default:
		return false, fmt.Errorf("unknown step kind %q", step.Kind)
	}

	enrollment.History = append(enrollment.History, models.StepExecution{
		StepID:     step.ID,
		ExecutedAt: now,
		Outcome:    "success",
	})
	enrollment.CurrentStepIndex++
	enrollment.NextExecutionAt = next
	if err := e.store.UpdateEnrollment(ctx, enrollment); err != nil {
		return false, err
	}
	return true, nil
}

// sendStepEmail resolves the step's template, personalizes it for the
// contact, and enqueues the job. Missing template fields fall back to
// placeholder content rather than stalling the sequence.
func (e *Engine) sendStepEmail(ctx context.Context, wf *models.Workflow, step *models.WorkflowStep, contact *models.Contact) error {
	subject := step.Subject
	html := ""
	if step.TemplateID != "" {
		tpl, err := e.store.GetTemplate(ctx, step.TemplateID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		if tpl != nil {
			if subject == "" {
				subject = tpl.Subject
			}
			html = tpl.HTML
		}
	}
	if subject == "" {
		subject = defaultSubject
	}
	if html == "" {
		html = defaultHTML
	}

	vars := map[string]string{
		"name":      contact.DisplayName(),
		"firstName": contact.FirstName,
		"email":     contact.Email,
	}
	if len(contact.Properties) > 0 {
		var props map[string]any
		if err := json.Unmarshal(contact.Properties, &props); err == nil {
			for k, v := range props {
				if s, ok := v.(string); ok {
					if _, reserved := vars[k]; !reserved {
						vars[k] = s
					}
				}
			}
		}
	}
	subject = utils.ReplaceVariables(subject, vars)
	html = utils.ReplaceVariables(html, vars)

	return e.queue.Enqueue(ctx, &models.EmailJob{
		TeamID:     wf.TeamID,
		WorkflowID: wf.ID,
		To:         contact.Email,
		Subject:    subject,
		HTML:       html,
	})
}

func (e *Engine) cancel(ctx context.Context, enrollment *models.WorkflowEnrollment, reason string) error {
	enrollment.Status = models.EnrollmentStatusCancelled
	enrollment.History = append(enrollment.History, models.StepExecution{
		ExecutedAt: e.now(),
		Outcome:    "cancelled",
		Error:      reason,
	})
	log.Warn("enrollment %s cancelled: %s", enrollment.ID, reason)
	return e.store.UpdateEnrollment(ctx, enrollment)
}
