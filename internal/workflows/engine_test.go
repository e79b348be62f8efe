package workflows

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"tern/internal/models"
	"tern/internal/queue"
	"tern/internal/store/memory"
)

const testTeamID = "55555555-5555-5555-5555-555555555555"

type engineRig struct {
	store  *memory.Store
	engine *Engine
	clock  *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newEngineRig(t *testing.T) *engineRig {
	t.Helper()
	st := memory.New()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	q := queue.New(st).WithClock(clock.Now)
	engine := NewEngine(st, q, time.Hour).WithClock(clock.Now)
	return &engineRig{store: st, engine: engine, clock: clock}
}

func (r *engineRig) createWorkflow(t *testing.T, status models.WorkflowStatus, steps ...models.WorkflowStep) *models.Workflow {
	t.Helper()
	wf := &models.Workflow{
		TeamID: testTeamID,
		Name:   "onboarding",
		Status: status,
		Steps:  steps,
	}
	require.NoError(t, r.store.CreateWorkflow(context.Background(), wf))
	return wf
}

func (r *engineRig) createContact(t *testing.T, firstName string) *models.Contact {
	t.Helper()
	c := &models.Contact{
		TeamID:    testTeamID,
		Email:     "ada@example.com",
		FirstName: firstName,
	}
	require.NoError(t, r.store.CreateContact(context.Background(), c))
	return c
}

func (r *engineRig) activeEnrollments(t *testing.T) []models.WorkflowEnrollment {
	t.Helper()
	due, err := r.store.DueEnrollments(context.Background(), 100, r.clock.Now().AddDate(10, 0, 0))
	require.NoError(t, err)
	return due
}

func emailStep(id, subject, templateID string) models.WorkflowStep {
	return models.WorkflowStep{ID: id, Kind: models.StepKindEmail, Subject: subject, TemplateID: templateID}
}

func waitStep(id string, n int, unit models.WaitUnit) models.WorkflowStep {
	return models.WorkflowStep{ID: id, Kind: models.StepKindWait, Duration: n, Unit: unit}
}

func TestEnroll_CreatesActiveEnrollmentAtStepZero(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	wf := rig.createWorkflow(t, models.WorkflowStatusActive, emailStep("s1", "Welcome", ""))
	contact := rig.createContact(t, "Ada")

	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, wf.ID, contact.ID))

	enrollments := rig.activeEnrollments(t)
	require.Len(t, enrollments, 1)
	assert.Equal(t, 0, enrollments[0].CurrentStepIndex)
	assert.Equal(t, models.EnrollmentStatusActive, enrollments[0].Status)
	assert.Equal(t, rig.clock.Now(), enrollments[0].NextExecutionAt)

	got, err := rig.store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stats.Enrolled)
}

func TestEnroll_DoubleEnrollmentIsSilentNoOp(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	wf := rig.createWorkflow(t, models.WorkflowStatusActive, emailStep("s1", "Welcome", ""))
	contact := rig.createContact(t, "Ada")

	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, wf.ID, contact.ID))
	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, wf.ID, contact.ID))

	assert.Len(t, rig.activeEnrollments(t), 1)
}

func TestEnroll_SkipsInactiveMissingOrForeignWorkflow(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()
	contact := rig.createContact(t, "Ada")

	draft := rig.createWorkflow(t, models.WorkflowStatusDraft, emailStep("s1", "Welcome", ""))
	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, draft.ID, contact.ID))

	foreign := rig.createWorkflow(t, models.WorkflowStatusActive, emailStep("s1", "Welcome", ""))
	foreign.TeamID = "66666666-6666-6666-6666-666666666666"
	require.NoError(t, rig.store.UpdateWorkflow(ctx, foreign))
	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, foreign.ID, contact.ID))

	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, "77777777-7777-7777-7777-777777777777", contact.ID))

	assert.Empty(t, rig.activeEnrollments(t))
}

func TestProcessDueEnrollments_OneStepPerTick(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	wf := rig.createWorkflow(t, models.WorkflowStatusActive,
		emailStep("s1", "Welcome {{name}}", ""),
		waitStep("s2", 1, models.WaitUnitDays),
		emailStep("s3", "Still there?", ""),
	)
	contact := rig.createContact(t, "Ada")
	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, wf.ID, contact.ID))

	// Tick 1: the first email goes out, next execution immediate.
	advanced, err := rig.engine.ProcessDueEnrollments(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	jobs, err := rig.store.DueJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Welcome Ada", jobs[0].Subject)
	assert.Equal(t, wf.ID, jobs[0].WorkflowID)

	// Tick 2: the wait step schedules the enrollment a day out, so an
	// immediate third tick finds nothing due.
	advanced, err = rig.engine.ProcessDueEnrollments(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	advanced, err = rig.engine.ProcessDueEnrollments(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, advanced)

	// After the wait elapses the second email goes out.
	rig.clock.Advance(24 * time.Hour)
	advanced, err = rig.engine.ProcessDueEnrollments(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	jobs, err = rig.store.DueJobs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	// One more tick completes the enrollment.
	advanced, err = rig.engine.ProcessDueEnrollments(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	got, err := rig.store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stats.Completed)
	assert.Empty(t, rig.activeEnrollments(t))
}

func TestProcessDueEnrollments_EmailStepUsesTemplate(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	tpl := &models.Template{
		TeamID:  testTeamID,
		Name:    "welcome",
		Subject: "Hello {{firstName}}",
		HTML:    "<p>Hi {{name}}, confirm {{email}}</p>",
	}
	require.NoError(t, rig.store.CreateTemplate(ctx, tpl))

	wf := rig.createWorkflow(t, models.WorkflowStatusActive, emailStep("s1", "", tpl.ID))
	contact := rig.createContact(t, "Ada")
	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, wf.ID, contact.ID))

	_, err := rig.engine.ProcessDueEnrollments(ctx, 10)
	require.NoError(t, err)

	jobs, err := rig.store.DueJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Hello Ada", jobs[0].Subject)
	assert.Equal(t, "<p>Hi Ada, confirm ada@example.com</p>", jobs[0].HTML)
}

func TestProcessDueEnrollments_CustomPropertiesBecomeTokens(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	tpl := &models.Template{
		TeamID:  testTeamID,
		Name:    "welcome",
		Subject: "Hi {{name}} from {{company}}",
		HTML:    "<p>{{company}}</p>",
	}
	require.NoError(t, rig.store.CreateTemplate(ctx, tpl))

	wf := rig.createWorkflow(t, models.WorkflowStatusActive, emailStep("s1", "", tpl.ID))
	contact := &models.Contact{
		TeamID:     testTeamID,
		Email:      "ada@example.com",
		FirstName:  "Ada",
		Properties: datatypes.JSON(`{"company":"Acme","seats":3,"name":"never-used"}`),
	}
	require.NoError(t, rig.store.CreateContact(ctx, contact))
	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, wf.ID, contact.ID))

	_, err := rig.engine.ProcessDueEnrollments(ctx, 10)
	require.NoError(t, err)

	jobs, err := rig.store.DueJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	// Built-in tokens win over custom properties with the same name.
	assert.Equal(t, "Hi Ada from Acme", jobs[0].Subject)
	assert.Equal(t, "<p>Acme</p>", jobs[0].HTML)
}

func TestProcessDueEnrollments_MissingTemplateFallsBack(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	wf := rig.createWorkflow(t, models.WorkflowStatusActive, emailStep("s1", "", ""))
	contact := rig.createContact(t, "")
	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, wf.ID, contact.ID))

	_, err := rig.engine.ProcessDueEnrollments(ctx, 10)
	require.NoError(t, err)

	jobs, err := rig.store.DueJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "(No Subject)", jobs[0].Subject)
	assert.Equal(t, "<p>No Content</p>", jobs[0].HTML)
}

func TestProcessDueEnrollments_MissingContactCancels(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	wf := rig.createWorkflow(t, models.WorkflowStatusActive, emailStep("s1", "Welcome", ""))
	enrollment := &models.WorkflowEnrollment{
		TeamID:          testTeamID,
		WorkflowID:      wf.ID,
		ContactID:       "88888888-8888-8888-8888-888888888888",
		Status:          models.EnrollmentStatusActive,
		NextExecutionAt: rig.clock.Now(),
	}
	require.NoError(t, rig.store.CreateEnrollment(ctx, enrollment))

	advanced, err := rig.engine.ProcessDueEnrollments(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, advanced, "a cancellation is not an advance")
	assert.Empty(t, rig.activeEnrollments(t))

	jobs, err := rig.store.DueJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs, "a cancelled enrollment sends nothing")
}

func TestProcessDueEnrollments_PausedWorkflowHoldsEnrollment(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	wf := rig.createWorkflow(t, models.WorkflowStatusActive, emailStep("s1", "Welcome", ""))
	contact := rig.createContact(t, "Ada")
	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, wf.ID, contact.ID))

	wf.Status = models.WorkflowStatusPaused
	require.NoError(t, rig.store.UpdateWorkflow(ctx, wf))

	advanced, err := rig.engine.ProcessDueEnrollments(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, advanced)

	jobs, err := rig.store.DueJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	enrollments := rig.activeEnrollments(t)
	require.Len(t, enrollments, 1)
	assert.Equal(t, 0, enrollments[0].CurrentStepIndex, "a held enrollment does not advance")
}

func TestProcessDueEnrollments_StepErrorBacksOff(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	// An unknown step kind forces an execution error.
	wf := rig.createWorkflow(t, models.WorkflowStatusActive, models.WorkflowStep{ID: "s1", Kind: models.StepKind("webhook")})
	contact := rig.createContact(t, "Ada")
	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, wf.ID, contact.ID))

	advanced, err := rig.engine.ProcessDueEnrollments(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, advanced)

	enrollments := rig.activeEnrollments(t)
	require.Len(t, enrollments, 1)
	assert.Equal(t, rig.clock.Now().Add(time.Hour), enrollments[0].NextExecutionAt)
	assert.Equal(t, 0, enrollments[0].CurrentStepIndex)

	// Not due again until the backoff elapses.
	due, err := rig.store.DueEnrollments(ctx, 10, rig.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestProcessDueEnrollments_ClaimedEnrollmentIsSkipped(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	wf := rig.createWorkflow(t, models.WorkflowStatusActive, emailStep("s1", "Welcome", ""))
	contact := rig.createContact(t, "Ada")
	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, wf.ID, contact.ID))

	// A concurrent engine tick leased the enrollment first.
	enrollment := rig.activeEnrollments(t)[0]
	claimed, err := rig.store.ClaimEnrollment(ctx, enrollment.ID, enrollment.CurrentStepIndex, enrollment.NextExecutionAt, rig.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, claimed)

	advanced, err := rig.engine.ProcessDueEnrollments(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, advanced)

	jobs, err := rig.store.DueJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs, "the losing tick must not execute the step")

	// The winner's lease also invalidates any further stale claims.
	claimed, err = rig.store.ClaimEnrollment(ctx, enrollment.ID, enrollment.CurrentStepIndex, enrollment.NextExecutionAt, rig.clock.Now())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestProcessDueEnrollments_ConcurrentTicksSendStepOnce(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	wf := rig.createWorkflow(t, models.WorkflowStatusActive,
		emailStep("s1", "Welcome", ""),
		waitStep("s2", 1, models.WaitUnitDays),
	)
	contact := rig.createContact(t, "Ada")
	require.NoError(t, rig.engine.Enroll(ctx, testTeamID, wf.ID, contact.ID))

	second := NewEngine(rig.store, queue.New(rig.store).WithClock(rig.clock.Now), time.Hour).WithClock(rig.clock.Now)

	var wg sync.WaitGroup
	for _, engine := range []*Engine{rig.engine, second} {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			_, err := e.ProcessDueEnrollments(ctx, 10)
			assert.NoError(t, err)
		}(engine)
	}
	wg.Wait()

	jobs, err := rig.store.DueJobs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "the email step must fire exactly once")
}
