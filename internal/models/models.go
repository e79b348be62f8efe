package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// MaxJobAttempts caps delivery attempts per email job. A job whose
// RetryCount reaches the cap stays failed and is never selected again.
const MaxJobAttempts = 3

// RecipientsSnapshot records which contacts and groups a campaign was
// aimed at when its recipients were attached. The resolved email list
// lives in the CampaignRecipient ledger; the snapshot is kept for audit.
type RecipientsSnapshot struct {
	ContactIDs     pq.StringArray `gorm:"type:text[]" json:"contactIds"`
	GroupIDs       pq.StringArray `gorm:"type:text[]" json:"groupIds"`
	ExcludedEmails pq.StringArray `gorm:"type:text[]" json:"excludedEmails"`
	CapturedAt     *time.Time     `json:"capturedAt"`
}

type Campaign struct {
	Base
	TeamID          string             `gorm:"type:uuid;not null;index" json:"teamId" validate:"required,uuid"`
	Name            string             `gorm:"not null" json:"name"`
	Subject         string             `gorm:"not null" json:"subject" validate:"required"`
	HTML            string             `gorm:"not null" json:"html" validate:"required"`
	Footer          string             `json:"footer"`
	Status          CampaignStatus     `gorm:"not null;default:'draft';index" json:"status"`
	Source          CampaignSource     `gorm:"not null;default:'manual'" json:"source"`
	Paused          bool               `gorm:"not null;default:false" json:"paused"`
	ScheduledAt     *time.Time         `gorm:"index" json:"scheduledAt"`
	Recurrence      RecurrenceKind     `gorm:"not null;default:'one-time'" json:"recurrence"`
	Timezone        string             `gorm:"not null;default:'UTC'" json:"timezone"`
	Snapshot        RecipientsSnapshot `gorm:"embedded;embeddedPrefix:snapshot_" json:"snapshot"`
	TotalRecipients int                `gorm:"not null;default:0" json:"totalRecipients"`
	SuccessCount    int                `gorm:"not null;default:0" json:"successCount"`
	FailureCount    int                `gorm:"not null;default:0" json:"failureCount"`
	OpenCount       int                `gorm:"not null;default:0" json:"openCount"`
	ClickCount      int                `gorm:"not null;default:0" json:"clickCount"`
	LastOpenedAt    *time.Time         `json:"lastOpenedAt"`
	SentAt          *time.Time         `json:"sentAt"`
	FailedAt        *time.Time         `json:"failedAt"`
	FailedReason    string             `json:"failedReason"`
}

// Recurring reports whether the campaign re-arms after a send cycle.
func (c *Campaign) Recurring() bool {
	return c.Recurrence == RecurrenceDaily || c.Recurrence == RecurrenceWeekly
}

// CampaignRecipient is one row of a campaign's recipient ledger: who
// should receive the campaign and how their delivery ended. It is
// distinct from the EmailJob attempt log, which tracks what has been
// attempted on the wire.
type CampaignRecipient struct {
	Base
	CampaignID   string          `gorm:"type:uuid;not null;index" json:"campaignId"`
	Email        string          `gorm:"not null" json:"email"`
	Status       RecipientStatus `gorm:"not null;default:'pending';index" json:"status"`
	SentAt       *time.Time      `json:"sentAt"`
	FailedReason string          `json:"failedReason"`
}

// EmailJob is one durable send attempt record. Subject and HTML are
// copied in at enqueue time; later edits to the source campaign or
// template must not affect jobs already queued.
type EmailJob struct {
	Base
	TeamID     string     `gorm:"type:uuid;not null;index" json:"teamId" validate:"required,uuid"`
	CampaignID string     `gorm:"type:uuid;default:NULL;index" json:"campaignId"`
	WorkflowID string     `gorm:"type:uuid;default:NULL" json:"workflowId"`
	To         string     `gorm:"not null" json:"to" validate:"required,email"`
	Subject    string     `json:"subject"`
	HTML       string     `json:"html"`
	Status     JobStatus  `gorm:"not null;default:'queued';index" json:"status"`
	RetryCount int        `gorm:"not null;default:0" json:"retryCount"`
	LastError  string     `json:"lastError"`
	QueuedAt   time.Time  `gorm:"not null;index" json:"queuedAt"`
	SentAt     *time.Time `json:"sentAt"`
	FailedAt   *time.Time `json:"failedAt"`
}

// Retryable reports whether a failed job is still under the attempt cap.
func (j *EmailJob) Retryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < MaxJobAttempts
}

// RelayCredential is one verified outbound SMTP identity owned by a
// tenant. Username and Password are stored encrypted; the relay pool
// decrypts them on selection.
type RelayCredential struct {
	Base
	TeamID     string    `gorm:"type:uuid;not null;index" json:"teamId"`
	Host       string    `gorm:"not null" json:"host"`
	Port       int       `gorm:"not null" json:"port"`
	Secure     bool      `gorm:"not null;default:true" json:"secure"`
	Username   string    `gorm:"not null" json:"-"`
	Password   string    `gorm:"not null" json:"-"`
	Verified   bool      `gorm:"not null;default:false" json:"verified"`
	UsageCount int64     `gorm:"not null;default:0" json:"usageCount"`
	AddedAt    time.Time `gorm:"not null" json:"addedAt"`
}

// WorkflowStep is one ordered step of a workflow definition.
type WorkflowStep struct {
	ID         string   `json:"id"`
	Kind       StepKind `json:"kind"`
	TemplateID string   `json:"templateId,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Duration   int      `json:"duration,omitempty"`
	Unit       WaitUnit `json:"unit,omitempty"`
}

// WorkflowStats aggregates enrollment outcomes per workflow.
type WorkflowStats struct {
	Enrolled  int `gorm:"not null;default:0" json:"enrolled"`
	Completed int `gorm:"not null;default:0" json:"completed"`
}

type Workflow struct {
	Base
	TeamID      string         `gorm:"type:uuid;not null;index" json:"teamId"`
	Name        string         `gorm:"not null" json:"name" validate:"required,min=2"`
	Status      WorkflowStatus `gorm:"not null;default:'draft'" json:"status"`
	TriggerType TriggerType    `gorm:"not null;default:'manual'" json:"triggerType"`
	SegmentID   *string        `gorm:"type:uuid;default:NULL" json:"segmentId"`
	Steps       []WorkflowStep `gorm:"serializer:json;type:jsonb" json:"steps"`
	Stats       WorkflowStats  `gorm:"embedded;embeddedPrefix:stats_" json:"stats"`
}

// StepExecution is one history entry of an enrollment.
type StepExecution struct {
	StepID     string    `json:"stepId"`
	ExecutedAt time.Time `json:"executedAt"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

// WorkflowEnrollment tracks one contact's progress through one workflow.
// At most one active enrollment may exist per (workflow, contact) pair;
// the engine enforces this at creation time.
type WorkflowEnrollment struct {
	Base
	TeamID           string           `gorm:"type:uuid;not null;index" json:"teamId"`
	WorkflowID       string           `gorm:"type:uuid;not null;index" json:"workflowId"`
	ContactID        string           `gorm:"type:uuid;not null;index" json:"contactId"`
	CurrentStepIndex int              `gorm:"not null;default:0" json:"currentStepIndex"`
	Status           EnrollmentStatus `gorm:"not null;default:'active';index" json:"status"`
	NextExecutionAt  time.Time        `gorm:"not null;index" json:"nextExecutionAt"`
	History          []StepExecution  `gorm:"serializer:json;type:jsonb" json:"history"`
}

// Contact is the minimal recipient surface the core consumes. Contact
// management (tags, segments, imports) lives outside the core.
// Properties holds free-form custom fields; string values there are
// available as personalization tokens in workflow emails.
type Contact struct {
	Base
	TeamID     string         `gorm:"type:uuid;not null;index" json:"teamId"`
	Email      string         `gorm:"not null" json:"email" validate:"required,email"`
	FirstName  string         `json:"firstName"`
	LastName   string         `json:"lastName"`
	Properties datatypes.JSON `gorm:"type:jsonb" json:"properties"`
}

// DisplayName returns the contact's name for personalization tokens,
// falling back to "Friend" when no name is on file.
func (c *Contact) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if name == "" {
		return "Friend"
	}
	return name
}

// Template is the minimal template surface the core consumes at workflow
// step execution time. Template CRUD lives outside the core.
type Template struct {
	Base
	TeamID  string `gorm:"type:uuid;not null;index" json:"teamId"`
	Name    string `gorm:"not null" json:"name"`
	Subject string `gorm:"not null" json:"subject"`
	HTML    string `gorm:"not null" json:"html"`
}
