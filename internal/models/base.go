package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base contains common columns for all tables
type Base struct {
	ID        string    `gorm:"type:uuid;primary_key" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate will set a UUID rather than numeric ID
func (base *Base) BeforeCreate(tx *gorm.DB) error {
	if base.ID == "" {
		base.ID = uuid.New().String()
	}
	return nil
}

// CampaignStatus Status enums
type CampaignStatus string
type CampaignSource string
type RecurrenceKind string
type JobStatus string
type RecipientStatus string
type WorkflowStatus string
type TriggerType string
type EnrollmentStatus string
type StepKind string
type WaitUnit string

// Campaign status constants
const (
	CampaignStatusDraft   CampaignStatus = "draft"
	CampaignStatusPending CampaignStatus = "pending"
	CampaignStatusSending CampaignStatus = "sending"
	CampaignStatusSent    CampaignStatus = "sent"
	CampaignStatusFailed  CampaignStatus = "failed"
)

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusPending, CampaignStatusSending,
		CampaignStatusSent, CampaignStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a final campaign status.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignStatusSent || s == CampaignStatusFailed
}

// Campaign source constants
const (
	CampaignSourceManual CampaignSource = "manual"
	CampaignSourceQueue  CampaignSource = "queue"
)

// Recurrence constants
const (
	RecurrenceNone   RecurrenceKind = "one-time"
	RecurrenceDaily  RecurrenceKind = "daily"
	RecurrenceWeekly RecurrenceKind = "weekly"
)

// Valid reports whether k is a known recurrence kind.
func (k RecurrenceKind) Valid() bool {
	switch k {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly:
		return true
	default:
		return false
	}
}

// Job status constants
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSent       JobStatus = "sent"
	JobStatusFailed     JobStatus = "failed"
)

// Recipient ledger status constants
const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
)

// Workflow status constants
const (
	WorkflowStatusDraft  WorkflowStatus = "draft"
	WorkflowStatusActive WorkflowStatus = "active"
	WorkflowStatusPaused WorkflowStatus = "paused"
)

// Trigger type constants
const (
	TriggerSegmentEntry TriggerType = "segment-entry"
	TriggerManual       TriggerType = "manual"
)

// Enrollment status constants
const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// Step kind constants
const (
	StepKindEmail StepKind = "email"
	StepKindWait  StepKind = "wait"
)

// Wait unit constants
const (
	WaitUnitMinutes WaitUnit = "minutes"
	WaitUnitHours   WaitUnit = "hours"
	WaitUnitDays    WaitUnit = "days"
)

// Duration converts a wait of n units into a time.Duration.
func (u WaitUnit) Duration(n int) time.Duration {
	switch u {
	case WaitUnitHours:
		return time.Duration(n) * time.Hour
	case WaitUnitDays:
		return time.Duration(n) * 24 * time.Hour
	default:
		return time.Duration(n) * time.Minute
	}
}
