package tasks

import "time"

// Task Types
const (
	// Queue related tasks
	TaskTypeQueueTick = "queue:tick"

	// Campaign related tasks
	TaskTypeCampaignSchedule = "campaign:schedule"

	// Workflow related tasks
	TaskTypeWorkflowTick = "workflow:tick"
)

// Task Queues
const (
	QueueCritical = "critical" // For time-sensitive tasks like email delivery
	QueueDefault  = "default"  // For regular tasks
	QueueLow      = "low"      // For background tasks
)

// Task Timeouts
const (
	TimeoutShort  = 1 * time.Minute
	TimeoutMedium = 5 * time.Minute
)

// Task Retry Settings
const (
	RetryDefault = 3
	RetryMin     = 1
)
