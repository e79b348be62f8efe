package tasks

import (
	"fmt"

	"tern/internal/utils/logger"

	"github.com/hibiken/asynq"
)

// Scheduler handles periodic task scheduling
type Scheduler struct {
	scheduler *asynq.Scheduler
	logger    *logger.Logger
}

// NewScheduler creates a new task scheduler
func NewScheduler(redisAddr, username, password string, db int) *Scheduler {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Username: username,
			Password: password,
			DB:       db,
		},
		&asynq.SchedulerOpts{},
	)

	return &Scheduler{
		scheduler: scheduler,
		logger:    logger.New("SCHEDULER"),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	if err := s.registerTasks(); err != nil {
		return fmt.Errorf("failed to register tasks: %w", err)
	}

	s.logger.Info("starting task scheduler")
	return s.scheduler.Run()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.scheduler.Shutdown()
	s.logger.Info("task scheduler stopped")
}

// registerTasks registers all periodic tasks
func (s *Scheduler) registerTasks() error {
	// Queue processing (every minute)
	entryID, err := s.scheduler.Register("*/1 * * * *", asynq.NewTask(
		TaskTypeQueueTick,
		nil,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(RetryMin),
		asynq.Timeout(TimeoutMedium),
	))
	if err != nil {
		return fmt.Errorf("failed to register queue tick: %w", err)
	}
	s.logger.Debug("registered queue tick %s", entryID)

	// Campaign scheduling (every minute)
	entryID, err = s.scheduler.Register("*/1 * * * *", asynq.NewTask(
		TaskTypeCampaignSchedule,
		nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(RetryMin),
		asynq.Timeout(TimeoutMedium),
	))
	if err != nil {
		return fmt.Errorf("failed to register campaign scheduler: %w", err)
	}
	s.logger.Debug("registered campaign scheduler %s", entryID)

	// Workflow processing (every minute)
	entryID, err = s.scheduler.Register("*/1 * * * *", asynq.NewTask(
		TaskTypeWorkflowTick,
		nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(RetryMin),
		asynq.Timeout(TimeoutMedium),
	))
	if err != nil {
		return fmt.Errorf("failed to register workflow tick: %w", err)
	}
	s.logger.Debug("registered workflow tick %s", entryID)

	s.logger.Info("registered all periodic tasks")
	return nil
}
