package tasks

import (
	"context"

	"tern/internal/campaigns"
	"tern/internal/queue"
	"tern/internal/utils/logger"
	"tern/internal/workflows"

	"github.com/hibiken/asynq"
)

// TaskHandler wires the periodic ticks to the delivery core. Every
// handler is safe to run on multiple instances at once: the underlying
// operations claim their rows with conditional updates, so concurrent
// ticks simply split the work.
type TaskHandler struct {
	worker     *queue.Worker
	dispatcher *campaigns.Dispatcher
	scheduler  *campaigns.Scheduler
	engine     *workflows.Engine

	batchLimit      int
	enrollmentLimit int

	log *logger.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(
	w *queue.Worker,
	d *campaigns.Dispatcher,
	s *campaigns.Scheduler,
	e *workflows.Engine,
	batchLimit, enrollmentLimit int,
) *TaskHandler {
	return &TaskHandler{
		worker:          w,
		dispatcher:      d,
		scheduler:       s,
		engine:          e,
		batchLimit:      batchLimit,
		enrollmentLimit: enrollmentLimit,
		log:             logger.New("TASKS"),
	}
}

// HandleQueueTick drains one batch of due email jobs, then sweeps
// sending campaigns whose jobs have all settled.
func (h *TaskHandler) HandleQueueTick(ctx context.Context, t *asynq.Task) error {
	processed, failed := h.worker.ProcessBatch(ctx, h.batchLimit)
	if processed > 0 || failed > 0 {
		h.log.Info("queue tick delivered %d, failed %d", processed, failed)
	}
	return h.dispatcher.Finalize(ctx)
}

// HandleCampaignSchedule fires campaigns whose scheduled time has passed.
func (h *TaskHandler) HandleCampaignSchedule(ctx context.Context, t *asynq.Task) error {
	return h.scheduler.RunScheduledCampaigns(ctx)
}

// HandleWorkflowTick advances due workflow enrollments by one step each.
func (h *TaskHandler) HandleWorkflowTick(ctx context.Context, t *asynq.Task) error {
	advanced, err := h.engine.ProcessDueEnrollments(ctx, h.enrollmentLimit)
	if err != nil {
		return err
	}
	if advanced > 0 {
		h.log.Info("workflow tick advanced %d enrollments", advanced)
	}
	return nil
}
