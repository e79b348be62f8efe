package tasks

import (
	"fmt"

	"tern/internal/utils/logger"

	"github.com/hibiken/asynq"
)

// Server handles task processing
type Server struct {
	server  *asynq.Server
	handler *TaskHandler
	logger  *logger.Logger
}

// NewServer creates a new task processing server
func NewServer(redisAddr, username, password string, db, concurrency int, handler *TaskHandler) *Server {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Username: username,
			Password: password,
			DB:       db,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			StrictPriority: true,
		},
	)

	return &Server{
		server:  server,
		handler: handler,
		logger:  logger.New("TASKS"),
	}
}

// Start starts the task processing server
func (s *Server) Start() error {
	mux := asynq.NewServeMux()

	mux.HandleFunc(TaskTypeQueueTick, s.handler.HandleQueueTick)
	mux.HandleFunc(TaskTypeCampaignSchedule, s.handler.HandleCampaignSchedule)
	mux.HandleFunc(TaskTypeWorkflowTick, s.handler.HandleWorkflowTick)

	s.logger.Info("starting task processing server")

	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the task processing server
func (s *Server) Shutdown() {
	s.logger.Info("shutting down task processing server")
	s.server.Shutdown()
}
