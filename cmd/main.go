package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"tern/internal/campaigns"
	"tern/internal/config"
	"tern/internal/db"
	"tern/internal/queue"
	"tern/internal/relay"
	"tern/internal/store/postgres"
	"tern/internal/tasks"
	"tern/internal/tracking"
	"tern/internal/utils/crypto"
	"tern/internal/utils/logger"
	"tern/internal/workflows"

	"github.com/joho/godotenv"
)

func main() {
	logger := logger.New("tern")

	// check if .env file exists
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		logger.Info("No .env file found, skipping environment variable loading")
	} else {
		logger.Info("Loading environment variables from .env file")
		if err := godotenv.Load(); err != nil {
			log.Fatalf("Failed to load environment variables: %v", err)
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize the credential sealing key
	if err := crypto.InitializeKey(cfg.Crypto.SecretKey); err != nil {
		log.Fatalf("Failed to initialize encryption key: %v", err)
	}

	// Connect to database
	if err := db.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", err)
		}
	}()

	st := postgres.New(db.GetDB())

	// Wire the delivery core
	pool := relay.NewPool(st, relay.SMTPProbe)
	q := queue.New(st)
	worker := queue.NewWorker(st, pool, relay.SMTPSender{}, tracking.New(cfg.Server.BaseURL))
	dispatcher := campaigns.NewDispatcher(st, q)
	campaignScheduler := campaigns.NewScheduler(st, dispatcher)
	engine := workflows.NewEngine(st, q, cfg.Mailer.StepRetryBackoff)

	// Initialize task handlers
	taskHandler := tasks.NewTaskHandler(
		worker,
		dispatcher,
		campaignScheduler,
		engine,
		cfg.Mailer.BatchLimit,
		cfg.Mailer.EnrollmentLimit,
	)

	// Initialize task server
	taskServer := tasks.NewServer(
		cfg.Redis.Addr,
		cfg.Redis.Username,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Worker.Concurrency,
		taskHandler,
	)

	// Start task server
	if err := taskServer.Start(); err != nil {
		log.Fatalf("Failed to start task server: %v", err)
	}

	// Initialize task scheduler
	taskScheduler := tasks.NewScheduler(
		cfg.Redis.Addr,
		cfg.Redis.Username,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)

	// Start task scheduler
	go func() {
		if err := taskScheduler.Start(); err != nil {
			logger.Error("Task scheduler error", err)
		}
	}()

	logger.Success("delivery core started")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	taskScheduler.Stop()
	taskServer.Shutdown()
}
