package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mzxrai/memva-sub002/internal/api/v1/handlers"
	"github.com/mzxrai/memva-sub002/internal/api/v1/routes"
	"github.com/mzxrai/memva-sub002/internal/app"
	"github.com/mzxrai/memva-sub002/internal/config"
	"github.com/mzxrai/memva-sub002/internal/db"
	"github.com/mzxrai/memva-sub002/internal/db/repos"
	"github.com/mzxrai/memva-sub002/internal/logger"
	"github.com/mzxrai/memva-sub002/internal/queue"
	"github.com/mzxrai/memva-sub002/internal/services"
)

// maintenanceInterval is how often the periodic housekeeping jobs are
// enqueued. The handlers themselves run through the ordinary job queue.
const maintenanceInterval = time.Hour

func main() {
	// .env is optional outside development
	_ = godotenv.Load()

	logger.InitializeAndConfigure()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	database, err := db.New(db.Options{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	jobRepo := repos.NewJobRepository(database)
	permissionRepo := repos.NewPermissionRepository(database)
	sessionRepo := repos.NewSessionRepository(database)

	jobService := services.NewJobService(jobRepo)
	permissionService := services.NewPermissionService(permissionRepo)
	maintenance := services.NewMaintenanceService(database, db.Options{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
	}, jobRepo, permissionRepo)
	sessionRunner := services.NewSessionRunner(sessionRepo, permissionRepo,
		&services.CommandAgentRunner{Command: cfg.AgentCommand})

	registry := queue.NewRegistry(services.JobTypeSessionRunner, services.JobTypeMaintenance)
	if err := registry.Register(services.JobTypeMaintenance, maintenance.HandleJob); err != nil {
		logger.Fatalf("Failed to register maintenance handler: %v", err)
	}
	if cfg.AgentCommand != "" {
		if err := registry.Register(services.JobTypeSessionRunner, sessionRunner.HandleJob); err != nil {
			logger.Fatalf("Failed to register session-runner handler: %v", err)
		}
	} else {
		logger.Warn("AGENT_COMMAND not set, session-runner jobs will stay queued")
	}

	worker := queue.NewWorker(jobRepo, registry, queue.WorkerConfig{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.PollInterval,
		LockDuration: cfg.LockDuration,
		RetryBackoff: cfg.RetryBackoff,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		scheduleMaintenance(ctx, jobService)
	}()

	fiberApp := app.NewApp(routes.Handlers{
		Job:        handlers.NewJobHandler(jobService),
		Permission: handlers.NewPermissionHandler(permissionService),
		Session:    handlers.NewSessionHandler(sessionRepo, permissionService),
	})

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down API server...")
		if err := fiberApp.Shutdown(); err != nil {
			logger.Errorf("API server shutdown error: %v", err)
		}
	}()

	logger.Infof("Starting API server on port %d", cfg.ServerPort)
	if err := fiberApp.Listen(fmt.Sprintf(":%d", cfg.ServerPort)); err != nil {
		logger.Errorf("API server stopped: %v", err)
		stop()
	}

	wg.Wait()
	os.Exit(0)
}

// scheduleMaintenance periodically enqueues the housekeeping jobs: the
// stale-permission sweep and terminal-job cleanup.
func scheduleMaintenance(ctx context.Context, jobs *services.Job) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, payload := range []services.MaintenancePayload{
				{Operation: services.OpPermissionCleanup},
				{Operation: services.OpQueueCleanup},
			} {
				if _, err := jobs.EnqueueMaintenance(ctx, payload); err != nil {
					logger.Errorf("Failed to enqueue %s job: %v", payload.Operation, err)
				}
			}
		}
	}
}
