// Package services provides the business logic between the API surface and
// the repositories: job enqueueing, the permission poller, maintenance
// handlers, the session runner and the status projector.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mzxrai/memva-sub002/internal/db/models"
	"github.com/mzxrai/memva-sub002/internal/db/repos"
)

// Known job types. The registry accepts others for forward compatibility
// but these are the ones the application registers handlers for.
const (
	// JobTypeSessionRunner runs an agent conversation for a session
	JobTypeSessionRunner = "session-runner"
	// JobTypeMaintenance runs a housekeeping operation
	JobTypeMaintenance = "maintenance"
)

// Job provides business logic for job operations
type Job struct {
	jobRepo *repos.JobRepository
}

// NewJobService creates a new job service instance
func NewJobService(jobRepo *repos.JobRepository) *Job {
	return &Job{jobRepo: jobRepo}
}

// Enqueue validates and queues a new job. Unknown types are accepted; they
// stay pending until a worker with a matching handler claims them.
func (s *Job) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, priority int) (*models.Job, error) {
	if jobType == "" {
		return nil, fmt.Errorf("job type is required")
	}

	job := &models.Job{
		Type:     jobType,
		Payload:  payload,
		Priority: priority,
	}
	if err := s.jobRepo.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// GetByID retrieves a job by its ID
func (s *Job) GetByID(ctx context.Context, id uint) (*models.Job, error) {
	return s.jobRepo.GetByID(ctx, id)
}

// List retrieves jobs matching the filter
func (s *Job) List(ctx context.Context, filter repos.JobFilter, opts *models.ListOptions) ([]models.Job, error) {
	return s.jobRepo.List(ctx, filter, opts)
}

// Stats returns per-status job counts for observability
func (s *Job) Stats(ctx context.Context) (map[models.JobStatus]int64, error) {
	return s.jobRepo.Stats(ctx)
}

// Cancel cancels a pending or active job. Running handlers observe the
// cancellation cooperatively through the lock heartbeat.
func (s *Job) Cancel(ctx context.Context, id uint) error {
	return s.jobRepo.Cancel(ctx, id)
}

// EnqueueMaintenance queues a maintenance job for the given operation.
func (s *Job) EnqueueMaintenance(ctx context.Context, payload MaintenancePayload) (*models.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal maintenance payload: %w", err)
	}
	return s.Enqueue(ctx, JobTypeMaintenance, raw, 0)
}

// EnqueueSessionRun queues a session-runner job for a session and prompt.
func (s *Job) EnqueueSessionRun(ctx context.Context, sessionID, prompt string, priority int) (*models.Job, error) {
	raw, err := json.Marshal(SessionRunPayload{SessionID: sessionID, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session-run payload: %w", err)
	}
	return s.Enqueue(ctx, JobTypeSessionRunner, raw, priority)
}

// CleanupCutoff converts a retention expressed in days to an absolute cutoff.
func CleanupCutoff(olderThanDays int) time.Time {
	return time.Now().AddDate(0, 0, -olderThanDays)
}
