package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mzxrai/memva-sub002/internal/db/models"
)

// ErrNoClaimableJob is returned by ClaimNext when no pending job (or active
// job with an expired lock) is available.
var ErrNoClaimableJob = errors.New("no claimable job")

// ErrInvalidTransition is returned when a lifecycle update targets a job
// that is not in a state the transition is allowed from.
var ErrInvalidTransition = errors.New("invalid job status transition")

// claimAttempts bounds how many candidate rows a single ClaimNext call will
// race for before reporting nothing claimable.
const claimAttempts = 5

// JobFilter narrows List results.
type JobFilter struct {
	Status models.JobStatus
	Type   string
}

// JobRepository provides access to job-related database operations
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue creates a new job in the database. New jobs always start pending
// with zero attempts.
func (r *JobRepository) Enqueue(ctx context.Context, job *models.Job) error {
	job.Status = models.JobStatusPending
	job.Attempts = 0
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID
func (r *JobRepository) GetByID(ctx context.Context, id uint) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ClaimNext atomically claims the next runnable job of one of the given
// types for workerID. Candidates are pending jobs whose backoff window has
// passed plus active jobs whose lock has expired, ordered by priority
// descending then creation time ascending. Jobs of other types stay queued
// untouched until a worker that handles them shows up. The transition to
// active is a guarded update keyed on the claimable state, so two concurrent
// callers can never claim the same row; the loser simply moves on to the
// next candidate.
func (r *JobRepository) ClaimNext(ctx context.Context, workerID string, types []string, lockDuration time.Duration) (*models.Job, error) {
	if len(types) == 0 {
		return nil, ErrNoClaimableJob
	}
	for i := 0; i < claimAttempts; i++ {
		now := time.Now()

		var job models.Job
		err := r.db.WithContext(ctx).
			Where("type IN ?", types).
			Where(r.db.
				Where("status = ? AND (not_before IS NULL OR not_before <= ?)", models.JobStatusPending, now).
				Or("status = ? AND lock_expires_at < ?", models.JobStatusActive, now)).
			Order("priority DESC").
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoClaimableJob
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find claimable job: %w", err)
		}

		expiry := now.Add(lockDuration)
		res := r.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND (status = ? OR (status = ? AND lock_expires_at < ?))",
				job.ID, models.JobStatusPending, models.JobStatusActive, now).
			Updates(map[string]interface{}{
				"status":          models.JobStatusActive,
				"claimed_by":      workerID,
				"lock_expires_at": expiry,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to claim job %d: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			job.Status = models.JobStatusActive
			job.ClaimedBy = workerID
			job.LockExpiresAt = &expiry
			return &job, nil
		}
		// Another worker won this row between the select and the update.
	}
	return nil, ErrNoClaimableJob
}

// ExtendLock renews the claim lock on an active job held by workerID. It
// reports false when the job is no longer held, which happens after a
// cancellation or an expired-lock reclaim.
func (r *JobRepository) ExtendLock(ctx context.Context, id uint, workerID string, lockDuration time.Duration) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ? AND claimed_by = ?", id, models.JobStatusActive, workerID).
		Update("lock_expires_at", time.Now().Add(lockDuration))
	if res.Error != nil {
		return false, fmt.Errorf("failed to extend lock on job %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Complete marks an active job completed and stores its result.
func (r *JobRepository) Complete(ctx context.Context, id uint, result json.RawMessage) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusActive).
		Updates(map[string]interface{}{
			"status":          models.JobStatusCompleted,
			"result":          result,
			"claimed_by":      "",
			"lock_expires_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %d is not active: %w", id, ErrInvalidTransition)
	}
	return nil
}

// Fail records a handler failure on an active job. While attempts remain the
// job goes back to pending with its attempt count incremented and a backoff
// window before it is claimable again; once attempts are exhausted the job
// fails terminally with the last error retained.
func (r *JobRepository) Fail(ctx context.Context, id uint, errMsg string, backoff time.Duration) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		err := tx.Where("id = ? AND status = ?", id, models.JobStatusActive).First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("job %d is not active: %w", id, ErrInvalidTransition)
		}
		if err != nil {
			return fmt.Errorf("failed to load job %d: %w", id, err)
		}

		job.Attempts++
		updates := map[string]interface{}{
			"status":          models.JobStatusFailed,
			"attempts":        job.Attempts,
			"error":           errMsg,
			"claimed_by":      "",
			"lock_expires_at": nil,
		}
		if job.Attempts < job.MaxAttempts {
			updates["status"] = models.JobStatusPending
			updates["not_before"] = time.Now().Add(backoff)
		}

		// Guarded like every other transition: a cancellation committed
		// between the read and this update must win.
		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", id, models.JobStatusActive).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to record failure for job %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("job %d is not active: %w", id, ErrInvalidTransition)
		}
		return nil
	})
}

// FailTerminal fails an active job immediately, bypassing the retry policy.
// Used for validation errors where retrying cannot help.
func (r *JobRepository) FailTerminal(ctx context.Context, id uint, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusActive).
		Updates(map[string]interface{}{
			"status":          models.JobStatusFailed,
			"error":           errMsg,
			"claimed_by":      "",
			"lock_expires_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to fail job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %d is not active: %w", id, ErrInvalidTransition)
	}
	return nil
}

// Cancel marks a pending or active job cancelled. A running handler is not
// forcibly stopped; it observes the cancellation cooperatively.
func (r *JobRepository) Cancel(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []models.JobStatus{models.JobStatusPending, models.JobStatusActive}).
		Updates(map[string]interface{}{
			"status":          models.JobStatusCancelled,
			"claimed_by":      "",
			"lock_expires_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to cancel job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %d is not pending or active: %w", id, ErrInvalidTransition)
	}
	return nil
}

// List returns jobs matching the filter, newest first.
func (r *JobRepository) List(ctx context.Context, filter JobFilter, opts *models.ListOptions) ([]models.Job, error) {
	if opts == nil {
		opts = &models.ListOptions{}
	}
	opts.Normalize()

	query := r.db.WithContext(ctx).Model(&models.Job{})
	if filter.Status != "" && filter.Status != models.JobStatusUnknown {
		query = query.Where(models.JobStatusField+" = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where(models.JobTypeField+" = ?", filter.Type)
	}

	var jobs []models.Job
	err := query.
		Order("created_at DESC").
		Limit(opts.Limit).
		Offset(opts.Offset).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Stats returns the number of jobs per status.
func (r *JobRepository) Stats(ctx context.Context) (map[models.JobStatus]int64, error) {
	type row struct {
		Status models.JobStatus
		Count  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute job stats: %w", err)
	}

	stats := make(map[models.JobStatus]int64, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}

// DeleteTerminalBefore permanently deletes completed, failed and cancelled
// jobs last updated before the cutoff. Used by the queue-cleanup maintenance
// handler.
func (r *JobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Unscoped().
		Where("status IN ? AND updated_at < ?",
			[]models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
			cutoff).
		Delete(&models.Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete terminal jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
