package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mzxrai/memva-sub002/internal/db/models"
)

// ErrAlreadyResolved is returned when a decision targets a request that has
// already left the pending status. Only the first transition out of pending
// is accepted.
var ErrAlreadyResolved = errors.New("permission request already resolved")

// PermissionRepository provides access to permission-request database operations
type PermissionRepository struct {
	db *gorm.DB
}

// NewPermissionRepository creates a new permission repository instance
func NewPermissionRepository(db *gorm.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// CreateRequest creates a pending permission request for a session. If the
// request carries a tool_use_id and an earlier pending request shares it,
// the earlier one is marked superseded in the same transaction so at most
// one request per correlation key is ever decidable.
func (r *PermissionRepository) CreateRequest(ctx context.Context, req *models.PermissionRequest) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.ToolUseID != "" {
			err := tx.Model(&models.PermissionRequest{}).
				Where("tool_use_id = ? AND status = ?", req.ToolUseID, models.PermissionStatusPending).
				Update(models.PermissionStatusField, models.PermissionStatusSuperseded).Error
			if err != nil {
				return fmt.Errorf("failed to supersede earlier requests: %w", err)
			}
		}
		req.Status = models.PermissionStatusPending
		return tx.Create(req).Error
	})
}

// GetByID retrieves a permission request by its ID
func (r *PermissionRepository) GetByID(ctx context.Context, id string) (*models.PermissionRequest, error) {
	var req models.PermissionRequest
	err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("permission request not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission request: %w", err)
	}
	return &req, nil
}

// RecordDecision applies a human allow/deny decision to a pending request.
// The update is guarded on status=pending; a second decision on the same
// request returns ErrAlreadyResolved.
func (r *PermissionRepository) RecordDecision(ctx context.Context, id string, decision string) error {
	status := models.PermissionStatusDenied
	switch decision {
	case models.DecisionAllow:
		status = models.PermissionStatusApproved
	case models.DecisionDeny:
	default:
		return fmt.Errorf("invalid decision: %s", decision)
	}

	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.PermissionRequest{}).
		Where("id = ? AND status = ?", id, models.PermissionStatusPending).
		Updates(map[string]interface{}{
			"status":     status,
			"decision":   decision,
			"decided_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record decision: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// MarkTimeout transitions a pending request to timeout. Called by the poller
// when maxWait elapses without a decision. Losing the race against a
// concurrent decision is not an error; the decision simply stands.
func (r *PermissionRepository) MarkTimeout(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.PermissionRequest{}).
		Where("id = ? AND status = ?", id, models.PermissionStatusPending).
		Update(models.PermissionStatusField, models.PermissionStatusTimeout)
	if res.Error != nil {
		return fmt.Errorf("failed to mark request timed out: %w", res.Error)
	}
	return nil
}

// MarkCancelled transitions a pending request to cancelled. Used when the
// caller awaiting the decision goes away, e.g. a channel shutdown; timeout
// stays reserved for an elapsed wait budget. Losing the race against a
// concurrent decision is not an error.
func (r *PermissionRepository) MarkCancelled(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.PermissionRequest{}).
		Where("id = ? AND status = ?", id, models.PermissionStatusPending).
		Update(models.PermissionStatusField, models.PermissionStatusCancelled)
	if res.Error != nil {
		return fmt.Errorf("failed to mark request cancelled: %w", res.Error)
	}
	return nil
}

// ExpireStale bulk-transitions pending requests created before the cutoff to
// expired and reports how many rows changed. Run by the permission-cleanup
// maintenance job, not inline.
func (r *PermissionRepository) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.PermissionRequest{}).
		Where("status = ? AND created_at < ?", models.PermissionStatusPending, cutoff).
		Update(models.PermissionStatusField, models.PermissionStatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire stale requests: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CancelForSession cancels every pending request belonging to a session so
// any approval call blocked on one returns a deny promptly instead of
// waiting out its full timeout.
func (r *PermissionRepository) CancelForSession(ctx context.Context, sessionID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.PermissionRequest{}).
		Where("session_id = ? AND status = ?", sessionID, models.PermissionStatusPending).
		Update(models.PermissionStatusField, models.PermissionStatusCancelled)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cancel session requests: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountPending returns how many of a session's requests are awaiting a
// decision. Only pending rows count toward the awaiting-approval total.
func (r *PermissionRepository) CountPending(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PermissionRequest{}).
		Where("session_id = ? AND status = ?", sessionID, models.PermissionStatusPending).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending requests: %w", err)
	}
	return count, nil
}

// ListBySession returns a session's requests, optionally filtered by status,
// newest first.
func (r *PermissionRepository) ListBySession(ctx context.Context, sessionID string, status models.PermissionStatus, opts *models.ListOptions) ([]models.PermissionRequest, error) {
	if opts == nil {
		opts = &models.ListOptions{}
	}
	opts.Normalize()

	query := r.db.WithContext(ctx).Model(&models.PermissionRequest{}).
		Where(models.PermissionSessionIDField+" = ?", sessionID)
	if status != "" {
		query = query.Where(models.PermissionStatusField+" = ?", status)
	}

	var reqs []models.PermissionRequest
	err := query.
		Order("created_at DESC").
		Limit(opts.Limit).
		Offset(opts.Offset).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list permission requests: %w", err)
	}
	return reqs, nil
}
