package repos

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mzxrai/memva-sub002/internal/db/models"
)

// SessionRepository handles database operations for sessions
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new instance of SessionRepository
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session in the database
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// GetByID retrieves a session by ID from the database
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// UpdateClaudeStatus updates the agent-reported status of a session
func (r *SessionRepository) UpdateClaudeStatus(ctx context.Context, id string, status models.ClaudeStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", id).
		Update("claude_status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update session status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// List retrieves sessions from the database with pagination, newest first
func (r *SessionRepository) List(ctx context.Context, opts *models.ListOptions) ([]models.Session, error) {
	if opts == nil {
		opts = &models.ListOptions{}
	}
	opts.Normalize()

	var sessions []models.Session
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(opts.Limit).
		Offset(opts.Offset).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}
