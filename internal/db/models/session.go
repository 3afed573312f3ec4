package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClaudeStatus represents the agent-reported state of a session. The core
// writes this field as a side effect of job execution; rendering it belongs
// to the presentation layer.
type ClaudeStatus string

// Session agent status constants
const (
	// ClaudeStatusNotStarted indicates no agent run has begun
	ClaudeStatusNotStarted ClaudeStatus = "not_started"
	// ClaudeStatusProcessing indicates the agent is working
	ClaudeStatusProcessing ClaudeStatus = "processing"
	// ClaudeStatusWaitingForInput indicates the agent wants user input
	ClaudeStatusWaitingForInput ClaudeStatus = "waiting_for_input"
	// ClaudeStatusError indicates the last run errored
	ClaudeStatusError ClaudeStatus = "error"
	// ClaudeStatusCompleted indicates the last run finished
	ClaudeStatusCompleted ClaudeStatus = "completed"
)

// Session represents a coding-agent session launched from the dashboard.
type Session struct {
	ID           string       `json:"id" gorm:"primaryKey"`
	Title        string       `json:"title"`
	ProjectPath  string       `json:"project_path" gorm:"not null"`
	ClaudeStatus ClaudeStatus `json:"claude_status" gorm:"not null;index"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// String returns the string representation of the session agent status
func (s ClaudeStatus) String() string {
	return string(s)
}

// Validate ensures that the session data is valid
func (s *Session) Validate() error {
	if s.ProjectPath == "" {
		return fmt.Errorf("session project_path cannot be empty")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new session
func (s *Session) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.ClaudeStatus == "" {
		s.ClaudeStatus = ClaudeStatusNotStarted
	}
	return s.Validate()
}
