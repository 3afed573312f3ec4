package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Field names for the permission request model
const (
	// PermissionStatusField is the field name for permission request status
	PermissionStatusField = "status"
	// PermissionSessionIDField is the field name for the owning session
	PermissionSessionIDField = "session_id"
)

// DefaultRequestTimeout is how long a permission request stays decidable
// before the stale sweep may expire it.
const DefaultRequestTimeout = 24 * time.Hour

// PermissionStatus represents the current state of a permission request
type PermissionStatus string

// Permission request status constants. Pending is the only non-terminal
// status; the first transition out of it wins.
const (
	// PermissionStatusPending indicates the request is awaiting a decision
	PermissionStatusPending PermissionStatus = "pending"
	// PermissionStatusApproved indicates a human allowed the action
	PermissionStatusApproved PermissionStatus = "approved"
	// PermissionStatusDenied indicates a human denied the action
	PermissionStatusDenied PermissionStatus = "denied"
	// PermissionStatusTimeout indicates the poller gave up waiting
	PermissionStatusTimeout PermissionStatus = "timeout"
	// PermissionStatusExpired indicates the stale sweep closed the request
	PermissionStatusExpired PermissionStatus = "expired"
	// PermissionStatusSuperseded indicates a newer request replaced this one
	PermissionStatusSuperseded PermissionStatus = "superseded"
	// PermissionStatusCancelled indicates the session or job was cancelled
	PermissionStatusCancelled PermissionStatus = "cancelled"
)

// Decision values recorded alongside a resolved status.
const (
	// DecisionAllow permits the tool call
	DecisionAllow = "allow"
	// DecisionDeny rejects the tool call
	DecisionDeny = "deny"
)

// PermissionRequest is a pending approval gate raised when an agent wants to
// perform a sensitive action. Indexed for per-session pending lookups and
// the stale-expiry sweep.
type PermissionRequest struct {
	ID        string           `json:"id" gorm:"primaryKey"`
	SessionID string           `json:"session_id" gorm:"not null;index:idx_permission_session,priority:1"`
	ToolName  string           `json:"tool_name" gorm:"not null"`
	ToolUseID string           `json:"tool_use_id,omitempty" gorm:"index"`
	Input     json.RawMessage  `json:"input,omitempty" gorm:"type:jsonb"`
	Status    PermissionStatus `json:"status" gorm:"not null;index:idx_permission_session,priority:2;index:idx_permission_sweep,priority:1"`
	Decision  string           `json:"decision,omitempty"`
	DecidedAt *time.Time       `json:"decided_at,omitempty"`
	ExpiresAt time.Time        `json:"expires_at"`
	CreatedAt time.Time        `json:"created_at" gorm:"index:idx_permission_sweep,priority:2"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// String returns the string representation of the permission status
func (s PermissionStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status is terminal. Everything except
// pending is.
func (s PermissionStatus) IsTerminal() bool {
	return s != PermissionStatusPending
}

// ParsePermissionStatus converts a string to a PermissionStatus type
func ParsePermissionStatus(str string) (PermissionStatus, error) {
	switch str {
	case string(PermissionStatusPending):
		return PermissionStatusPending, nil
	case string(PermissionStatusApproved):
		return PermissionStatusApproved, nil
	case string(PermissionStatusDenied):
		return PermissionStatusDenied, nil
	case string(PermissionStatusTimeout):
		return PermissionStatusTimeout, nil
	case string(PermissionStatusExpired):
		return PermissionStatusExpired, nil
	case string(PermissionStatusSuperseded):
		return PermissionStatusSuperseded, nil
	case string(PermissionStatusCancelled):
		return PermissionStatusCancelled, nil
	default:
		return "", fmt.Errorf("invalid permission status: %s", str)
	}
}

// Validate ensures that the permission request data is valid
func (p *PermissionRequest) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("permission request session_id cannot be empty")
	}
	if p.ToolName == "" {
		return fmt.Errorf("permission request tool_name cannot be empty")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new permission request
func (p *PermissionRequest) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PermissionStatusPending
	}
	if p.ExpiresAt.IsZero() {
		p.ExpiresAt = time.Now().Add(DefaultRequestTimeout)
	}
	return p.Validate()
}
