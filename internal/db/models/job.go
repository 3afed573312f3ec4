package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Field names for the job model
const (
	// JobStatusField is the field name for job status
	JobStatusField = "status"
	// JobTypeField is the field name for job type
	JobTypeField = "type"
)

// DefaultMaxAttempts is the number of handler attempts a job gets before it
// fails terminally.
const DefaultMaxAttempts = 3

// JobStatus represents the current state of a job
type JobStatus string

// Job status constants
const (
	// JobStatusUnknown represents an unknown or invalid job status
	JobStatusUnknown JobStatus = "unknown"
	// JobStatusPending indicates the job is waiting to be claimed
	JobStatusPending JobStatus = "pending"
	// JobStatusActive indicates the job is claimed and running
	JobStatusActive JobStatus = "active"
	// JobStatusCompleted indicates the job finished successfully
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed terminally
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a unit of asynchronous work with a type, opaque payload and
// lifecycle status. Claim lookups hit the (status, priority, created_at)
// composite index.
type Job struct {
	ID            uint            `json:"id" gorm:"primaryKey"`
	Type          string          `json:"type" gorm:"not null;index:idx_jobs_claim,priority:1"`
	Payload       json.RawMessage `json:"payload,omitempty" gorm:"type:jsonb"`
	Priority      int             `json:"priority" gorm:"not null;default:0;index:idx_jobs_claim,priority:2"`
	Status        JobStatus       `json:"status" gorm:"not null;index:idx_jobs_claim,priority:3"`
	Attempts      int             `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts   int             `json:"max_attempts" gorm:"not null;default:3"`
	Result        json.RawMessage `json:"result,omitempty" gorm:"type:jsonb"`
	Error         string          `json:"error,omitempty" gorm:"type:text"`
	ClaimedBy     string          `json:"claimed_by,omitempty" gorm:"index"`
	LockExpiresAt *time.Time      `json:"lock_expires_at,omitempty"`
	NotBefore     *time.Time      `json:"not_before,omitempty"`
	CreatedAt     time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `json:"-" gorm:"index"`
}

// String returns the string representation of the job status
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status is a terminal lifecycle state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ParseJobStatus converts a string to a JobStatus type
func ParseJobStatus(str string) (JobStatus, error) {
	switch str {
	case "", string(JobStatusUnknown):
		return JobStatusUnknown, nil
	case string(JobStatusPending):
		return JobStatusPending, nil
	case string(JobStatusActive):
		return JobStatusActive, nil
	case string(JobStatusCompleted):
		return JobStatusCompleted, nil
	case string(JobStatusFailed):
		return JobStatusFailed, nil
	case string(JobStatusCancelled):
		return JobStatusCancelled, nil
	default:
		return JobStatusUnknown, fmt.Errorf("invalid job status: %s", str)
	}
}

// UnmarshalJSON implements json.Unmarshaler for JobStatus
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status, err := ParseJobStatus(str)
	if err != nil {
		return err
	}

	*s = status
	return nil
}

// MarshalJSON implements json.Marshaler for JobStatus
func (s *JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Validate ensures that the job data is valid
func (j *Job) Validate() error {
	if j.Type == "" {
		return fmt.Errorf("job type cannot be empty")
	}
	if j.MaxAttempts < 1 {
		return fmt.Errorf("job max_attempts must be at least 1")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new job
func (j *Job) BeforeCreate(_ *gorm.DB) error {
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	return j.Validate()
}
