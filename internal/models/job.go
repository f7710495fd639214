package models

import (
	"time"

	"github.com/google/uuid"
)

// JobType names the kinds of scheduled work the engine relies on.
type JobType string

const (
	JobTypeClaimTimeout        JobType = "CLAIM_TIMEOUT"
	JobTypeSubmitWarning       JobType = "SUBMIT_WARNING"
	JobTypeSubmitTimeout       JobType = "SUBMIT_TIMEOUT"
	JobTypeOpenDurationTimeout JobType = "OPEN_DURATION_TIMEOUT"
	JobTypeSessionPurge        JobType = "SESSION_PURGE"
)

// JobStatus defines the state of a scheduled job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusFired     JobStatus = "FIRED"
	JobStatusCancelled JobStatus = "CANCELLED"
	JobStatusFailed    JobStatus = "FAILED"
)

// ScheduledJob is a persisted timer. At most one PENDING job exists per
// (Type, TargetID) key; scheduling a new one cancels the old first. A job is
// marked FIRED before its handler runs, so handlers must be idempotent.
type ScheduledJob struct {
	ID        uuid.UUID `json:"id"`
	Type      JobType   `json:"type"`
	TargetID  uuid.UUID `json:"target_id"`
	DueAt     time.Time `json:"due_at"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError *string   `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
