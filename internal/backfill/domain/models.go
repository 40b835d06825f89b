// Package domain contains the backfill job and chunk state machines.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Job statuses. A job leaves running only for a terminal status and no
// chunk processing happens once the job is terminal.
const (
	JobStatusRunning             = "running"
	JobStatusCompleted           = "completed"
	JobStatusCompletedWithErrors = "completed_with_errors"
	JobStatusFailed              = "failed"
	JobStatusCancelled           = "cancelled"
)

// Chunk statuses. pending → processing → completed, with processing →
// retrying → processing up to max_attempts, after which retrying → failed.
// Any non-terminal chunk moves to cancelled when its job is cancelled.
const (
	ChunkStatusPending    = "pending"
	ChunkStatusProcessing = "processing"
	ChunkStatusRetrying   = "retrying"
	ChunkStatusCompleted  = "completed"
	ChunkStatusFailed     = "failed"
	ChunkStatusCancelled  = "cancelled"
)

const DefaultMaxAttempts = 3

var (
	ErrInvalidOrganization = errors.New("invalid organization")
	ErrInvalidRange        = errors.New("invalid backfill range")
	ErrJobNotFound         = errors.New("backfill job not found")
	ErrJobNotCancellable   = errors.New("backfill job is already complete")
)

// BackfillJob is one historical ingestion run.
type BackfillJob struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID `gorm:"not null;index" json:"org_id"`
	Status          string       `gorm:"type:text;not null;index" json:"status"`
	DaysBack        int          `gorm:"not null" json:"days_back"`
	ChunkSizeDays   int          `gorm:"not null" json:"chunk_size_days"`
	TotalChunks     int          `gorm:"not null" json:"total_chunks"`
	ProcessedChunks int          `gorm:"not null;default:0" json:"processed_chunks"`
	FailedChunks    int          `gorm:"not null;default:0" json:"failed_chunks"`
	StartDate       time.Time    `gorm:"not null" json:"start_date"`
	EndDate         time.Time    `gorm:"not null" json:"end_date"`
	CancelReason    string       `gorm:"type:text" json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time   `json:"cancelled_at,omitempty"`
	LastBatchAt     *time.Time   `json:"last_batch_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (BackfillJob) TableName() string { return "backfill_jobs" }

// Terminal reports whether no further chunk processing may occur.
func (j BackfillJob) Terminal() bool { return j.Status != JobStatusRunning }

// BackfillChunk is a bounded date-range unit of work. The status column is
// the only ownership marker; the orchestrator never runs concurrently for
// the same job.
type BackfillChunk struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	JobID        snowflake.ID `gorm:"not null;index;uniqueIndex:ux_backfill_chunks_job_index,priority:1" json:"job_id"`
	OrgID        snowflake.ID `gorm:"not null;index" json:"org_id"`
	ChunkIndex   int          `gorm:"not null;uniqueIndex:ux_backfill_chunks_job_index,priority:2" json:"chunk_index"`
	StartDate    time.Time    `gorm:"not null" json:"start_date"`
	EndDate      time.Time    `gorm:"not null" json:"end_date"`
	Status       string       `gorm:"type:text;not null;index" json:"status"`
	AttemptCount int          `gorm:"not null;default:0" json:"attempt_count"`
	MaxAttempts  int          `gorm:"not null;default:3" json:"max_attempts"`
	LastError    string       `gorm:"type:text" json:"last_error,omitempty"`
	CancelledAt  *time.Time   `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (BackfillChunk) TableName() string { return "backfill_chunks" }

// Terminal reports whether the chunk can accept no further transitions.
func (c BackfillChunk) Terminal() bool {
	switch c.Status {
	case ChunkStatusCompleted, ChunkStatusFailed, ChunkStatusCancelled:
		return true
	default:
		return false
	}
}
