package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// ChunkProcessor ingests one chunk's date range from the upstream payment
// processor. Implementations must be safe to retry: re-ingesting a window
// never duplicates ledger rows.
type ChunkProcessor interface {
	ProcessChunk(ctx context.Context, job *BackfillJob, chunk *BackfillChunk) (int, error)
}

// TriggerRequest creates a new backfill job.
type TriggerRequest struct {
	OrgID            snowflake.ID
	DaysBack         int
	ChunkSizeDays    int
	StartImmediately bool
	// WindowOverride scopes the job to an exact range instead of a
	// days-back lookback. Used by the reconciliation auditor.
	WindowOverride *Window
}

// TriggerResult is returned to the caller that started the job.
type TriggerResult struct {
	JobID            snowflake.ID `json:"job_id"`
	ChunksCreated    int          `json:"chunks_created"`
	EstimatedMinutes int          `json:"estimated_minutes"`
	DateRange        Window       `json:"date_range"`
}

// CancelRequest cancels a job. OrgID, when set, scopes the lookup so
// members can only cancel their own organization's jobs.
type CancelRequest struct {
	JobID  snowflake.ID
	OrgID  snowflake.ID
	Reason string
}

// CancelResult reports how many chunks were transitioned to cancelled.
type CancelResult struct {
	CancelledChunks int64 `json:"cancelled_chunks"`
}

// JobStatus is the progress surface for one job.
type JobStatus struct {
	Job    BackfillJob     `json:"job"`
	Chunks []BackfillChunk `json:"chunks"`
}

type Service interface {
	Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error)
	Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error)
	GetJob(ctx context.Context, jobID snowflake.ID, orgID snowflake.ID) (*JobStatus, error)
	// Run drives every non-terminal chunk of the job to a terminal state.
	Run(ctx context.Context, jobID snowflake.ID) error
	// Resume picks up running jobs left behind by a crashed run.
	Resume(ctx context.Context) error
}

// EstimateMinutes converts a chunk count into a rough wall-clock estimate.
func EstimateMinutes(chunks, minutesPerChunk int) int {
	if minutesPerChunk <= 0 {
		minutesPerChunk = 2
	}
	return chunks * minutesPerChunk
}
