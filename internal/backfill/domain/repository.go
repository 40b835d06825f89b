package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	CreateJob(ctx context.Context, job *BackfillJob, chunks []BackfillChunk) error
	GetJob(ctx context.Context, jobID snowflake.ID) (*BackfillJob, error)
	GetJobChunks(ctx context.Context, jobID snowflake.ID) ([]BackfillChunk, error)
	ListRunningJobs(ctx context.Context) ([]BackfillJob, error)

	UpdateJobProgress(ctx context.Context, jobID snowflake.ID, processed, failed int, lastBatchAt time.Time) error
	FinishJob(ctx context.Context, jobID snowflake.ID, status string, completedAt time.Time) error

	// MarkChunkProcessing claims the chunk and increments its attempt count.
	MarkChunkProcessing(ctx context.Context, chunkID snowflake.ID) error
	MarkChunkCompleted(ctx context.Context, chunkID snowflake.ID) error
	MarkChunkRetrying(ctx context.Context, chunkID snowflake.ID, lastError string) error
	MarkChunkFailed(ctx context.Context, chunkID snowflake.ID, lastError string) error

	// CancelJob marks the job cancelled and bulk-transitions every
	// non-terminal chunk to cancelled. Returns the chunk count moved.
	CancelJob(ctx context.Context, jobID snowflake.ID, reason string, at time.Time) (int64, error)
}
