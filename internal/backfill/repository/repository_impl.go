package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/groundsignal/groundsignal/internal/backfill/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) CreateJob(ctx context.Context, job *domain.BackfillJob, chunks []domain.BackfillChunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`INSERT INTO backfill_jobs (
				id, org_id, status, days_back, chunk_size_days, total_chunks,
				processed_chunks, failed_chunks, start_date, end_date,
				cancel_reason, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID,
			job.OrgID,
			job.Status,
			job.DaysBack,
			job.ChunkSizeDays,
			job.TotalChunks,
			job.ProcessedChunks,
			job.FailedChunks,
			job.StartDate,
			job.EndDate,
			job.CancelReason,
			job.CreatedAt,
			job.UpdatedAt,
		).Error; err != nil {
			return err
		}
		for _, chunk := range chunks {
			if err := tx.Exec(
				`INSERT INTO backfill_chunks (
					id, job_id, org_id, chunk_index, start_date, end_date,
					status, attempt_count, max_attempts, last_error, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				chunk.ID,
				chunk.JobID,
				chunk.OrgID,
				chunk.ChunkIndex,
				chunk.StartDate,
				chunk.EndDate,
				chunk.Status,
				chunk.AttemptCount,
				chunk.MaxAttempts,
				chunk.LastError,
				chunk.CreatedAt,
				chunk.UpdatedAt,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repository) GetJob(ctx context.Context, jobID snowflake.ID) (*domain.BackfillJob, error) {
	var job domain.BackfillJob
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM backfill_jobs WHERE id = ? LIMIT 1`,
		jobID,
	).Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (r *repository) GetJobChunks(ctx context.Context, jobID snowflake.ID) ([]domain.BackfillChunk, error) {
	var chunks []domain.BackfillChunk
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM backfill_chunks WHERE job_id = ? ORDER BY chunk_index ASC`,
		jobID,
	).Scan(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *repository) ListRunningJobs(ctx context.Context) ([]domain.BackfillJob, error) {
	var jobs []domain.BackfillJob
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM backfill_jobs WHERE status = ? ORDER BY created_at ASC`,
		domain.JobStatusRunning,
	).Scan(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repository) UpdateJobProgress(ctx context.Context, jobID snowflake.ID, processed, failed int, lastBatchAt time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE backfill_jobs
		 SET processed_chunks = ?, failed_chunks = ?, last_batch_at = ?, updated_at = ?
		 WHERE id = ?`,
		processed,
		failed,
		lastBatchAt,
		lastBatchAt,
		jobID,
	).Error
}

func (r *repository) FinishJob(ctx context.Context, jobID snowflake.ID, status string, completedAt time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE backfill_jobs
		 SET status = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		completedAt,
		completedAt,
		jobID,
		domain.JobStatusRunning,
	).Error
}

func (r *repository) MarkChunkProcessing(ctx context.Context, chunkID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE backfill_chunks
		 SET status = ?, attempt_count = attempt_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status IN (?, ?)`,
		domain.ChunkStatusProcessing,
		chunkID,
		domain.ChunkStatusPending,
		domain.ChunkStatusRetrying,
	).Error
}

func (r *repository) MarkChunkCompleted(ctx context.Context, chunkID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE backfill_chunks
		 SET status = ?, last_error = '', updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		domain.ChunkStatusCompleted,
		chunkID,
		domain.ChunkStatusProcessing,
	).Error
}

func (r *repository) MarkChunkRetrying(ctx context.Context, chunkID snowflake.ID, lastError string) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE backfill_chunks
		 SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		domain.ChunkStatusRetrying,
		lastError,
		chunkID,
		domain.ChunkStatusProcessing,
	).Error
}

func (r *repository) MarkChunkFailed(ctx context.Context, chunkID snowflake.ID, lastError string) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE backfill_chunks
		 SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status IN (?, ?)`,
		domain.ChunkStatusFailed,
		lastError,
		chunkID,
		domain.ChunkStatusProcessing,
		domain.ChunkStatusRetrying,
	).Error
}

func (r *repository) CancelJob(ctx context.Context, jobID snowflake.ID, reason string, at time.Time) (int64, error) {
	var cancelled int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`UPDATE backfill_jobs
			 SET status = ?, cancel_reason = ?, cancelled_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			domain.JobStatusCancelled,
			reason,
			at,
			at,
			jobID,
			domain.JobStatusRunning,
		).Error; err != nil {
			return err
		}

		res := tx.Exec(
			`UPDATE backfill_chunks
			 SET status = ?, cancelled_at = ?, updated_at = ?
			 WHERE job_id = ? AND status IN (?, ?, ?)`,
			domain.ChunkStatusCancelled,
			at,
			at,
			jobID,
			domain.ChunkStatusPending,
			domain.ChunkStatusRetrying,
			domain.ChunkStatusProcessing,
		)
		if res.Error != nil {
			return res.Error
		}
		cancelled = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cancelled, nil
}
