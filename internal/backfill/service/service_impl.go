package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/groundsignal/groundsignal/internal/audit/domain"
	"github.com/groundsignal/groundsignal/internal/backfill/domain"
	"github.com/groundsignal/groundsignal/internal/clock"
	"github.com/groundsignal/groundsignal/internal/config"
	"github.com/groundsignal/groundsignal/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const chunkTimeout = 10 * time.Minute

type Params struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Processor domain.ChunkProcessor
	AuditSvc  auditdomain.Service `optional:"true"`
}

type Service struct {
	cfg       config.BackfillConfig
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	processor domain.ChunkProcessor
	auditSvc  auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:       p.Config.Backfill,
		log:       p.Log.Named("backfill.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		processor: p.Processor,
		auditSvc:  p.AuditSvc,
	}
}

// Trigger persists the job and its chunk ledger synchronously, then hands
// chunk execution to a detached runner so the caller returns immediately.
func (s *Service) Trigger(ctx context.Context, req domain.TriggerRequest) (*domain.TriggerResult, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	daysBack := req.DaysBack
	if daysBack <= 0 {
		daysBack = s.cfg.DefaultDaysBack
	}
	chunkSize := req.ChunkSizeDays
	if chunkSize <= 0 {
		chunkSize = s.cfg.DefaultChunkSizeDays
	}

	now := s.clock.Now()
	var windows []domain.Window
	if req.WindowOverride != nil {
		if !req.WindowOverride.Start.Before(req.WindowOverride.End) {
			return nil, domain.ErrInvalidRange
		}
		windows = windowsForRange(*req.WindowOverride, chunkSize)
	} else {
		windows = domain.BuildWindows(now, daysBack, chunkSize)
	}
	if len(windows) == 0 {
		return nil, domain.ErrInvalidRange
	}

	job := &domain.BackfillJob{
		ID:            s.genID.Generate(),
		OrgID:         req.OrgID,
		Status:        domain.JobStatusRunning,
		DaysBack:      daysBack,
		ChunkSizeDays: chunkSize,
		TotalChunks:   len(windows),
		StartDate:     windows[len(windows)-1].Start,
		EndDate:       windows[0].End,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	chunks := make([]domain.BackfillChunk, 0, len(windows))
	for i, w := range windows {
		chunks = append(chunks, domain.BackfillChunk{
			ID:          s.genID.Generate(),
			JobID:       job.ID,
			OrgID:       req.OrgID,
			ChunkIndex:  i,
			StartDate:   w.Start,
			EndDate:     w.End,
			Status:      domain.ChunkStatusPending,
			MaxAttempts: maxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if err := s.repo.CreateJob(ctx, job, chunks); err != nil {
		return nil, err
	}

	s.audit(ctx, req.OrgID, auditdomain.ActionBackfillTriggered, job.ID, map[string]any{
		"chunks":     len(chunks),
		"start_date": job.StartDate,
		"end_date":   job.EndDate,
	})
	s.log.Info("backfill job created",
		zap.String("job_id", job.ID.String()),
		zap.String("org_id", req.OrgID.String()),
		zap.Int("chunks", len(chunks)),
	)

	if req.StartImmediately {
		s.runDetached(job.ID)
	}

	return &domain.TriggerResult{
		JobID:            job.ID,
		ChunksCreated:    len(chunks),
		EstimatedMinutes: domain.EstimateMinutes(len(chunks), s.cfg.MinutesPerChunk),
		DateRange:        domain.Window{Start: job.StartDate, End: job.EndDate},
	}, nil
}

// Cancel rejects completed jobs, is a no-op on already-cancelled or failed
// jobs, and otherwise flips the job and every non-terminal chunk.
func (s *Service) Cancel(ctx context.Context, req domain.CancelRequest) (*domain.CancelResult, error) {
	job, err := s.repo.GetJob(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if req.OrgID != 0 && job.OrgID != req.OrgID {
		return nil, domain.ErrJobNotFound
	}

	switch job.Status {
	case domain.JobStatusCompleted, domain.JobStatusCompletedWithErrors:
		return nil, domain.ErrJobNotCancellable
	case domain.JobStatusCancelled, domain.JobStatusFailed:
		return &domain.CancelResult{CancelledChunks: 0}, nil
	}

	reason := req.Reason
	if reason == "" {
		reason = "cancelled by request"
	}
	cancelled, err := s.repo.CancelJob(ctx, req.JobID, reason, s.clock.Now())
	if err != nil {
		return nil, err
	}

	s.audit(ctx, job.OrgID, auditdomain.ActionBackfillCancelled, job.ID, map[string]any{
		"cancelled_chunks": cancelled,
		"reason":           reason,
	})
	s.log.Info("backfill job cancelled",
		zap.String("job_id", job.ID.String()),
		zap.Int64("cancelled_chunks", cancelled),
	)
	return &domain.CancelResult{CancelledChunks: cancelled}, nil
}

func (s *Service) GetJob(ctx context.Context, jobID snowflake.ID, orgID snowflake.ID) (*domain.JobStatus, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if orgID != 0 && job.OrgID != orgID {
		return nil, domain.ErrJobNotFound
	}
	chunks, err := s.repo.GetJobChunks(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &domain.JobStatus{Job: *job, Chunks: chunks}, nil
}

// Run drives the job's chunks sequentially. Completed chunks are skipped so
// a restarted run resumes without reprocessing; cancellation is observed
// between chunks by re-reading the job row.
func (s *Service) Run(ctx context.Context, jobID snowflake.ID) error {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return nil
	}

	chunks, err := s.repo.GetJobChunks(ctx, jobID)
	if err != nil {
		return err
	}

	processed, failed := 0, 0
	for i := range chunks {
		switch chunks[i].Status {
		case domain.ChunkStatusCompleted:
			processed++
		case domain.ChunkStatusFailed:
			failed++
		}
	}

	for i := range chunks {
		chunk := &chunks[i]
		if chunk.Terminal() {
			continue
		}

		job, err = s.repo.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Terminal() {
			return nil
		}

		outcome, err := s.runChunk(ctx, job, chunk)
		if err != nil {
			// Context cancellation leaves the job running for resume.
			return err
		}
		switch outcome {
		case domain.ChunkStatusCompleted:
			processed++
		case domain.ChunkStatusFailed:
			failed++
		}
		metrics.Engine().IncChunkProcessed(outcome)

		if err := s.repo.UpdateJobProgress(ctx, jobID, processed, failed, s.clock.Now()); err != nil {
			return err
		}

		if i < len(chunks)-1 && s.cfg.InterChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.InterChunkDelay):
			}
		}
	}

	status := domain.JobStatusCompleted
	if failed > 0 {
		status = domain.JobStatusCompletedWithErrors
	}
	if err := s.repo.FinishJob(ctx, jobID, status, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("backfill job finished",
		zap.String("job_id", jobID.String()),
		zap.String("status", status),
		zap.Int("processed", processed),
		zap.Int("failed", failed),
	)
	return nil
}

// runChunk retries the chunk in place until it completes, fails its attempt
// budget, or the context ends. The returned status is terminal.
func (s *Service) runChunk(ctx context.Context, job *domain.BackfillJob, chunk *domain.BackfillChunk) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := s.repo.MarkChunkProcessing(ctx, chunk.ID); err != nil {
			return "", err
		}
		chunk.AttemptCount++
		chunk.Status = domain.ChunkStatusProcessing

		cctx, cancel := context.WithTimeout(ctx, chunkTimeout)
		count, procErr := s.processor.ProcessChunk(cctx, job, chunk)
		cancel()

		if procErr == nil {
			if err := s.repo.MarkChunkCompleted(ctx, chunk.ID); err != nil {
				return "", err
			}
			chunk.Status = domain.ChunkStatusCompleted
			s.log.Info("backfill chunk completed",
				zap.String("job_id", job.ID.String()),
				zap.Int("chunk_index", chunk.ChunkIndex),
				zap.Int("rows", count),
				zap.Int("attempt", chunk.AttemptCount),
			)
			return domain.ChunkStatusCompleted, nil
		}

		lastError := fmt.Sprintf("attempt %d: %v", chunk.AttemptCount, procErr)
		if chunk.AttemptCount >= chunk.MaxAttempts {
			if err := s.repo.MarkChunkFailed(ctx, chunk.ID, lastError); err != nil {
				return "", err
			}
			chunk.Status = domain.ChunkStatusFailed
			s.log.Warn("backfill chunk failed permanently",
				zap.String("job_id", job.ID.String()),
				zap.Int("chunk_index", chunk.ChunkIndex),
				zap.Int("attempts", chunk.AttemptCount),
				zap.Error(procErr),
			)
			return domain.ChunkStatusFailed, nil
		}

		if err := s.repo.MarkChunkRetrying(ctx, chunk.ID, lastError); err != nil {
			return "", err
		}
		chunk.Status = domain.ChunkStatusRetrying
		s.log.Warn("backfill chunk retrying",
			zap.String("job_id", job.ID.String()),
			zap.Int("chunk_index", chunk.ChunkIndex),
			zap.Int("attempt", chunk.AttemptCount),
			zap.Error(procErr),
		)
	}
}

// Resume picks up running jobs whose runner died, completing their
// remaining chunks. Jobs are processed sequentially to bound upstream load.
func (s *Service) Resume(ctx context.Context) error {
	jobs, err := s.repo.ListRunningJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := s.Run(ctx, job.ID); err != nil {
			if ctx.Err() != nil {
				return err
			}
			s.log.Warn("backfill resume failed for job",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// runDetached executes the job on a background context so the triggering
// HTTP request is not held open for hours of chunk work.
func (s *Service) runDetached(jobID snowflake.ID) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("backfill runner panicked",
					zap.String("job_id", jobID.String()),
					zap.Any("panic", r),
				)
			}
		}()
		if err := s.Run(context.Background(), jobID); err != nil {
			s.log.Error("backfill runner stopped",
				zap.String("job_id", jobID.String()),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, action string, jobID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", action, "backfill_job", jobID.String(), metadata); err != nil {
		s.log.Warn("failed to write backfill audit log", zap.Error(err))
	}
}

// windowsForRange chunks an explicit range, newest window first.
func windowsForRange(r domain.Window, chunkSizeDays int) []domain.Window {
	if chunkSizeDays <= 0 {
		chunkSizeDays = 30
	}
	windows := []domain.Window{}
	cursor := r.End
	for cursor.After(r.Start) {
		start := cursor.AddDate(0, 0, -chunkSizeDays)
		if start.Before(r.Start) {
			start = r.Start
		}
		windows = append(windows, domain.Window{Start: start, End: cursor})
		cursor = start
	}
	return windows
}
