// Package scheduler drives the engine's periodic jobs: reconciliation,
// resumption of interrupted backfills, and refcode mapping refresh.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	backfilldomain "github.com/groundsignal/groundsignal/internal/backfill/domain"
	"github.com/groundsignal/groundsignal/internal/clock"
	obsmetrics "github.com/groundsignal/groundsignal/internal/observability/metrics"
	"github.com/groundsignal/groundsignal/internal/providers/adgraph"
	"github.com/groundsignal/groundsignal/internal/ratelimit"
	reconciliationdomain "github.com/groundsignal/groundsignal/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobReconcile      = "reconcile"
	JobBackfillResume = "backfill_resume"
	JobMappingRefresh = "mapping_refresh"
)

var ErrInvalidConfig = errors.New("scheduler requires logger, clock, and services")

type Params struct {
	fx.In

	Log               *zap.Logger
	Clock             clock.Clock
	ReconciliationSvc reconciliationdomain.Service
	BackfillSvc       backfilldomain.Service
	Refresher         *adgraph.Refresher
	Limiter           *ratelimit.TriggerLimiter `optional:"true"`
	Config            Config                    `optional:"true"`
}

type Scheduler struct {
	log               *zap.Logger
	cfg               Config
	clock             clock.Clock
	reconciliationSvc reconciliationdomain.Service
	backfillSvc       backfilldomain.Service
	refresher         *adgraph.Refresher
	limiter           *ratelimit.TriggerLimiter

	lastReconcile      time.Time
	lastMappingRefresh time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.ReconciliationSvc == nil || p.BackfillSvc == nil || p.Refresher == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:               p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:               p.Config.withDefaults(),
		clock:             p.Clock,
		reconciliationSvc: p.ReconciliationSvc,
		backfillSvc:       p.BackfillSvc,
		refresher:         p.Refresher,
		limiter:           p.Limiter,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	token, acquired, err := s.lockJob(ctx, name)
	if err != nil {
		s.log.Warn("job lock unavailable", zap.String("job", name), zap.Error(err))
		return nil
	}
	if !acquired {
		// Another replica holds the job.
		return nil
	}
	defer s.unlockJob(name, token)

	engine := obsmetrics.Engine()
	engine.IncJobRun(name)
	s.log.Info("job started", zap.String("job", name))

	err = fn(ctx)
	duration := time.Since(start)
	engine.ObserveJobDuration(name, duration)
	if err == nil {
		s.log.Info("job finished", zap.String("job", name), zap.Duration("duration", duration))
		return nil
	}

	engine.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	s.log.Error("job failed", zap.String("job", name), zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every due, enabled job once. Interval gating means a run
// loop tick is cheap when nothing is due.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.clock.Now()
	var err error

	if s.isJobEnabled(JobBackfillResume) {
		err = errors.Join(err, s.runJob(ctx, JobBackfillResume, s.BackfillResumeJob))
	}
	if s.isJobEnabled(JobReconcile) && now.Sub(s.lastReconcile) >= s.cfg.ReconcileInterval {
		if jobErr := s.runJob(ctx, JobReconcile, s.ReconcileJob); jobErr != nil {
			err = errors.Join(err, jobErr)
		} else {
			s.lastReconcile = now
		}
	}
	if s.isJobEnabled(JobMappingRefresh) && now.Sub(s.lastMappingRefresh) >= s.cfg.MappingRefreshInterval {
		if jobErr := s.runJob(ctx, JobMappingRefresh, s.MappingRefreshJob); jobErr != nil {
			err = errors.Join(err, jobErr)
		} else {
			s.lastMappingRefresh = now
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty allow list enables every job (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ReconcileJob audits every credentialed organization's ledger against the
// processor and triggers backfills for windows with missing rows.
func (s *Scheduler) ReconcileJob(ctx context.Context) error {
	results, err := s.reconciliationSvc.Run(ctx, 0)
	if err != nil {
		return err
	}
	discrepancies := 0
	for _, result := range results {
		if result.Discrepancy {
			discrepancies++
		}
	}
	s.log.Info("reconcile pass finished",
		zap.Int("organizations", len(results)),
		zap.Int("discrepancies", discrepancies),
	)
	return nil
}

// BackfillResumeJob picks up running jobs whose runner died with the process.
func (s *Scheduler) BackfillResumeJob(ctx context.Context) error {
	return s.backfillSvc.Resume(ctx)
}

// MappingRefreshJob re-pulls refcode mappings from the ad graph.
func (s *Scheduler) MappingRefreshJob(ctx context.Context) error {
	return s.refresher.RefreshAll(ctx)
}

func (s *Scheduler) lockJob(ctx context.Context, name string) (string, bool, error) {
	if !s.limiter.Enabled() {
		return "", true, nil
	}
	return s.limiter.TryLockJob(ctx, name)
}

func (s *Scheduler) unlockJob(name, token string) {
	if !s.limiter.Enabled() || token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.limiter.ReleaseJob(ctx, name, token); err != nil {
		s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
	}
}
