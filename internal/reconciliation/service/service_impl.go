package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/groundsignal/groundsignal/internal/audit/domain"
	backfilldomain "github.com/groundsignal/groundsignal/internal/backfill/domain"
	"github.com/groundsignal/groundsignal/internal/clock"
	"github.com/groundsignal/groundsignal/internal/config"
	ledgerdomain "github.com/groundsignal/groundsignal/internal/ledger/domain"
	"github.com/groundsignal/groundsignal/internal/observability/metrics"
	orgdomain "github.com/groundsignal/groundsignal/internal/organization/domain"
	"github.com/groundsignal/groundsignal/internal/providers/processor"
	"github.com/groundsignal/groundsignal/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	Clock     clock.Clock
	Orgs      orgdomain.Repository
	Ledger    ledgerdomain.Repository
	Processor *processor.Client
	Backfill  backfilldomain.Service
	AuditSvc  auditdomain.Service `optional:"true"`
}

type Service struct {
	cfg       config.ReconciliationConfig
	log       *zap.Logger
	clock     clock.Clock
	orgs      orgdomain.Repository
	ledger    ledgerdomain.Repository
	processor *processor.Client
	backfill  backfilldomain.Service
	auditSvc  auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:       p.Config.Reconciliation,
		log:       p.Log.Named("reconciliation.service"),
		clock:     p.Clock,
		orgs:      p.Orgs,
		ledger:    p.Ledger,
		processor: p.Processor,
		backfill:  p.Backfill,
		auditSvc:  p.AuditSvc,
	}
}

func (s *Service) Run(ctx context.Context, orgID snowflake.ID) ([]domain.Result, error) {
	var orgs []orgdomain.Organization
	if orgID != 0 {
		org, err := s.orgs.GetOrganization(ctx, orgID)
		if err != nil {
			return nil, err
		}
		orgs = []orgdomain.Organization{*org}
	} else {
		var err error
		orgs, err = s.orgs.ListWithProcessorCredentials(ctx)
		if err != nil {
			return nil, err
		}
	}

	// Sequential by design to bound concurrent load on the processor API.
	results := make([]domain.Result, 0, len(orgs))
	for _, org := range orgs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, s.reconcileOrg(ctx, org))
	}
	return results, nil
}

func (s *Service) reconcileOrg(ctx context.Context, org orgdomain.Organization) domain.Result {
	now := s.clock.Now()
	windowStart := now.AddDate(0, 0, -s.cfg.LookbackDays)

	result := domain.Result{
		OrgID:       org.ID,
		WindowStart: windowStart,
		WindowEnd:   now,
	}

	if !org.HasProcessorCredentials() {
		result.Error = "organization has no processor credentials"
		return result
	}

	local, err := s.ledger.Totals(ctx, org.ID, windowStart, now)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.LocalCount = local.Count
	result.LocalTotalCents = local.TotalCents

	external, err := s.processor.CountWindow(ctx, org.ProcessorAPIKey, windowStart, now)
	if err != nil {
		result.Error = err.Error()
		s.log.Warn("processor count failed",
			zap.String("org_id", org.ID.String()),
			zap.Error(err),
		)
		return result
	}
	result.ExternalCount = external.Count
	result.ExternalTotalCents = external.TotalCents

	result.CountDiff = external.Count - local.Count
	diff := local.TotalCents - external.TotalCents
	if diff < 0 {
		diff = -diff
	}
	result.AbsoluteDiffCents = diff
	if local.TotalCents != 0 {
		result.PercentDiff = float64(diff) / float64(local.TotalCents)
	}

	result.Discrepancy = result.CountDiff != 0 ||
		result.PercentDiff > s.cfg.PercentThreshold ||
		result.AbsoluteDiffCents > s.cfg.AbsoluteCents
	metrics.Engine().IncReconciliationRun(result.Discrepancy)

	if !result.Discrepancy {
		return result
	}

	s.log.Info("reconciliation drift detected",
		zap.String("org_id", org.ID.String()),
		zap.Int64("count_diff", result.CountDiff),
		zap.Int64("absolute_diff_cents", result.AbsoluteDiffCents),
		zap.Float64("percent_diff", result.PercentDiff),
	)
	if s.auditSvc != nil {
		orgID := org.ID
		if err := s.auditSvc.AuditLog(ctx, &orgID, "", auditdomain.ActionReconciliationDrift, "organization", orgID.String(), map[string]any{
			"count_diff":          result.CountDiff,
			"absolute_diff_cents": result.AbsoluteDiffCents,
			"percent_diff":        result.PercentDiff,
		}); err != nil {
			s.log.Warn("failed to write reconciliation audit log", zap.Error(err))
		}
	}

	// Only missing local data warrants a backfill; extra local rows are
	// never deleted by the auditor.
	if external.Count <= local.Count {
		return result
	}

	window := backfilldomain.Window{Start: windowStart, End: now}
	trigger, err := s.backfill.Trigger(ctx, backfilldomain.TriggerRequest{
		OrgID:            org.ID,
		ChunkSizeDays:    s.cfg.LookbackDays,
		StartImmediately: true,
		WindowOverride:   &window,
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.BackfillTriggered = true
	result.BackfillJobID = trigger.JobID
	metrics.Engine().IncBackfillTriggered()
	return result
}
