package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/groundsignal/groundsignal/internal/audit/domain"
	ledgerdomain "github.com/groundsignal/groundsignal/internal/ledger/domain"
	"github.com/groundsignal/groundsignal/internal/mismatch/domain"
	"github.com/groundsignal/groundsignal/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultReviewLimit = 100

type Params struct {
	fx.In

	Log      *zap.Logger
	Ledger   ledgerdomain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	ledger   ledgerdomain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		log:      p.Log.Named("mismatch.service"),
		ledger:   p.Ledger,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Detect(ctx context.Context, req domain.DetectRequest) (*domain.DetectResult, error) {
	if req.OrgID == 0 {
		return nil, ledgerdomain.ErrInvalidOrganization
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultReviewLimit
	}

	events, err := s.ledger.ListReviewableConversionEvents(ctx, req.OrgID, limit)
	if err != nil {
		return nil, err
	}

	out := &domain.DetectResult{
		OrgID:  req.OrgID,
		DryRun: req.DryRun,
	}
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := s.reviewEvent(ctx, req, event)
		if err != nil {
			return nil, err
		}
		out.Summary.Reviewed++
		switch result.Classification {
		case domain.ClassificationValid:
			out.Summary.Valid++
		case domain.ClassificationCorrectable:
			out.Summary.Correctable++
		case domain.ClassificationUncorrectable:
			out.Summary.Uncorrectable++
		}
		if result.Corrected {
			out.Summary.Corrected++
		}
		if result.Classification == domain.ClassificationValid && !req.IncludeValid {
			continue
		}
		out.Results = append(out.Results, result)
	}

	s.log.Info("mismatch detection finished",
		zap.String("org_id", req.OrgID.String()),
		zap.Bool("dry_run", req.DryRun),
		zap.Int("reviewed", out.Summary.Reviewed),
		zap.Int("correctable", out.Summary.Correctable),
		zap.Int("uncorrectable", out.Summary.Uncorrectable),
		zap.Int("corrected", out.Summary.Corrected),
	)
	return out, nil
}

// reviewEvent cross-references one conversion event's click identifier
// against the touchpoint that carried it. A donor email disagreement means
// the click was claimed by the wrong donation.
func (s *Service) reviewEvent(ctx context.Context, req domain.DetectRequest, event ledgerdomain.ConversionEvent) (domain.Result, error) {
	result := domain.Result{
		EventID:          event.ID,
		TransactionID:    event.TransactionID,
		Classification:   domain.ClassificationValid,
		IncorrectClickID: event.ClickID,
	}

	tx, err := s.ledger.FindTransaction(ctx, req.OrgID, event.TransactionID)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrTransactionNotFound) {
			result.Reason = "transaction no longer present"
			return result, nil
		}
		return result, err
	}
	result.TransactionDonor = tx.DonorEmail

	touchpoint, err := s.findClaimingTouchpoint(ctx, req.OrgID, event.ClickID)
	if err != nil {
		return result, err
	}
	if touchpoint == nil || touchpoint.DonorEmail == "" {
		result.Reason = "no touchpoint with a known donor carries this click id"
		return result, nil
	}
	result.TouchpointDonor = touchpoint.DonorEmail

	if strings.EqualFold(tx.DonorEmail, touchpoint.DonorEmail) {
		return result, nil
	}

	metrics.Engine().IncMismatchDetected("click_id")

	// The click belongs to another donor. The event is correctable only
	// when the transaction's own donor has a full-form click of their own.
	own, err := s.ledger.FindLatestLongFormTouchpointByEmail(ctx, req.OrgID, tx.DonorEmail, tx.OccurredAt)
	if err != nil {
		return result, err
	}
	if own == nil || own.BrowserCookie() == "" {
		result.Classification = domain.ClassificationUncorrectable
		result.Reason = "donor has no full-form click of their own"
		return result, nil
	}

	result.Classification = domain.ClassificationCorrectable
	result.CorrectClickID = own.BrowserCookie()

	if req.DryRun {
		return result, nil
	}
	if err := s.correctEvent(ctx, req, event, result); err != nil {
		return result, err
	}
	result.Corrected = true
	return result, nil
}

// findClaimingTouchpoint resolves the touchpoint that originally carried the
// event's click identifier, by browser cookie first and platform id second.
func (s *Service) findClaimingTouchpoint(ctx context.Context, orgID snowflake.ID, clickID string) (*ledgerdomain.Touchpoint, error) {
	if clickID == "" {
		return nil, nil
	}
	touchpoint, err := s.ledger.FindTouchpointByCookie(ctx, orgID, clickID)
	if err != nil {
		return nil, err
	}
	if touchpoint != nil {
		return touchpoint, nil
	}
	return s.ledger.FindTouchpointByClickID(ctx, orgID, clickID)
}

func (s *Service) correctEvent(ctx context.Context, req domain.DetectRequest, event ledgerdomain.ConversionEvent, result domain.Result) error {
	err := s.ledger.MarkEventMisattributed(ctx, event.ID, map[string]any{
		"incorrect_fbc":     result.IncorrectClickID,
		"correct_fbc":       result.CorrectClickID,
		"transaction_donor": result.TransactionDonor,
		"touchpoint_donor":  result.TouchpointDonor,
	})
	if err != nil {
		return err
	}
	metrics.Engine().IncMismatchCorrected()

	if s.auditSvc != nil {
		orgID := req.OrgID
		if err := s.auditSvc.AuditLog(ctx, &orgID, "", auditdomain.ActionMismatchCorrected, "conversion_event", event.ID.String(), map[string]any{
			"incorrect_fbc": result.IncorrectClickID,
			"correct_fbc":   result.CorrectClickID,
		}); err != nil {
			s.log.Warn("failed to write mismatch audit log", zap.Error(err))
		}
	}
	return nil
}
