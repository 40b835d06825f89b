package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/groundsignal/groundsignal/internal/attribution/correlator"
	"github.com/groundsignal/groundsignal/internal/attribution/domain"
	"github.com/groundsignal/groundsignal/internal/attribution/matcher"
	"github.com/groundsignal/groundsignal/internal/clock"
	ledgerdomain "github.com/groundsignal/groundsignal/internal/ledger/domain"
	"github.com/groundsignal/groundsignal/internal/observability/metrics"
	refcodedomain "github.com/groundsignal/groundsignal/internal/refcode/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const backfillBatchDays = 7

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Ledger     ledgerdomain.Repository
	Mappings   refcodedomain.Repository
	Records    domain.Repository
	Matcher    *matcher.Matcher
	Correlator *correlator.Correlator
}

type Service struct {
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	ledger     ledgerdomain.Repository
	mappings   refcodedomain.Repository
	records    domain.Repository
	matcher    *matcher.Matcher
	correlator *correlator.Correlator
}

func NewService(p Params) domain.Service {
	return &Service{
		log:        p.Log.Named("attribution.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		ledger:     p.Ledger,
		mappings:   p.Mappings,
		records:    p.Records,
		matcher:    p.Matcher,
		correlator: p.Correlator,
	}
}

// AutoMatch runs every refcode-bearing transaction of the organization
// through the matching tiers and, outside dry runs, rebuilds the
// refcode-level attribution records from scratch so re-runs are idempotent.
func (s *Service) AutoMatch(ctx context.Context, req domain.AutoMatchRequest) (*domain.AutoMatchResult, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	minConfidence := req.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.7
	}

	now := s.clock.Now()
	campaigns, err := s.loadCampaigns(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}

	txs, err := s.ledger.ListTransactionsWithRefcode(ctx, req.OrgID, time.Time{}, now)
	if err != nil {
		return nil, err
	}

	result := &domain.AutoMatchResult{
		Matches:   []domain.MatchResult{},
		Unmatched: []domain.MatchResult{},
	}
	type aggregate struct {
		match   domain.Match
		revenue int64
		count   int64
	}
	byRefcode := map[string]*aggregate{}

	for i := range txs {
		tx := &txs[i]
		match := s.matchTransaction(ctx, tx, campaigns)
		entry := domain.MatchResult{
			TransactionID: tx.ID,
			Refcode:       tx.Refcode,
			Campaign:      match.Campaign,
			Confidence:    match.Confidence,
			Method:        match.Method,
			Reason:        match.Reason,
		}
		result.Summary.Processed++
		if !match.Matched() || match.Confidence < minConfidence {
			result.Summary.Unmatched++
			result.Unmatched = append(result.Unmatched, entry)
			continue
		}
		result.Summary.Matched++
		result.Matches = append(result.Matches, entry)
		metrics.Engine().RecordMatch(match.Method, match.Confidence)

		agg, ok := byRefcode[tx.Refcode]
		if !ok || match.Confidence > agg.match.Confidence {
			if !ok {
				agg = &aggregate{}
				byRefcode[tx.Refcode] = agg
			}
			agg.match = match
		}
		agg.revenue += tx.GrossCents
		agg.count++
	}

	result.Summary.DryRun = req.DryRun
	if req.DryRun {
		return result, nil
	}

	codes := make([]string, 0, len(byRefcode))
	for code := range byRefcode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		agg := byRefcode[code]
		code := code
		record := &domain.AttributionRecord{
			ID:               s.genID.Generate(),
			OrgID:            req.OrgID,
			Refcode:          &code,
			Platform:         agg.match.Campaign.Platform,
			CampaignID:       agg.match.Campaign.CampaignID,
			AdID:             agg.match.Campaign.AdID,
			CreativeID:       agg.match.Campaign.CreativeID,
			Confidence:       agg.match.Confidence,
			MatchMethod:      agg.match.Method,
			RevenueCents:     agg.revenue,
			TransactionCount: agg.count,
			MatchedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.records.UpsertRefcodeRecord(ctx, record); err != nil {
			s.log.Warn("attribution record write failed",
				zap.String("org_id", req.OrgID.String()),
				zap.String("refcode", code),
				zap.Error(err),
			)
			continue
		}
		result.Summary.RecordsWritten++
	}

	return result, nil
}

// BackfillAttribution walks a historical date range in week-sized batches
// and writes transaction-level attribution records.
func (s *Service) BackfillAttribution(ctx context.Context, req domain.BackfillRequest) (*domain.BackfillResult, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	now := s.clock.Now()
	end := req.EndDate
	if end.IsZero() {
		end = now
	}
	start := req.StartDate
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}

	campaigns, err := s.loadCampaigns(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}

	result := &domain.BackfillResult{Batches: []domain.BatchSummary{}, DryRun: req.DryRun}
	for batchStart := start; batchStart.Before(end); batchStart = batchStart.AddDate(0, 0, backfillBatchDays) {
		batchEnd := batchStart.AddDate(0, 0, backfillBatchDays)
		if batchEnd.After(end) {
			batchEnd = end
		}

		summary := domain.BatchSummary{BatchStart: batchStart, BatchEnd: batchEnd}
		txs, err := s.ledger.ListTransactions(ctx, req.OrgID, batchStart, batchEnd)
		if err != nil {
			// One bad batch does not abort the pass.
			summary.Errors++
			result.Batches = append(result.Batches, summary)
			s.log.Warn("attribution backfill batch failed",
				zap.Time("batch_start", batchStart),
				zap.Error(err),
			)
			continue
		}

		for i := range txs {
			tx := &txs[i]
			summary.Processed++
			match := s.matchTransaction(ctx, tx, campaigns)
			if !match.Matched() {
				summary.Skipped++
				continue
			}
			if req.DryRun {
				summary.Attributed++
				continue
			}
			txID := tx.ID
			record := &domain.AttributionRecord{
				ID:               s.genID.Generate(),
				OrgID:            req.OrgID,
				TransactionID:    &txID,
				Platform:         match.Campaign.Platform,
				CampaignID:       match.Campaign.CampaignID,
				AdID:             match.Campaign.AdID,
				CreativeID:       match.Campaign.CreativeID,
				Confidence:       match.Confidence,
				MatchMethod:      match.Method,
				RevenueCents:     tx.GrossCents,
				TransactionCount: 1,
				MatchedAt:        now,
				UpdatedAt:        now,
			}
			if err := s.records.UpsertTransactionRecord(ctx, record); err != nil {
				summary.Errors++
				continue
			}
			summary.Attributed++
			metrics.Engine().RecordMatch(match.Method, match.Confidence)
		}

		result.Batches = append(result.Batches, summary)
		result.Processed += summary.Processed
		result.Attributed += summary.Attributed
		result.Skipped += summary.Skipped
	}

	return result, nil
}

// matchTransaction resolves one transaction: declared mapping first, then
// the matcher tiers, then touchpoint correlation as a last resort.
func (s *Service) matchTransaction(ctx context.Context, tx *ledgerdomain.Transaction, campaigns []domain.CampaignRef) domain.Match {
	if tx.Refcode != "" {
		mapping, err := s.mappings.FindMapping(ctx, tx.OrgID, tx.Refcode)
		if err != nil {
			s.log.Warn("mapping lookup failed", zap.String("refcode", tx.Refcode), zap.Error(err))
		}
		if mapping != nil {
			return domain.Match{
				Campaign: domain.CampaignRef{
					Platform:   mapping.Platform,
					CampaignID: mapping.CampaignID,
					AdID:       mapping.AdID,
					CreativeID: mapping.CreativeID,
					Name:       mapping.CampaignName,
				},
				Confidence: 1.0,
				Method:     domain.MethodDirect,
				Reason:     "declared refcode mapping",
			}
		}

		if match := s.matcher.Match(tx.Refcode, campaigns); match.Matched() {
			return match
		}
	}

	correlation, err := s.correlator.Correlate(ctx, tx)
	if err != nil {
		s.log.Warn("touchpoint correlation failed", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
		return domain.NoMatch("correlation error")
	}
	if !correlation.Found() {
		if correlation.Mismatch {
			return domain.NoMatch("donor identity disagrees with identifier match")
		}
		return domain.NoMatch("no strategy matched")
	}

	match := domain.Match{
		Confidence: correlation.Confidence,
		Method:     correlation.Method,
		Reason:     "touchpoint correlation",
	}
	if code := correlation.Touchpoint.Refcode; code != "" {
		if mapped := s.matcher.Match(code, campaigns); mapped.Matched() {
			match.Campaign = mapped.Campaign
		}
	}
	return match
}

func (s *Service) loadCampaigns(ctx context.Context, orgID snowflake.ID) ([]domain.CampaignRef, error) {
	mappings, err := s.mappings.ListMappings(ctx, orgID)
	if err != nil {
		return nil, err
	}
	campaigns := make([]domain.CampaignRef, 0, len(mappings))
	for _, m := range mappings {
		campaigns = append(campaigns, domain.CampaignRef{
			Platform:   m.Platform,
			CampaignID: m.CampaignID,
			AdID:       m.AdID,
			CreativeID: m.CreativeID,
			Name:       m.CampaignName,
		})
	}
	return campaigns, nil
}
