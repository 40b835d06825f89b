package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/groundsignal/groundsignal/internal/attribution/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) GetRefcodeRecord(ctx context.Context, orgID snowflake.ID, code string) (*domain.AttributionRecord, error) {
	var item domain.AttributionRecord
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM attribution_records
		 WHERE org_id = ? AND refcode = ?
		 LIMIT 1`,
		orgID,
		code,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repository) UpsertRefcodeRecord(ctx context.Context, record *domain.AttributionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.Refcode == nil || *record.Refcode == "" {
		return domain.ErrInvalidRecordKey
	}
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO attribution_records (
			id, org_id, refcode, transaction_id, platform, campaign_id, ad_id, creative_id,
			confidence, match_method, revenue_cents, transaction_count, matched_at, updated_at
		) VALUES (?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, refcode) DO UPDATE SET
			platform = excluded.platform,
			campaign_id = excluded.campaign_id,
			ad_id = excluded.ad_id,
			creative_id = excluded.creative_id,
			confidence = excluded.confidence,
			match_method = excluded.match_method,
			revenue_cents = excluded.revenue_cents,
			transaction_count = excluded.transaction_count,
			matched_at = excluded.matched_at,
			updated_at = excluded.updated_at`,
		record.ID,
		record.OrgID,
		*record.Refcode,
		record.Platform,
		record.CampaignID,
		record.AdID,
		record.CreativeID,
		record.Confidence,
		record.MatchMethod,
		record.RevenueCents,
		record.TransactionCount,
		record.MatchedAt,
		record.UpdatedAt,
	).Error
}

func (r *repository) UpsertTransactionRecord(ctx context.Context, record *domain.AttributionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.TransactionID == nil || *record.TransactionID == 0 {
		return domain.ErrInvalidRecordKey
	}
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO attribution_records (
			id, org_id, refcode, transaction_id, platform, campaign_id, ad_id, creative_id,
			confidence, match_method, revenue_cents, transaction_count, matched_at, updated_at
		) VALUES (?, ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, transaction_id) DO UPDATE SET
			platform = excluded.platform,
			campaign_id = excluded.campaign_id,
			ad_id = excluded.ad_id,
			creative_id = excluded.creative_id,
			confidence = excluded.confidence,
			match_method = excluded.match_method,
			revenue_cents = excluded.revenue_cents,
			transaction_count = excluded.transaction_count,
			matched_at = excluded.matched_at,
			updated_at = excluded.updated_at`,
		record.ID,
		record.OrgID,
		*record.TransactionID,
		record.Platform,
		record.CampaignID,
		record.AdID,
		record.CreativeID,
		record.Confidence,
		record.MatchMethod,
		record.RevenueCents,
		record.TransactionCount,
		record.MatchedAt,
		record.UpdatedAt,
	).Error
}

func (r *repository) ListRecords(ctx context.Context, orgID snowflake.ID) ([]domain.AttributionRecord, error) {
	var items []domain.AttributionRecord
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM attribution_records WHERE org_id = ? ORDER BY updated_at DESC`,
		orgID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
