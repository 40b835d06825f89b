package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/groundsignal/groundsignal/internal/refcode/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) UpsertMapping(ctx context.Context, mapping *domain.RefcodeMapping) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO refcode_mappings (
			id, org_id, refcode, platform, campaign_id, ad_id, creative_id, campaign_name, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, refcode) DO UPDATE SET
			platform = excluded.platform,
			campaign_id = excluded.campaign_id,
			ad_id = excluded.ad_id,
			creative_id = excluded.creative_id,
			campaign_name = excluded.campaign_name,
			updated_at = excluded.updated_at`,
		mapping.ID,
		mapping.OrgID,
		mapping.Refcode,
		mapping.Platform,
		mapping.CampaignID,
		mapping.AdID,
		mapping.CreativeID,
		mapping.CampaignName,
		mapping.UpdatedAt,
	).Error
}

func (r *repository) FindMapping(ctx context.Context, orgID snowflake.ID, refcode string) (*domain.RefcodeMapping, error) {
	var item domain.RefcodeMapping
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM refcode_mappings WHERE org_id = ? AND refcode = ? LIMIT 1`,
		orgID,
		refcode,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repository) ListMappings(ctx context.Context, orgID snowflake.ID) ([]domain.RefcodeMapping, error) {
	var items []domain.RefcodeMapping
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM refcode_mappings WHERE org_id = ? ORDER BY refcode ASC`,
		orgID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
