package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/groundsignal/groundsignal/internal/organization/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) GetOrganization(ctx context.Context, orgID snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, name, slug, processor_api_key, ad_graph_token, metadata, created_at, updated_at
		 FROM organizations
		 WHERE id = ?
		 LIMIT 1`,
		orgID,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, domain.ErrOrganizationNotFound
	}
	return &org, nil
}

func (r *repository) ListWithProcessorCredentials(ctx context.Context) ([]domain.Organization, error) {
	var orgs []domain.Organization
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, name, slug, processor_api_key, ad_graph_token, metadata, created_at, updated_at
		 FROM organizations
		 WHERE processor_api_key <> ''
		 ORDER BY id ASC`,
	).Scan(&orgs).Error
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

func (r *repository) IsMember(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM organization_members WHERE org_id = ? AND user_id = ?`,
		orgID,
		userID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
