package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/groundsignal/groundsignal/internal/audit/domain"
	"github.com/groundsignal/groundsignal/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) AuditLog(ctx context.Context, orgID *snowflake.ID, actor, action, targetType, targetID string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil
	}
	if actor == "" {
		actor = "system"
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, org_id, actor, action, target_type, target_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.genID.Generate(),
		orgID,
		actor,
		action,
		targetType,
		targetID,
		datatypes.JSONMap(metadata),
		s.clock.Now(),
	).Error
}
