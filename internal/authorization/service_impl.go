package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/groundsignal/groundsignal/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor, orgID, object, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor, orgID)
	if err != nil {
		s.auditDenied(ctx, actor, orgID, object, action)
		return err
	}

	dom := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(subject, roleName, dom); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, dom, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, orgID, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor, orgID string) (string, string, error) {
	switch {
	case actor == "system" || actor == "scheduler":
		return actor, "role:system", nil
	case strings.HasPrefix(actor, "user:"):
		userIDRaw := strings.TrimPrefix(actor, "user:")
		userID, err := snowflake.ParseString(userIDRaw)
		if err != nil || userID == 0 {
			return "", "", ErrInvalidActor
		}
		parsedOrgID, err := snowflake.ParseString(orgID)
		if err != nil || parsedOrgID == 0 {
			return "", "", ErrInvalidOrganization
		}
		role, err := s.roleForUser(ctx, parsedOrgID, userID)
		if err != nil {
			return "", "", err
		}
		return actor, fmt.Sprintf("role:%s", strings.ToLower(role)), nil
	}
	return "", "", ErrInvalidActor
}

func (s *ServiceImpl) roleForUser(ctx context.Context, orgID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM organization_members
		 WHERE org_id = ? AND user_id = ?
		 LIMIT 1`,
		orgID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

// ensureGrouping keeps the actor bound to exactly one role per org domain,
// dropping stale bindings left by membership role changes.
func (s *ServiceImpl) ensureGrouping(subject, roleName, dom string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", dom)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, dom)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, dom)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor, orgID, object, action string) {
	if s.auditSvc == nil {
		return
	}
	parsedOrgID, err := snowflake.ParseString(orgID)
	if err != nil || parsedOrgID == 0 {
		return
	}
	_ = s.auditSvc.AuditLog(ctx, &parsedOrgID, actor, "authorization.denied", "authorization", object, map[string]any{
		"object": object,
		"action": action,
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Members can inspect, never mutate.
		{"role:member", "*", ObjectBackfill, ActionBackfillView},
		{"role:member", "*", ObjectAuditLog, ActionAuditLogView},

		// Admins run the engine for their org.
		{"role:admin", "*", ObjectBackfill, ActionBackfillView},
		{"role:admin", "*", ObjectBackfill, ActionBackfillTrigger},
		{"role:admin", "*", ObjectBackfill, ActionBackfillCancel},
		{"role:admin", "*", ObjectAttribution, ActionAttributionMatch},
		{"role:admin", "*", ObjectAttribution, ActionAttributionBackfill},
		{"role:admin", "*", ObjectReconciliation, ActionReconciliationRun},
		{"role:admin", "*", ObjectMismatch, ActionMismatchDetect},
		{"role:admin", "*", ObjectAuditLog, ActionAuditLogView},

		// Owners hold the full admin set.
		{"role:owner", "*", ObjectBackfill, ActionBackfillView},
		{"role:owner", "*", ObjectBackfill, ActionBackfillTrigger},
		{"role:owner", "*", ObjectBackfill, ActionBackfillCancel},
		{"role:owner", "*", ObjectAttribution, ActionAttributionMatch},
		{"role:owner", "*", ObjectAttribution, ActionAttributionBackfill},
		{"role:owner", "*", ObjectReconciliation, ActionReconciliationRun},
		{"role:owner", "*", ObjectMismatch, ActionMismatchDetect},
		{"role:owner", "*", ObjectAuditLog, ActionAuditLogView},

		// Automated actors (admin token, scheduler) act as role:system.
		{"role:system", "*", ObjectBackfill, ActionBackfillView},
		{"role:system", "*", ObjectBackfill, ActionBackfillTrigger},
		{"role:system", "*", ObjectBackfill, ActionBackfillCancel},
		{"role:system", "*", ObjectAttribution, ActionAttributionMatch},
		{"role:system", "*", ObjectAttribution, ActionAttributionBackfill},
		{"role:system", "*", ObjectReconciliation, ActionReconciliationRun},
		{"role:system", "*", ObjectMismatch, ActionMismatchDetect},
		{"role:system", "*", ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
