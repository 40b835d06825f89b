// Package domain defines the audit trail written for operator actions.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog records one operator or system action against a target entity.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      *snowflake.ID     `gorm:"index" json:"org_id,omitempty"`
	Actor      string            `gorm:"type:text;not null" json:"actor"`
	Action     string            `gorm:"type:text;not null;index" json:"action"`
	TargetType string            `gorm:"type:text;not null" json:"target_type"`
	TargetID   string            `gorm:"type:text" json:"target_id"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// Actions written by the engine.
const (
	ActionBackfillTriggered   = "backfill.triggered"
	ActionBackfillCancelled   = "backfill.cancelled"
	ActionMismatchCorrected   = "mismatch.corrected"
	ActionReconciliationDrift = "reconciliation.drift_detected"
)

type Service interface {
	AuditLog(ctx context.Context, orgID *snowflake.ID, actor, action, targetType, targetID string, metadata map[string]any) error
}
