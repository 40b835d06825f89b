// Package domain contains persistence models for campaign organizations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Organization represents a campaign tenant.
type Organization struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name            string            `gorm:"type:text;not null" json:"name"`
	Slug            string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	ProcessorAPIKey string            `gorm:"type:text;column:processor_api_key" json:"-"`
	AdGraphToken    string            `gorm:"type:text;column:ad_graph_token" json:"-"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// HasProcessorCredentials reports whether the org can talk to the payment processor.
func (o Organization) HasProcessorCredentials() bool { return o.ProcessorAPIKey != "" }

// OrganizationMember represents membership of a user in an organization.
type OrganizationMember struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_user,priority:1" json:"org_id"`
	UserID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_user,priority:2" json:"user_id"`
	Role      string       `gorm:"type:text;not null" json:"role"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (OrganizationMember) TableName() string { return "organization_members" }

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)
