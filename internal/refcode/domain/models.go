// Package domain contains persistence models for learned refcode mappings.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// RefcodeMapping associates an (organization, refcode) pair with the ad
// platform objects that used the code. Unique per (org, refcode) and
// last-writer-wins on refresh so a code shared by multiple ads resolves to
// the most recently active ad.
type RefcodeMapping struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID `gorm:"not null;index;uniqueIndex:ux_refcode_mappings_org_code,priority:1" json:"org_id"`
	Refcode      string       `gorm:"type:text;not null;uniqueIndex:ux_refcode_mappings_org_code,priority:2" json:"refcode"`
	Platform     string       `gorm:"type:text;not null" json:"platform"`
	CampaignID   string       `gorm:"type:text;column:campaign_id;not null" json:"campaign_id"`
	AdID         string       `gorm:"type:text;column:ad_id" json:"ad_id"`
	CreativeID   string       `gorm:"type:text;column:creative_id" json:"creative_id"`
	CampaignName string       `gorm:"type:text;column:campaign_name" json:"campaign_name"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (RefcodeMapping) TableName() string { return "refcode_mappings" }
