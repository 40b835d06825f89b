// Package domain contains the attribution engine's models and contracts.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Match methods, strongest first. MethodDirect marks an exact refcode hit,
// MethodPattern a channel-prefix convention hit, MethodFuzzy a word-overlap
// hit, MethodClickID and MethodFBCLID touchpoint correlations, and
// MethodNone the absence of any match.
const (
	MethodDirect  = "direct"
	MethodPattern = "pattern"
	MethodFuzzy   = "fuzzy"
	MethodClickID = "click_id"
	MethodFBCLID  = "fbclid"
	MethodEmail   = "email"
	MethodNone    = "none"
)

var (
	ErrInvalidOrganization = errors.New("invalid organization")
	ErrInvalidConfidence   = errors.New("confidence out of range")
	ErrInvalidRecordKey    = errors.New("attribution record needs a refcode or transaction key")
)

// CampaignRef is read-only ad platform metadata the matcher resolves against.
type CampaignRef struct {
	Platform   string `json:"platform"`
	CampaignID string `json:"campaign_id"`
	AdID       string `json:"ad_id"`
	CreativeID string `json:"creative_id"`
	Name       string `json:"name"`
}

// Match is the outcome of running one refcode or transaction through the
// matching tiers.
type Match struct {
	Campaign   CampaignRef `json:"campaign"`
	Confidence float64     `json:"confidence"`
	Method     string      `json:"method"`
	Reason     string      `json:"reason"`
}

// Matched reports whether the match carries a campaign reference.
func (m Match) Matched() bool { return m.Method != MethodNone && m.Method != "" }

// NoMatch is the empty result: method none, confidence zero, no campaign.
func NoMatch(reason string) Match {
	return Match{Method: MethodNone, Confidence: 0, Reason: reason}
}

// AttributionRecord is the engine's output entity, keyed either by
// (org, refcode) or (org, transaction). Records are upserted repeatedly and
// never deleted, only overwritten.
type AttributionRecord struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID            snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_attribution_org_refcode,priority:1;uniqueIndex:ux_attribution_org_tx,priority:1" json:"org_id"`
	Refcode          *string       `gorm:"type:text;uniqueIndex:ux_attribution_org_refcode,priority:2" json:"refcode,omitempty"`
	TransactionID    *snowflake.ID `gorm:"column:transaction_id;uniqueIndex:ux_attribution_org_tx,priority:2" json:"transaction_id,omitempty"`
	Platform         string        `gorm:"type:text" json:"platform"`
	CampaignID       string        `gorm:"type:text;column:campaign_id" json:"campaign_id"`
	AdID             string        `gorm:"type:text;column:ad_id" json:"ad_id"`
	CreativeID       string        `gorm:"type:text;column:creative_id" json:"creative_id"`
	Confidence       float64       `gorm:"not null" json:"confidence"`
	MatchMethod      string        `gorm:"type:text;not null" json:"match_method"`
	RevenueCents     int64         `gorm:"not null;default:0" json:"revenue_cents"`
	TransactionCount int64         `gorm:"not null;default:0" json:"transaction_count"`
	MatchedAt        time.Time     `gorm:"not null" json:"matched_at"`
	UpdatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (AttributionRecord) TableName() string { return "attribution_records" }

// Validate enforces the record invariants before any write.
func (r *AttributionRecord) Validate() error {
	if r.OrgID == 0 {
		return ErrInvalidOrganization
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if r.MatchMethod == MethodNone && (r.Confidence != 0 || r.CampaignID != "") {
		return ErrInvalidConfidence
	}
	hasRefcode := r.Refcode != nil && *r.Refcode != ""
	hasTx := r.TransactionID != nil && *r.TransactionID != 0
	if !hasRefcode && !hasTx {
		return ErrInvalidRecordKey
	}
	return nil
}
