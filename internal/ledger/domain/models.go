// Package domain contains persistence models for the donation ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Transaction is an immutable donation record. The only permitted mutations
// after ingestion are attaching a donor phone hash and attribution fields.
type Transaction struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID `gorm:"not null;index;uniqueIndex:ux_transactions_org_external,priority:1" json:"org_id"`
	ExternalID     string       `gorm:"type:text;not null;uniqueIndex:ux_transactions_org_external,priority:2" json:"external_id"`
	OccurredAt     time.Time    `gorm:"not null;index" json:"occurred_at"`
	GrossCents     int64        `gorm:"not null" json:"gross_cents"`
	FeeCents       int64        `gorm:"not null" json:"fee_cents"`
	NetCents       int64        `gorm:"not null" json:"net_cents"`
	DonorEmail     string       `gorm:"type:text;index" json:"donor_email"`
	DonorPhoneHash string       `gorm:"type:text;column:donor_phone_hash" json:"donor_phone_hash"`
	Refcode        string       `gorm:"type:text;index" json:"refcode"`
	RefcodeAlt     string       `gorm:"type:text;column:refcode_alt" json:"refcode_alt"`
	ClickID        string       `gorm:"type:text;column:click_id;index" json:"click_id"`
	Recurring      bool         `gorm:"not null;default:false" json:"recurring"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }

// Touchpoint records a donor's exposure to a marketing channel before donating.
type Touchpoint struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID      `gorm:"not null;index" json:"org_id"`
	Type       string            `gorm:"type:text;not null" json:"type"`
	DonorEmail string            `gorm:"type:text;index" json:"donor_email"`
	Refcode    string            `gorm:"type:text;index" json:"refcode"`
	UTMSource  string            `gorm:"type:text;column:utm_source" json:"utm_source"`
	UTMMedium  string            `gorm:"type:text;column:utm_medium" json:"utm_medium"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	OccurredAt time.Time         `gorm:"not null;index" json:"occurred_at"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Touchpoint) TableName() string { return "touchpoints" }

const (
	TouchpointTypeAd      = "ad"
	TouchpointTypeSMS     = "sms"
	TouchpointTypeEmail   = "email"
	TouchpointTypeOrganic = "organic"
)

// Touchpoint metadata keys holding channel-specific click identifiers.
const (
	MetaKeyClickID = "click_id"
	MetaKeyFBC     = "fbc"
	MetaKeyFBCLID  = "fbclid"
)

// ClickID returns the platform click identifier carried in metadata, if any.
func (t Touchpoint) ClickID() string { return t.metaString(MetaKeyClickID) }

// BrowserCookie returns the browser click cookie carried in metadata, if any.
func (t Touchpoint) BrowserCookie() string { return t.metaString(MetaKeyFBC) }

func (t Touchpoint) metaString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	if value, ok := t.Metadata[key].(string); ok {
		return value
	}
	return ""
}

// ConversionEvent links a transaction to the click identifier that claimed it.
type ConversionEvent struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID      `gorm:"not null;index" json:"org_id"`
	TransactionID snowflake.ID      `gorm:"not null;index" json:"transaction_id"`
	ClickID       string            `gorm:"type:text;column:click_id;not null;index" json:"click_id"`
	Status        string            `gorm:"type:text;not null;default:'active'" json:"status"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	OccurredAt    time.Time         `gorm:"not null" json:"occurred_at"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ConversionEvent) TableName() string { return "conversion_events" }

const (
	EventStatusActive        = "active"
	EventStatusSuperseded    = "superseded"
	EventStatusMisattributed = "misattributed"
)

// MinLongFormClickIDLen is the shortest click identifier treated as full form.
const MinLongFormClickIDLen = 20

// IsLongFormClickID reports whether the identifier is a full (non-truncated)
// browser click id. Truncated ids are too short to cross-reference safely.
func IsLongFormClickID(clickID string) bool {
	return len(clickID) >= MinLongFormClickIDLen
}
