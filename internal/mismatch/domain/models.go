// Package domain defines the click-id mismatch detector's contracts.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Classification of one reviewed conversion event.
const (
	ClassificationValid         = "valid"
	ClassificationCorrectable   = "correctable"
	ClassificationUncorrectable = "uncorrectable"
)

// Result is the review outcome for one conversion event.
type Result struct {
	EventID          snowflake.ID `json:"event_id"`
	TransactionID    snowflake.ID `json:"transaction_id"`
	Classification   string       `json:"classification"`
	IncorrectClickID string       `json:"incorrect_click_id,omitempty"`
	CorrectClickID   string       `json:"correct_click_id,omitempty"`
	TransactionDonor string       `json:"transaction_donor,omitempty"`
	TouchpointDonor  string       `json:"touchpoint_donor,omitempty"`
	Corrected        bool         `json:"corrected"`
	Reason           string       `json:"reason,omitempty"`
}

// Summary aggregates one detection pass.
type Summary struct {
	Reviewed      int `json:"reviewed"`
	Valid         int `json:"valid"`
	Correctable   int `json:"correctable"`
	Uncorrectable int `json:"uncorrectable"`
	Corrected     int `json:"corrected"`
}

type DetectRequest struct {
	OrgID        snowflake.ID
	DryRun       bool
	Limit        int
	IncludeValid bool
}

type DetectResult struct {
	OrgID   snowflake.ID `json:"org_id"`
	DryRun  bool         `json:"dry_run"`
	Summary Summary      `json:"summary"`
	Results []Result     `json:"results"`
}

type Service interface {
	// Detect reviews recent conversion events whose click identifiers are
	// long enough to cross-reference, classifies each, and unless DryRun
	// marks correctable events as misattributed.
	Detect(ctx context.Context, req DetectRequest) (*DetectResult, error)
}
