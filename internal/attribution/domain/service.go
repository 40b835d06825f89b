package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// AutoMatchRequest drives one auto-match run. Dry runs never write.
type AutoMatchRequest struct {
	OrgID         snowflake.ID
	DryRun        bool
	MinConfidence float64
}

// MatchResult describes one transaction's match outcome.
type MatchResult struct {
	TransactionID snowflake.ID `json:"transaction_id"`
	Refcode       string       `json:"refcode"`
	Campaign      CampaignRef  `json:"campaign"`
	Confidence    float64      `json:"confidence"`
	Method        string       `json:"method"`
	Reason        string       `json:"reason"`
}

// AutoMatchSummary aggregates one auto-match run.
type AutoMatchSummary struct {
	Processed      int  `json:"processed"`
	Matched        int  `json:"matched"`
	Unmatched      int  `json:"unmatched"`
	RecordsWritten int  `json:"records_written"`
	DryRun         bool `json:"dry_run"`
}

// AutoMatchResult is the full response of an auto-match run.
type AutoMatchResult struct {
	Matches   []MatchResult    `json:"matches"`
	Unmatched []MatchResult    `json:"unmatched"`
	Summary   AutoMatchSummary `json:"summary"`
}

// BackfillRequest drives a historical attribution pass over a date range.
type BackfillRequest struct {
	OrgID     snowflake.ID
	StartDate time.Time
	EndDate   time.Time
	DryRun    bool
}

// BatchSummary reports one processed batch of a historical backfill.
type BatchSummary struct {
	BatchStart time.Time `json:"batch_start"`
	BatchEnd   time.Time `json:"batch_end"`
	Processed  int       `json:"processed"`
	Attributed int       `json:"attributed"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
}

// BackfillResult is the full response of a historical attribution pass.
type BackfillResult struct {
	Batches    []BatchSummary `json:"batches"`
	Processed  int            `json:"processed"`
	Attributed int            `json:"attributed"`
	Skipped    int            `json:"skipped"`
	DryRun     bool           `json:"dry_run"`
}

type Service interface {
	AutoMatch(ctx context.Context, req AutoMatchRequest) (*AutoMatchResult, error)
	BackfillAttribution(ctx context.Context, req BackfillRequest) (*BackfillResult, error)
}
