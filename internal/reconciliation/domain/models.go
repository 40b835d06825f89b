// Package domain defines the reconciliation auditor's contracts.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Result is one organization's drift comparison for one run. Results are
// returned and logged per run, not persisted.
type Result struct {
	OrgID              snowflake.ID `json:"org_id"`
	WindowStart        time.Time    `json:"window_start"`
	WindowEnd          time.Time    `json:"window_end"`
	LocalCount         int64        `json:"local_count"`
	LocalTotalCents    int64        `json:"local_total_cents"`
	ExternalCount      int64        `json:"external_count"`
	ExternalTotalCents int64        `json:"external_total_cents"`
	CountDiff          int64        `json:"count_diff"`
	AbsoluteDiffCents  int64        `json:"absolute_diff_cents"`
	PercentDiff        float64      `json:"percent_diff"`
	Discrepancy        bool         `json:"discrepancy"`
	BackfillTriggered  bool         `json:"backfill_triggered"`
	BackfillJobID      snowflake.ID `json:"backfill_job_id,omitempty"`
	Error              string       `json:"error,omitempty"`
}

type Service interface {
	// Run reconciles one organization, or every organization with
	// processor credentials when orgID is zero. Per-org failures are
	// isolated into the org's result and never abort the run.
	Run(ctx context.Context, orgID snowflake.ID) ([]Result, error)
}
