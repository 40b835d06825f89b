package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Repository is the attribution writer. Upserts are all-or-nothing per
// record; the writer never accumulates numeric fields itself, callers must
// aggregate before upserting to avoid double counting on retries.
type Repository interface {
	GetRefcodeRecord(ctx context.Context, orgID snowflake.ID, refcode string) (*AttributionRecord, error)
	UpsertRefcodeRecord(ctx context.Context, record *AttributionRecord) error
	UpsertTransactionRecord(ctx context.Context, record *AttributionRecord) error
	ListRecords(ctx context.Context, orgID snowflake.ID) ([]AttributionRecord, error)
}
