package processor

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	backfilldomain "github.com/groundsignal/groundsignal/internal/backfill/domain"
	"github.com/groundsignal/groundsignal/internal/clock"
	ledgerdomain "github.com/groundsignal/groundsignal/internal/ledger/domain"
	orgdomain "github.com/groundsignal/groundsignal/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ChunkIngestor fetches one chunk's window from the export API and upserts
// the rows into the transaction ledger. Upserts are keyed by
// (org, external id), so re-ingesting a window on retry never duplicates.
type ChunkIngestor struct {
	client *Client
	orgs   orgdomain.Repository
	ledger ledgerdomain.Repository
	genID  *snowflake.Node
	clock  clock.Clock
	log    *zap.Logger
}

type IngestorParams struct {
	fx.In

	Client *Client
	Orgs   orgdomain.Repository
	Ledger ledgerdomain.Repository
	GenID  *snowflake.Node
	Clock  clock.Clock
	Log    *zap.Logger
}

func NewChunkIngestor(p IngestorParams) backfilldomain.ChunkProcessor {
	return &ChunkIngestor{
		client: p.Client,
		orgs:   p.Orgs,
		ledger: p.Ledger,
		genID:  p.GenID,
		clock:  p.Clock,
		log:    p.Log.Named("processor.ingest"),
	}
}

func (i *ChunkIngestor) ProcessChunk(ctx context.Context, job *backfilldomain.BackfillJob, chunk *backfilldomain.BackfillChunk) (int, error) {
	org, err := i.orgs.GetOrganization(ctx, chunk.OrgID)
	if err != nil {
		return 0, err
	}
	if !org.HasProcessorCredentials() {
		return 0, fmt.Errorf("organization %s has no processor credentials", org.ID)
	}

	rows, err := i.client.FetchWindow(ctx, org.ProcessorAPIKey, chunk.StartDate, chunk.EndDate)
	if err != nil {
		return 0, fmt.Errorf("fetch window: %w", err)
	}

	now := i.clock.Now()
	inserted := 0
	for _, row := range rows {
		tx := &ledgerdomain.Transaction{
			ID:         i.genID.Generate(),
			OrgID:      chunk.OrgID,
			ExternalID: row.ExternalID,
			OccurredAt: row.OccurredAt,
			GrossCents: row.GrossCents,
			FeeCents:   row.FeeCents,
			NetCents:   row.NetCents,
			DonorEmail: row.DonorEmail,
			Refcode:    row.Refcode,
			RefcodeAlt: row.RefcodeAlt,
			ClickID:    row.ClickID,
			Recurring:  row.Recurring,
			CreatedAt:  now,
		}
		ok, err := i.ledger.UpsertTransaction(ctx, tx)
		if err != nil {
			return inserted, fmt.Errorf("upsert transaction %s: %w", row.ExternalID, err)
		}
		if ok {
			inserted++
		}
	}

	i.log.Debug("chunk ingested",
		zap.String("job_id", job.ID.String()),
		zap.Int("chunk_index", chunk.ChunkIndex),
		zap.Int("rows", len(rows)),
		zap.Int("inserted", inserted),
	)
	return len(rows), nil
}
