package adgraph

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/groundsignal/groundsignal/internal/clock"
	orgdomain "github.com/groundsignal/groundsignal/internal/organization/domain"
	refcodedomain "github.com/groundsignal/groundsignal/internal/refcode/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Refresher pulls ad metadata from the graph API and upserts refcode
// mappings. Last writer wins per (org, refcode): the graph returns ads
// most-recently-active last, so a shared refcode resolves to the newest ad.
type Refresher struct {
	client   *Client
	orgs     orgdomain.Repository
	mappings refcodedomain.Repository
	genID    *snowflake.Node
	clock    clock.Clock
	log      *zap.Logger
}

type RefresherParams struct {
	fx.In

	Client   *Client
	Orgs     orgdomain.Repository
	Mappings refcodedomain.Repository
	GenID    *snowflake.Node
	Clock    clock.Clock
	Log      *zap.Logger
}

func NewRefresher(p RefresherParams) *Refresher {
	return &Refresher{
		client:   p.Client,
		orgs:     p.Orgs,
		mappings: p.Mappings,
		genID:    p.GenID,
		clock:    p.Clock,
		log:      p.Log.Named("adgraph.refresh"),
	}
}

// RefreshAll refreshes every organization that carries a graph token.
// Per-org failures are logged and skipped, not propagated.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	orgs, err := r.orgs.ListWithProcessorCredentials(ctx)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		if org.AdGraphToken == "" {
			continue
		}
		if err := r.RefreshOrg(ctx, org.ID, org.AdGraphToken); err != nil {
			if ctx.Err() != nil {
				return err
			}
			r.log.Warn("mapping refresh failed for org",
				zap.String("org_id", org.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// RefreshOrg upserts one organization's mappings from its current ads.
func (r *Refresher) RefreshOrg(ctx context.Context, orgID snowflake.ID, token string) error {
	ads, err := r.client.ListAds(ctx, token)
	if err != nil {
		return err
	}

	now := r.clock.Now()
	refreshed := 0
	for _, ad := range ads {
		if ad.Refcode == "" {
			continue
		}
		mapping := &refcodedomain.RefcodeMapping{
			ID:           r.genID.Generate(),
			OrgID:        orgID,
			Refcode:      ad.Refcode,
			Platform:     ad.Platform,
			CampaignID:   ad.CampaignID,
			AdID:         ad.AdID,
			CreativeID:   ad.CreativeID,
			CampaignName: ad.CampaignName,
			UpdatedAt:    now,
		}
		if err := r.mappings.UpsertMapping(ctx, mapping); err != nil {
			return err
		}
		refreshed++
	}

	r.log.Info("refcode mappings refreshed",
		zap.String("org_id", orgID.String()),
		zap.Int("mappings", refreshed),
	)
	return nil
}
