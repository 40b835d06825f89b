package adgraph

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/groundsignal/groundsignal/internal/clock"
	"github.com/groundsignal/groundsignal/internal/config"
	"github.com/groundsignal/groundsignal/internal/migration"
	orgdomain "github.com/groundsignal/groundsignal/internal/organization/domain"
	refcoderepo "github.com/groundsignal/groundsignal/internal/refcode/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeOrgs struct {
	orgs []orgdomain.Organization
}

func (f *fakeOrgs) GetOrganization(_ context.Context, orgID snowflake.ID) (*orgdomain.Organization, error) {
	for _, org := range f.orgs {
		if org.ID == orgID {
			return &org, nil
		}
	}
	return nil, orgdomain.ErrOrganizationNotFound
}

func (f *fakeOrgs) ListWithProcessorCredentials(context.Context) ([]orgdomain.Organization, error) {
	return f.orgs, nil
}

func (f *fakeOrgs) IsMember(context.Context, snowflake.ID, snowflake.ID) (bool, error) {
	return false, nil
}

// adsServer serves two pages of ads behind a cursor.
func adsServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/ads" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer graph-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("after") == "" {
			fmt.Fprint(w, `{
				"data": [
					{"platform":"meta","campaign_id":"camp_old","campaign_name":"Winter Appeal 2023","ad_id":"ad_1","creative_id":"cr_1","refcode":"winter24"},
					{"platform":"meta","campaign_id":"camp_spring","campaign_name":"Spring Drive","ad_id":"ad_2","creative_id":"cr_2","refcode":"spring25"}
				],
				"paging": {"after": "cursor-2"}
			}`)
			return
		}
		fmt.Fprint(w, `{
			"data": [
				{"platform":"meta","campaign_id":"camp_new","campaign_name":"Winter Appeal 2024","ad_id":"ad_3","creative_id":"cr_3","refcode":"winter24"},
				{"platform":"meta","campaign_id":"camp_none","campaign_name":"No Link Ad","ad_id":"ad_4","creative_id":"cr_4","refcode":""}
			],
			"paging": {}
		}`)
	}))
}

func TestRefreshOrg_PagesAndUpserts(t *testing.T) {
	server := adsServer(t)
	defer server.Close()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	cfg := config.Config{AdGraph: config.AdGraphConfig{BaseURL: server.URL, Timeout: 5 * time.Second}}
	orgID := snowflake.ID(900)
	mappings := refcoderepo.NewRepository(db)
	refresher := NewRefresher(RefresherParams{
		Client:   NewClient(cfg, zap.NewNop()),
		Orgs:     &fakeOrgs{orgs: []orgdomain.Organization{{ID: orgID, ProcessorAPIKey: "key", AdGraphToken: "graph-token"}}},
		Mappings: mappings,
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)),
		Log:      zap.NewNop(),
	})

	if err := refresher.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	all, err := mappings.ListMappings(context.Background(), orgID)
	if err != nil {
		t.Fatalf("ListMappings: %v", err)
	}
	// Three ads carry refcodes; winter24 appears twice and collapses to one
	// row, so two mappings survive.
	if len(all) != 2 {
		t.Fatalf("got %d mappings, want 2: %+v", len(all), all)
	}

	// Last writer wins: the most recently active winter24 ad owns the code.
	winter, err := mappings.FindMapping(context.Background(), orgID, "winter24")
	if err != nil || winter == nil {
		t.Fatalf("winter24 mapping missing: %v", err)
	}
	if winter.CampaignID != "camp_new" || winter.AdID != "ad_3" {
		t.Fatalf("winter24 resolved to %s/%s, want camp_new/ad_3", winter.CampaignID, winter.AdID)
	}

	spring, err := mappings.FindMapping(context.Background(), orgID, "spring25")
	if err != nil || spring == nil {
		t.Fatalf("spring25 mapping missing: %v", err)
	}
	if spring.CampaignName != "Spring Drive" {
		t.Fatalf("spring25 name = %s", spring.CampaignName)
	}
}

func TestRefreshAll_SkipsOrgsWithoutGraphToken(t *testing.T) {
	// No server: orgs without a token must never reach the client.
	cfg := config.Config{AdGraph: config.AdGraphConfig{BaseURL: "http://127.0.0.1:0", Timeout: time.Second}}
	node, _ := snowflake.NewNode(1)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	refresher := NewRefresher(RefresherParams{
		Client:   NewClient(cfg, zap.NewNop()),
		Orgs:     &fakeOrgs{orgs: []orgdomain.Organization{{ID: 901, ProcessorAPIKey: "key"}}},
		Mappings: refcoderepo.NewRepository(db),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Now()),
		Log:      zap.NewNop(),
	})

	if err := refresher.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
}
