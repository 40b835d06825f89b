package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/groundsignal/groundsignal/internal/ledger/domain"
	"github.com/groundsignal/groundsignal/internal/migration"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) (domain.Repository, *gorm.DB, *snowflake.Node) {
	t.Helper()

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
	return NewRepository(db), db, node
}

func TestUpsertTransaction_DedupesOnExternalID(t *testing.T) {
	repo, _, node := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	first := &domain.Transaction{
		ID:         node.Generate(),
		OrgID:      10,
		ExternalID: "AB123",
		OccurredAt: now,
		GrossCents: 2500,
		NetCents:   2412,
		Refcode:    "winter24",
		CreatedAt:  now,
	}
	inserted, err := repo.UpsertTransaction(ctx, first)
	if err != nil {
		t.Fatalf("UpsertTransaction: %v", err)
	}
	if !inserted {
		t.Fatalf("first upsert reported no insert")
	}

	// Re-ingesting the same external id is a no-op, even with new values.
	dup := &domain.Transaction{
		ID:         node.Generate(),
		OrgID:      10,
		ExternalID: "AB123",
		OccurredAt: now,
		GrossCents: 9999,
		CreatedAt:  now,
	}
	inserted, err = repo.UpsertTransaction(ctx, dup)
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if inserted {
		t.Fatalf("duplicate external id was inserted")
	}

	got, err := repo.FindTransaction(ctx, 10, first.ID)
	if err != nil {
		t.Fatalf("FindTransaction: %v", err)
	}
	if got.GrossCents != 2500 {
		t.Fatalf("existing row was overwritten: %d", got.GrossCents)
	}

	// The same external id under another org is a distinct donation.
	other := &domain.Transaction{
		ID:         node.Generate(),
		OrgID:      20,
		ExternalID: "AB123",
		OccurredAt: now,
		CreatedAt:  now,
	}
	inserted, err = repo.UpsertTransaction(ctx, other)
	if err != nil || !inserted {
		t.Fatalf("cross-org insert = %v, %v", inserted, err)
	}
}

func TestAttachPhoneHash(t *testing.T) {
	repo, _, node := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tx := &domain.Transaction{
		ID:         node.Generate(),
		OrgID:      10,
		ExternalID: "AB200",
		OccurredAt: now,
		CreatedAt:  now,
	}
	if _, err := repo.UpsertTransaction(ctx, tx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := repo.AttachPhoneHash(ctx, 10, "AB200", "sha256:abc"); err != nil {
		t.Fatalf("AttachPhoneHash: %v", err)
	}
	got, err := repo.FindTransaction(ctx, 10, tx.ID)
	if err != nil {
		t.Fatalf("FindTransaction: %v", err)
	}
	if got.DonorPhoneHash != "sha256:abc" {
		t.Fatalf("phone hash = %s", got.DonorPhoneHash)
	}

	// The hash attaches once; a second write is rejected.
	if err := repo.AttachPhoneHash(ctx, 10, "AB200", "sha256:other"); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("err = %v, want ErrTransactionNotFound", err)
	}
	if err := repo.AttachPhoneHash(ctx, 10, "missing", "sha256:abc"); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("err = %v, want ErrTransactionNotFound", err)
	}
	if err := repo.AttachPhoneHash(ctx, 10, "AB200", "  "); !errors.Is(err, domain.ErrInvalidPhoneHash) {
		t.Fatalf("err = %v, want ErrInvalidPhoneHash", err)
	}
	if err := repo.AttachPhoneHash(ctx, 0, "AB200", "sha256:abc"); !errors.Is(err, domain.ErrInvalidOrganization) {
		t.Fatalf("err = %v, want ErrInvalidOrganization", err)
	}
}

func TestTotals_HalfOpenWindow(t *testing.T) {
	repo, _, node := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	seed := func(offset time.Duration, cents int64) {
		tx := &domain.Transaction{
			ID:         node.Generate(),
			OrgID:      10,
			ExternalID: "ext-" + node.Generate().String(),
			OccurredAt: base.Add(offset),
			GrossCents: cents,
			CreatedAt:  base,
		}
		if _, err := repo.UpsertTransaction(ctx, tx); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	seed(-time.Hour, 100)   // before the window
	seed(0, 200)            // at the start, included
	seed(24*time.Hour, 300) // inside
	seed(48*time.Hour, 400) // at the end, excluded

	totals, err := repo.Totals(ctx, 10, base, base.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Count != 2 || totals.TotalCents != 500 {
		t.Fatalf("totals = %+v, want 2 / 500", totals)
	}
}

func TestFindTouchpointByMetadataKeys(t *testing.T) {
	repo, db, node := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := db.Create(&domain.Touchpoint{
		ID:    node.Generate(),
		OrgID: 10,
		Type:  domain.TouchpointTypeAd,
		Metadata: datatypes.JSONMap{
			domain.MetaKeyClickID: "click-abc",
			domain.MetaKeyFBC:     "fb.1.1693000000.cookieXYZ",
		},
		OccurredAt: now,
		CreatedAt:  now,
	}).Error
	if err != nil {
		t.Fatalf("seed touchpoint: %v", err)
	}

	byClick, err := repo.FindTouchpointByClickID(ctx, 10, "click-abc")
	if err != nil {
		t.Fatalf("FindTouchpointByClickID: %v", err)
	}
	if byClick == nil || byClick.ClickID() != "click-abc" {
		t.Fatalf("click lookup = %+v", byClick)
	}

	byCookie, err := repo.FindTouchpointByCookie(ctx, 10, "fb.1.1693000000.cookieXYZ")
	if err != nil {
		t.Fatalf("FindTouchpointByCookie: %v", err)
	}
	if byCookie == nil {
		t.Fatalf("cookie lookup missed")
	}

	// Other orgs never see the touchpoint.
	foreign, err := repo.FindTouchpointByClickID(ctx, 99, "click-abc")
	if err != nil {
		t.Fatalf("foreign lookup: %v", err)
	}
	if foreign != nil {
		t.Fatalf("touchpoint leaked across orgs")
	}

	missing, err := repo.FindTouchpointByClickID(ctx, 10, "")
	if err != nil || missing != nil {
		t.Fatalf("empty click id lookup = %+v, %v", missing, err)
	}
}

func TestFindLatestLongFormTouchpointByEmail(t *testing.T) {
	repo, db, node := newTestRepo(t)
	ctx := context.Background()
	cutoff := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	seed := func(ago time.Duration, fbc string) {
		err := db.Create(&domain.Touchpoint{
			ID:         node.Generate(),
			OrgID:      10,
			Type:       domain.TouchpointTypeAd,
			DonorEmail: "ada@example.org",
			Metadata:   datatypes.JSONMap{domain.MetaKeyFBC: fbc},
			OccurredAt: cutoff.Add(-ago),
			CreatedAt:  cutoff,
		}).Error
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	seed(3*time.Hour, "fb.1.1693000001.olderLongForm")
	seed(2*time.Hour, "fb.1.short") // newest, but truncated
	seed(-time.Hour, "fb.1.1693000002.afterTheCutoff")

	got, err := repo.FindLatestLongFormTouchpointByEmail(ctx, 10, "ada@example.org", cutoff)
	if err != nil {
		t.Fatalf("FindLatestLongFormTouchpointByEmail: %v", err)
	}
	if got == nil {
		t.Fatalf("no touchpoint found")
	}
	if got.BrowserCookie() != "fb.1.1693000001.olderLongForm" {
		t.Fatalf("got %s, want the older full-form click", got.BrowserCookie())
	}
}

func TestListReviewableConversionEvents(t *testing.T) {
	repo, db, node := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	seed := func(clickID, status string, ago time.Duration) snowflake.ID {
		id := node.Generate()
		err := db.Create(&domain.ConversionEvent{
			ID:            id,
			OrgID:         10,
			TransactionID: node.Generate(),
			ClickID:       clickID,
			Status:        status,
			Metadata:      datatypes.JSONMap{},
			OccurredAt:    now.Add(-ago),
			CreatedAt:     now,
		}).Error
		if err != nil {
			t.Fatalf("seed event: %v", err)
		}
		return id
	}

	newest := seed("fb.1.1693000001.fullFormAAA", domain.EventStatusActive, time.Hour)
	older := seed("fb.1.1693000002.fullFormBBB", domain.EventStatusActive, 2*time.Hour)
	seed("fb.1.1693000003.fullFormCCC", domain.EventStatusMisattributed, time.Hour)
	seed("fb.1.1693000004.fullFormDDD", domain.EventStatusSuperseded, time.Hour)
	seed("fb.short", domain.EventStatusActive, time.Hour)

	events, err := repo.ListReviewableConversionEvents(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListReviewableConversionEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID != newest || events[1].ID != older {
		t.Fatalf("events not newest-first: %v, %v", events[0].ID, events[1].ID)
	}

	limited, err := repo.ListReviewableConversionEvents(ctx, 10, 1)
	if err != nil {
		t.Fatalf("limited list: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != newest {
		t.Fatalf("limit ignored: %+v", limited)
	}
}

func TestMarkEventMisattributed(t *testing.T) {
	repo, db, node := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id := node.Generate()
	err := db.Create(&domain.ConversionEvent{
		ID:            id,
		OrgID:         10,
		TransactionID: node.Generate(),
		ClickID:       "fb.1.1693000001.fullFormAAA",
		Status:        domain.EventStatusActive,
		Metadata:      datatypes.JSONMap{},
		OccurredAt:    now,
		CreatedAt:     now,
	}).Error
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}

	err = repo.MarkEventMisattributed(ctx, id, map[string]any{"correct_fbc": "fb.1.1693000002.fullFormBBB"})
	if err != nil {
		t.Fatalf("MarkEventMisattributed: %v", err)
	}

	var got domain.ConversionEvent
	if err := db.Raw(`SELECT * FROM conversion_events WHERE id = ?`, id).Scan(&got).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.EventStatusMisattributed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Metadata["correct_fbc"] != "fb.1.1693000002.fullFormBBB" {
		t.Fatalf("metadata = %v", got.Metadata)
	}
}
