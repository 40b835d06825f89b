package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/groundsignal/groundsignal/internal/attribution/domain"
	ledgerdomain "github.com/groundsignal/groundsignal/internal/ledger/domain"
)

// ledgerStub serves touchpoints out of memory for the three lookup paths the
// correlator uses. The write-side methods are never exercised here.
type ledgerStub struct {
	byClickID map[string]*ledgerdomain.Touchpoint
	byCookie  map[string]*ledgerdomain.Touchpoint
	byEmail   map[string]*ledgerdomain.Touchpoint
}

func (s *ledgerStub) UpsertTransaction(context.Context, *ledgerdomain.Transaction) (bool, error) {
	return false, nil
}

func (s *ledgerStub) FindTransaction(context.Context, snowflake.ID, snowflake.ID) (*ledgerdomain.Transaction, error) {
	return nil, ledgerdomain.ErrTransactionNotFound
}

func (s *ledgerStub) ListTransactions(context.Context, snowflake.ID, time.Time, time.Time) ([]ledgerdomain.Transaction, error) {
	return nil, nil
}

func (s *ledgerStub) ListTransactionsWithRefcode(context.Context, snowflake.ID, time.Time, time.Time) ([]ledgerdomain.Transaction, error) {
	return nil, nil
}

func (s *ledgerStub) AttachPhoneHash(context.Context, snowflake.ID, string, string) error {
	return nil
}

func (s *ledgerStub) Totals(context.Context, snowflake.ID, time.Time, time.Time) (ledgerdomain.LedgerTotals, error) {
	return ledgerdomain.LedgerTotals{}, nil
}

func (s *ledgerStub) FindTouchpointByClickID(_ context.Context, _ snowflake.ID, clickID string) (*ledgerdomain.Touchpoint, error) {
	return s.byClickID[clickID], nil
}

func (s *ledgerStub) FindTouchpointByCookie(_ context.Context, _ snowflake.ID, cookie string) (*ledgerdomain.Touchpoint, error) {
	return s.byCookie[cookie], nil
}

func (s *ledgerStub) FindLatestTouchpointByEmail(_ context.Context, _ snowflake.ID, email string, _ time.Time) (*ledgerdomain.Touchpoint, error) {
	return s.byEmail[email], nil
}

func (s *ledgerStub) FindLatestLongFormTouchpointByEmail(_ context.Context, _ snowflake.ID, email string, _ time.Time) (*ledgerdomain.Touchpoint, error) {
	return s.byEmail[email], nil
}

func (s *ledgerStub) ListReviewableConversionEvents(context.Context, snowflake.ID, int) ([]ledgerdomain.ConversionEvent, error) {
	return nil, nil
}

func (s *ledgerStub) MarkEventMisattributed(context.Context, snowflake.ID, map[string]any) error {
	return nil
}

func newStub() *ledgerStub {
	return &ledgerStub{
		byClickID: map[string]*ledgerdomain.Touchpoint{},
		byCookie:  map[string]*ledgerdomain.Touchpoint{},
		byEmail:   map[string]*ledgerdomain.Touchpoint{},
	}
}

func TestCorrelate_ClickIDWinsOverEverything(t *testing.T) {
	stub := newStub()
	tp := &ledgerdomain.Touchpoint{ID: 1, DonorEmail: "ada@example.org"}
	stub.byClickID["fb.1.123.abc"] = tp
	stub.byEmail["ada@example.org"] = &ledgerdomain.Touchpoint{ID: 2}

	c := New(stub)
	got, err := c.Correlate(context.Background(), &ledgerdomain.Transaction{
		OrgID:      10,
		ClickID:    "fb.1.123.abc",
		DonorEmail: "ada@example.org",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if got.Method != domain.MethodClickID || got.Confidence != 0.95 {
		t.Fatalf("got method=%s confidence=%f, want click_id 0.95", got.Method, got.Confidence)
	}
	if got.Touchpoint == nil || got.Touchpoint.ID != 1 {
		t.Fatalf("correlated wrong touchpoint: %+v", got.Touchpoint)
	}
}

func TestCorrelate_CookieFallback(t *testing.T) {
	stub := newStub()
	stub.byCookie["fb.1.123.abc"] = &ledgerdomain.Touchpoint{ID: 3}

	c := New(stub)
	got, err := c.Correlate(context.Background(), &ledgerdomain.Transaction{
		OrgID:   10,
		ClickID: "fb.1.123.abc",
	})
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if got.Method != domain.MethodFBCLID || got.Confidence != 0.90 {
		t.Fatalf("got method=%s confidence=%f, want fbclid 0.90", got.Method, got.Confidence)
	}
}

func TestCorrelate_EmailFallback(t *testing.T) {
	stub := newStub()
	stub.byEmail["ada@example.org"] = &ledgerdomain.Touchpoint{ID: 4}

	c := New(stub)
	got, err := c.Correlate(context.Background(), &ledgerdomain.Transaction{
		OrgID:      10,
		DonorEmail: "ada@example.org",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if got.Method != domain.MethodEmail || got.Confidence != 0.60 {
		t.Fatalf("got method=%s confidence=%f, want email 0.60", got.Method, got.Confidence)
	}
}

func TestCorrelate_DonorDisagreementIsMismatchNotMatch(t *testing.T) {
	stub := newStub()
	stub.byClickID["fb.1.123.abc"] = &ledgerdomain.Touchpoint{ID: 5, DonorEmail: "mallory@example.org"}

	c := New(stub)
	got, err := c.Correlate(context.Background(), &ledgerdomain.Transaction{
		OrgID:      10,
		ClickID:    "fb.1.123.abc",
		DonorEmail: "ada@example.org",
	})
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if !got.Mismatch {
		t.Fatalf("expected mismatch flag")
	}
	if got.Method != domain.MethodNone || got.Found() {
		t.Fatalf("mismatch must not count as a correlation, got method=%s", got.Method)
	}
	if got.Touchpoint == nil || got.Touchpoint.ID != 5 {
		t.Fatalf("mismatch should carry the offending touchpoint")
	}
}

func TestCorrelate_NothingFound(t *testing.T) {
	c := New(newStub())
	got, err := c.Correlate(context.Background(), &ledgerdomain.Transaction{
		OrgID:      10,
		ClickID:    "missing",
		DonorEmail: "nobody@example.org",
	})
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if got.Found() || got.Mismatch {
		t.Fatalf("expected empty correlation, got %+v", got)
	}
}
