package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/groundsignal/groundsignal/internal/config"
	"go.uber.org/zap"
)

func newTestClient(baseURL string, maxPolls int) *Client {
	return NewClient(config.Config{
		Processor: config.ProcessorConfig{
			BaseURL:      baseURL,
			Timeout:      5 * time.Second,
			PollInterval: time.Millisecond,
			MaxPolls:     maxPolls,
		},
	}, zap.NewNop())
}

const exportCSV = `transaction_id,occurred_at,gross,fee,net,donor_email,refcode,refcode2,click_id,recurring
AB123,2026-08-01T10:00:00Z,25.00,0.88,24.12,Ada@Example.org,"winter,24",alt1,fb.1.1693.clickXYZ,true
AB124,2026-08-02T11:30:00Z,10.00,0.35,9.65,bob@example.org,sms_gotv,,,false
,2026-08-02T12:00:00Z,1.00,0.00,1.00,skip@example.org,,,,false
`

func TestFetchWindow_SubmitPollDownload(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-a" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/exports":
			fmt.Fprint(w, `{"export_id":"exp-1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/exports/exp-1":
			// Pending on the first poll, ready on the second.
			if atomic.AddInt32(&polls, 1) < 2 {
				fmt.Fprint(w, `{"status":"pending"}`)
				return
			}
			fmt.Fprint(w, `{"status":"ready","download_url":"/v1/exports/exp-1/download"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/exports/exp-1/download":
			fmt.Fprint(w, exportCSV)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5)
	rows, err := client.FetchWindow(context.Background(), "key-a",
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 8, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("FetchWindow: %v", err)
	}

	// The row without a transaction id is dropped.
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	first := rows[0]
	if first.ExternalID != "AB123" {
		t.Fatalf("external id = %s", first.ExternalID)
	}
	if first.GrossCents != 2500 || first.FeeCents != 88 || first.NetCents != 2412 {
		t.Fatalf("amounts = %d/%d/%d", first.GrossCents, first.FeeCents, first.NetCents)
	}
	if first.DonorEmail != "ada@example.org" {
		t.Fatalf("donor email not lowercased: %s", first.DonorEmail)
	}
	// The quoted refcode keeps its embedded comma.
	if first.Refcode != "winter,24" || first.RefcodeAlt != "alt1" {
		t.Fatalf("refcodes = %q / %q", first.Refcode, first.RefcodeAlt)
	}
	if !first.Recurring || rows[1].Recurring {
		t.Fatalf("recurring flags = %v / %v", first.Recurring, rows[1].Recurring)
	}
	if !first.OccurredAt.Equal(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("occurred at = %v", first.OccurredAt)
	}
}

func TestFetchWindow_PollBudgetExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"export_id":"exp-2"}`)
			return
		}
		fmt.Fprint(w, `{"status":"pending"}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	_, err := client.FetchWindow(context.Background(), "key-a", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrExportTimeout) {
		t.Fatalf("err = %v, want ErrExportTimeout", err)
	}
}

func TestFetchWindow_FailedExport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"export_id":"exp-3"}`)
			return
		}
		fmt.Fprint(w, `{"status":"failed"}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	_, err := client.FetchWindow(context.Background(), "key-a", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrExportFailed) {
		t.Fatalf("err = %v, want ErrExportFailed", err)
	}
}

func TestCountWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transactions/summary" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("from") == "" || r.URL.Query().Get("to") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"count":41,"total_cents":123450}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	totals, err := client.CountWindow(context.Background(), "key-a", time.Now().Add(-24*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("CountWindow: %v", err)
	}
	if totals.Count != 41 || totals.TotalCents != 123450 {
		t.Fatalf("totals = %+v", totals)
	}
}

func TestParseExport_EmptyBody(t *testing.T) {
	rows, err := parseExport(strings.NewReader(""))
	if err != nil {
		t.Fatalf("parseExport: %v", err)
	}
	if rows != nil {
		t.Fatalf("expected no rows, got %v", rows)
	}
}

func TestParseCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"25.00", 2500},
		{"0.88", 88},
		{"10", 1000},
		{"-3.50", -350},
		{"", 0},
		{"not-a-number", 0},
	}
	for _, tc := range cases {
		if got := parseCents(tc.in); got != tc.want {
			t.Errorf("parseCents(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
