// Package processor talks to the payment processor's asynchronous export
// API: submit a job, poll until ready, download a delimited file.
package processor

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/groundsignal/groundsignal/internal/config"
	"go.uber.org/zap"
)

var (
	ErrExportTimeout = errors.New("processor export did not become ready")
	ErrExportFailed  = errors.New("processor export failed")
)

// ExportRow is one donation row parsed from the processor's CSV export.
type ExportRow struct {
	ExternalID string
	OccurredAt time.Time
	GrossCents int64
	FeeCents   int64
	NetCents   int64
	DonorEmail string
	Refcode    string
	RefcodeAlt string
	ClickID    string
	Recurring  bool
}

// Totals is the processor-side count/sum for a date window.
type Totals struct {
	Count      int64
	TotalCents int64
}

// Client is the export API client. The upstream is untrusted and
// latency-variable; every call carries a timeout and polling is bounded.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
	log          *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.Processor.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.Processor.Timeout},
		pollInterval: cfg.Processor.PollInterval,
		maxPolls:     cfg.Processor.MaxPolls,
		log:          log.Named("processor.client"),
	}
}

type submitResponse struct {
	ExportID string `json:"export_id"`
}

type statusResponse struct {
	Status      string `json:"status"`
	DownloadURL string `json:"download_url"`
}

// FetchWindow runs the full export protocol for a date window and returns
// the parsed rows.
func (c *Client) FetchWindow(ctx context.Context, apiKey string, from, to time.Time) ([]ExportRow, error) {
	exportID, err := c.submit(ctx, apiKey, from, to)
	if err != nil {
		return nil, err
	}
	downloadURL, err := c.pollUntilReady(ctx, apiKey, exportID)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, apiKey, downloadURL)
}

// CountWindow asks the processor for a count/total aggregate without a full
// export. Used by reconciliation.
func (c *Client) CountWindow(ctx context.Context, apiKey string, from, to time.Time) (Totals, error) {
	endpoint := fmt.Sprintf("%s/v1/transactions/summary?%s", c.baseURL, url.Values{
		"from": {from.UTC().Format(time.RFC3339)},
		"to":   {to.UTC().Format(time.RFC3339)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Totals{}, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Totals{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Totals{}, fmt.Errorf("processor summary status %d", resp.StatusCode)
	}

	var body struct {
		Count      int64 `json:"count"`
		TotalCents int64 `json:"total_cents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Totals{}, fmt.Errorf("decode processor summary: %w", err)
	}
	return Totals{Count: body.Count, TotalCents: body.TotalCents}, nil
}

func (c *Client) submit(ctx context.Context, apiKey string, from, to time.Time) (string, error) {
	payload := fmt.Sprintf(`{"from":%q,"to":%q}`,
		from.UTC().Format(time.RFC3339),
		to.UTC().Format(time.RFC3339),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/exports", strings.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("processor submit status %d", resp.StatusCode)
	}

	var body submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode processor submit: %w", err)
	}
	if body.ExportID == "" {
		return "", errors.New("processor submit returned no export id")
	}
	return body.ExportID, nil
}

func (c *Client) pollUntilReady(ctx context.Context, apiKey, exportID string) (string, error) {
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.pollInterval):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/exports/"+url.PathEscape(exportID), nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", err
		}
		var body statusResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("processor poll status %d", resp.StatusCode)
		}
		if decodeErr != nil {
			return "", fmt.Errorf("decode processor poll: %w", decodeErr)
		}

		switch body.Status {
		case "ready":
			if body.DownloadURL == "" {
				return "", errors.New("processor export ready without download url")
			}
			return body.DownloadURL, nil
		case "failed":
			return "", ErrExportFailed
		}
	}
	return "", ErrExportTimeout
}

func (c *Client) download(ctx context.Context, apiKey, downloadURL string) ([]ExportRow, error) {
	if strings.HasPrefix(downloadURL, "/") {
		downloadURL = c.baseURL + downloadURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("processor download status %d", resp.StatusCode)
	}
	return parseExport(resp.Body)
}

// parseExport parses the delimited export. encoding/csv honors quoted
// fields, which the processor uses for donor names and refcodes with commas.
func parseExport(r io.Reader) ([]ExportRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read export header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(record []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var rows []ExportRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read export row: %w", err)
		}

		occurredAt, err := time.Parse(time.RFC3339, field(record, "occurred_at"))
		if err != nil {
			return nil, fmt.Errorf("parse export timestamp: %w", err)
		}
		row := ExportRow{
			ExternalID: field(record, "transaction_id"),
			OccurredAt: occurredAt.UTC(),
			GrossCents: parseCents(field(record, "gross")),
			FeeCents:   parseCents(field(record, "fee")),
			NetCents:   parseCents(field(record, "net")),
			DonorEmail: strings.ToLower(field(record, "donor_email")),
			Refcode:    field(record, "refcode"),
			RefcodeAlt: field(record, "refcode2"),
			ClickID:    field(record, "click_id"),
			Recurring:  strings.EqualFold(field(record, "recurring"), "true"),
		}
		if row.ExternalID == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseCents reads a decimal dollar amount like "25.00" into cents.
func parseCents(value string) int64 {
	if value == "" {
		return 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	if f >= 0 {
		return int64(f*100 + 0.5)
	}
	return int64(f*100 - 0.5)
}
