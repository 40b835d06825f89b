// Package adgraph talks to the ad platform's graph API for campaign, ad,
// and creative metadata.
package adgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/groundsignal/groundsignal/internal/config"
	"go.uber.org/zap"
)

// Ad is one advertising object with the refcode its link carried.
type Ad struct {
	Platform     string `json:"platform"`
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	AdID         string `json:"ad_id"`
	CreativeID   string `json:"creative_id"`
	Refcode      string `json:"refcode"`
}

// Client is the graph API client. The upstream is rate limited; callers
// fetch per organization and keep cross-org work sequential.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.AdGraph.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.AdGraph.Timeout},
		log:        log.Named("adgraph.client"),
	}
}

// ListAds pages through the account's ads, following the cursor the graph
// API returns until exhausted.
func (c *Client) ListAds(ctx context.Context, token string) ([]Ad, error) {
	var ads []Ad
	cursor := ""
	for {
		page, next, err := c.listAdsPage(ctx, token, cursor)
		if err != nil {
			return nil, err
		}
		ads = append(ads, page...)
		if next == "" {
			return ads, nil
		}
		cursor = next
	}
}

func (c *Client) listAdsPage(ctx context.Context, token, cursor string) ([]Ad, string, error) {
	values := url.Values{}
	if cursor != "" {
		values.Set("after", cursor)
	}
	endpoint := c.baseURL + "/v2/ads"
	if encoded := values.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("adgraph status %d", resp.StatusCode)
	}

	var body struct {
		Data   []Ad `json:"data"`
		Paging struct {
			After string `json:"after"`
		} `json:"paging"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", fmt.Errorf("decode adgraph page: %w", err)
	}
	return body.Data, body.Paging.After, nil
}
