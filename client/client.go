// Package client is the Go client for the presale monitor's HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alien88ted/presale-monitor/service/diag"
	"github.com/alien88ted/presale-monitor/service/monitor"
	"github.com/alien88ted/presale-monitor/service/presale"
)

// Client is the HTTP client for the presale monitor service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new presale monitor client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetMetrics retrieves the aggregate snapshot. refresh forces a
// recomputation server-side instead of serving from cache.
func (c *Client) GetMetrics(ctx context.Context, refresh bool) (*monitor.MetricsResult, error) {
	u := c.baseURL + "/api/v1/metrics"
	if refresh {
		u += "?refresh=true"
	}

	var result monitor.MetricsResult
	if err := c.getJSON(ctx, u, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TransactionsPage is one page of transaction history.
type TransactionsPage struct {
	Transactions []*presale.Transaction `json:"transactions"`
	Count        int                    `json:"count"`
	NextBefore   string                 `json:"next_before,omitempty"`
}

// ListTransactions retrieves classified transactions newest first.
// before is the opaque cursor from a previous page's NextBefore; empty
// starts at the newest transaction.
func (c *Client) ListTransactions(ctx context.Context, limit int, before string) (*TransactionsPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	u := c.baseURL + "/api/v1/transactions"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var page TransactionsPage
	if err := c.getJSON(ctx, u, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// contributorsPage mirrors the server's leaderboard payload.
type contributorsPage struct {
	Contributors []presale.Contributor `json:"contributors"`
}

// TopContributors retrieves the contributor leaderboard.
func (c *Client) TopContributors(ctx context.Context, minUSD float64, limit int) ([]presale.Contributor, error) {
	q := url.Values{}
	if minUSD > 0 {
		q.Set("min_usd", strconv.FormatFloat(minUSD, 'f', -1, 64))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u := c.baseURL + "/api/v1/contributors"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var page contributorsPage
	if err := c.getJSON(ctx, u, &page); err != nil {
		return nil, err
	}
	return page.Contributors, nil
}

// Diagnostics retrieves the full diagnostics report.
func (c *Client) Diagnostics(ctx context.Context) (*diag.Report, error) {
	var report diag.Report
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/diagnostics", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Health retrieves the health check result. A degraded service still
// returns a result; only transport failures return an error.
func (c *Client) Health(ctx context.Context) (*diag.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// /health serves a body on 503 too.
	var health diag.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &health, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
