// Package client is a Go client for the txnorm HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/txnorm/service/normalizer"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Transaction is a stored normalized transaction. Streamed events decode into
// the same type; they carry BlockAt instead of Timestamp.
type Transaction struct {
	normalizer.NormalizedTransaction
	Network   string     `json:"network"`
	Slot      uint64     `json:"slot"`
	BlockAt   *time.Time `json:"block_time,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// TransactionPage is one page of an account's stored transactions.
type TransactionPage struct {
	Address      string         `json:"address"`
	Network      string         `json:"network"`
	Transactions []*Transaction `json:"transactions"`
	Count        int            `json:"count"`
	Total        int64          `json:"total"`
	Limit        int            `json:"limit"`
	Offset       int            `json:"offset"`
}

// NormalizeResult is the server's answer to a normalize request.
type NormalizeResult struct {
	Address string `json:"address"`
	Network string `json:"network"`
	Results []struct {
		Outcome     normalizer.Outcome                `json:"outcome"`
		Transaction *normalizer.NormalizedTransaction `json:"transaction,omitempty"`
	} `json:"results"`
	Emitted    int `json:"emitted"`
	Suppressed int `json:"suppressed"`
	Malformed  int `json:"malformed"`
}

// SyncOptions configures a sync schedule. Zero values use server defaults.
type SyncOptions struct {
	Network  string
	Interval time.Duration
	Limit    int
}

// SyncSchedule describes an account's sync schedule.
type SyncSchedule struct {
	ID          string        `json:"id"`
	Address     string        `json:"address"`
	Network     string        `json:"network"`
	Interval    time.Duration `json:"-"`
	Paused      bool          `json:"paused"`
	NumActions  int           `json:"num_actions"`
	NextRunTime *time.Time    `json:"next_run_time,omitempty"`
}

// Client is the HTTP client for the txnorm service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new txnorm client. A nil httpClient gets a 30s timeout;
// streaming callers should pass one without a timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListTransactions returns one page of stored transactions for address.
func (c *Client) ListTransactions(ctx context.Context, address, network string, limit, offset int) (*TransactionPage, error) {
	q := url.Values{}
	if network != "" {
		q.Set("network", network)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var page TransactionPage
	if err := c.do(ctx, http.MethodGet, c.accountURL(address, "transactions", q), nil, http.StatusOK, &page); err != nil {
		return nil, err
	}
	c.logger.Debug("transactions listed", "address", address, "count", page.Count)
	return &page, nil
}

// GetTransaction returns the stored transaction id as seen by address.
func (c *Client) GetTransaction(ctx context.Context, address, id string) (*Transaction, error) {
	var txn Transaction
	u := c.accountURL(address, "transactions/"+url.PathEscape(id), nil)
	if err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

// Normalize asks the server to normalize records from address's perspective.
func (c *Client) Normalize(ctx context.Context, address, network string, records []*normalizer.RawTransactionRecord) (*NormalizeResult, error) {
	body := map[string]interface{}{
		"address": address,
		"network": network,
		"records": records,
	}
	var result NormalizeResult
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/normalize", body, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateSync schedules periodic syncing of address.
func (c *Client) CreateSync(ctx context.Context, address string, opts SyncOptions) error {
	body := map[string]interface{}{}
	if opts.Network != "" {
		body["network"] = opts.Network
	}
	if opts.Interval > 0 {
		body["interval"] = opts.Interval.String()
	}
	if opts.Limit > 0 {
		body["limit"] = opts.Limit
	}
	if err := c.do(ctx, http.MethodPost, c.accountURL(address, "sync", nil), body, http.StatusCreated, nil); err != nil {
		return err
	}
	c.logger.Debug("sync scheduled", "address", address, "interval", opts.Interval)
	return nil
}

// DescribeSync returns address's sync schedule on network.
func (c *Client) DescribeSync(ctx context.Context, address, network string) (*SyncSchedule, error) {
	var resp struct {
		SyncSchedule
		Interval string `json:"interval"`
	}
	if err := c.do(ctx, http.MethodGet, c.accountURL(address, "sync", networkQuery(network)), nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	schedule := resp.SyncSchedule
	interval, err := time.ParseDuration(resp.Interval)
	if err != nil {
		return nil, fmt.Errorf("invalid interval %q: %w", resp.Interval, err)
	}
	schedule.Interval = interval
	return &schedule, nil
}

// DeleteSync stops syncing address on network.
func (c *Client) DeleteSync(ctx context.Context, address, network string) error {
	if err := c.do(ctx, http.MethodDelete, c.accountURL(address, "sync", networkQuery(network)), nil, http.StatusNoContent, nil); err != nil {
		return err
	}
	c.logger.Debug("sync unscheduled", "address", address)
	return nil
}

// StreamTransactions calls handle for every transaction event the server
// streams for address until ctx is done or the stream ends. An empty address
// streams every account.
func (c *Client) StreamTransactions(ctx context.Context, address string, handle func(*Transaction)) error {
	u := c.baseURL + "/api/v1/stream/transactions"
	if address != "" {
		u += "/" + url.PathEscape(address)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	err = readEvents(resp.Body, func(event, data string) error {
		switch event {
		case "transaction":
			var txn Transaction
			if err := json.Unmarshal([]byte(data), &txn); err != nil {
				c.logger.Warn("skipping undecodable event", "error", err)
				return nil
			}
			handle(&txn)
		case "error":
			return fmt.Errorf("stream error: %s", data)
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents parses a Server-Sent Events stream, calling fn once per event.
// Comment lines (keepalives) are ignored.
func readEvents(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if err := fn(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

func (c *Client) accountURL(address, suffix string, q url.Values) string {
	u := fmt.Sprintf("%s/api/v1/accounts/%s/%s", c.baseURL, url.PathEscape(address), suffix)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func networkQuery(network string) url.Values {
	if network == "" {
		return nil
	}
	return url.Values{"network": {network}}
}

// do sends a JSON request and decodes the JSON response into out when the
// server answers with want.
func (c *Client) do(ctx context.Context, method, u string, body interface{}, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	msg := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, msg)
}
