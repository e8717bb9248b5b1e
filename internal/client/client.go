// Package client talks to the rpcwarden management API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/rpcwarden/internal/api"
	"github.com/ppiankov/rpcwarden/internal/model"
)

// DefaultAddr is the default management API address.
const DefaultAddr = "127.0.0.1:8646"

// APIError is a non-2xx response from the management API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("management API %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client connects to a rpcwarden management API.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for addr, which may be host:port or a full URL.
func New(addr string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: 35 * time.Second},
	}
}

// Calls lists recent calls, newest first.
func (c *Client) Calls(ctx context.Context, limit int) ([]model.Call, error) {
	var out []model.Call
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	err := c.do(ctx, http.MethodGet, "/api/calls?"+q.Encode(), nil, &out)
	return out, err
}

// Call fetches one call.
func (c *Client) Call(ctx context.Context, id string) (*model.Call, error) {
	var out model.Call
	if err := c.do(ctx, http.MethodGet, "/api/calls/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve releases a held call and returns it after forwarding.
func (c *Client) Approve(ctx context.Context, id string) (*model.Call, error) {
	var out model.Call
	if err := c.do(ctx, http.MethodPost, "/api/calls/"+url.PathEscape(id)+"/approve", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, id, displayName string) (*api.Account, error) {
	var out api.Account
	if err := c.do(ctx, http.MethodPost, "/api/accounts", api.RegisterRequest{ID: id, DisplayName: displayName}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Account fetches one account.
func (c *Client) Account(ctx context.Context, id string) (*api.Account, error) {
	var out api.Account
	if err := c.do(ctx, http.MethodGet, "/api/accounts/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rewards lists an account's reward history, oldest first.
func (c *Client) Rewards(ctx context.Context, id string) ([]api.Reward, error) {
	var out []api.Reward
	err := c.do(ctx, http.MethodGet, "/api/accounts/"+url.PathEscape(id)+"/rewards", nil, &out)
	return out, err
}

// Reward claims a significance reward for an account.
func (c *Client) Reward(ctx context.Context, id string, req api.RewardRequest) (*api.Reward, error) {
	var out api.Reward
	if err := c.do(ctx, http.MethodPost, "/api/accounts/"+url.PathEscape(id)+"/rewards", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordInteraction adds interactions to an account.
func (c *Client) RecordInteraction(ctx context.Context, id string, req api.InteractionRequest) (*api.TrustResponse, error) {
	var out api.TrustResponse
	if err := c.do(ctx, http.MethodPost, "/api/accounts/"+url.PathEscape(id)+"/interactions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Report records that reporter flagged id.
func (c *Client) Report(ctx context.Context, id, reporter string) (*api.TrustResponse, error) {
	var out api.TrustResponse
	if err := c.do(ctx, http.MethodPost, "/api/accounts/"+url.PathEscape(id)+"/reports", api.ReportRequest{Reporter: reporter}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deactivate marks an account inactive.
func (c *Client) Deactivate(ctx context.Context, id string) (*api.Account, error) {
	var out api.Account
	if err := c.do(ctx, http.MethodPost, "/api/accounts/"+url.PathEscape(id)+"/deactivate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fund tops up the treasury by a decimal amount.
func (c *Client) Fund(ctx context.Context, amount string) (*api.Treasury, error) {
	var out api.Treasury
	if err := c.do(ctx, http.MethodPost, "/api/treasury/fund", api.FundRequest{Amount: amount}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Treasury returns the treasury balance.
func (c *Client) Treasury(ctx context.Context) (*api.Treasury, error) {
	var out api.Treasury
	if err := c.do(ctx, http.MethodGet, "/api/treasury", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns ledger and call history aggregates.
func (c *Client) Stats(ctx context.Context) (*api.Stats, error) {
	var out api.Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("management API unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var apiErr api.Error
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
