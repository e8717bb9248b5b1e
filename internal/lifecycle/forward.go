package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ppiankov/rpcwarden/internal/jsonrpc"
)

// Forwarder sends an admitted request to the upstream endpoint.
type Forwarder interface {
	Forward(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error)
}

// maxUpstreamBody caps the upstream response read.
const maxUpstreamBody = 10 << 20

// HTTPForwarder posts requests to a JSON-RPC endpoint over HTTP.
type HTTPForwarder struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPForwarder creates a forwarder for url. Deadlines come from the
// context passed to Forward; timeout is only a backstop on the client.
func NewHTTPForwarder(url string, headers map[string]string, timeout time.Duration) *HTTPForwarder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPForwarder{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Forward sends one request and decodes the upstream response. A JSON-RPC
// error object from upstream is returned as a response, not an error.
func (f *HTTPForwarder) Forward(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range f.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream HTTP %d: %s", resp.StatusCode, truncate(string(bytes.TrimSpace(respBody)), 200))
	}

	var out jsonrpc.Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	if len(out.Result) == 0 && out.Error == nil {
		return nil, fmt.Errorf("upstream response has neither result nor error")
	}
	out.JSONRPC = jsonrpc.Version
	out.ID = req.ID
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
