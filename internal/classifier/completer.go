package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/neurorouter"
)

// Prompt is one system+user exchange sent to a completion service.
type Prompt struct {
	System string
	User   string
}

// Completer turns a prompt into free-form text.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, p Prompt) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// HTTPConfig holds parameters for an OpenAI-compatible chat completions API.
type HTTPConfig struct {
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
}

// HTTPCompleter calls an OpenAI-compatible /chat/completions endpoint with
// temperature 0. Deadlines come from the caller's context.
type HTTPCompleter struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPCompleter creates a completer. A nil client uses http.DefaultClient.
func NewHTTPCompleter(cfg HTTPConfig, client *http.Client) *HTTPCompleter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCompleter{cfg: cfg, client: client}
}

// Complete sends the prompt and returns the first choice's content.
// HTTP 429 is reported as neurorouter.ErrRateLimited.
func (c *HTTPCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	messages := []map[string]string{
		{"role": "system", "content": p.System},
		{"role": "user", "content": p.User},
	}
	body, err := json.Marshal(map[string]any{
		"model":       c.cfg.Model,
		"messages":    messages,
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": 0,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("completion HTTP 429: %w", neurorouter.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("completion HTTP %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(respBody)), 200))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// defaultTimeout bounds a single classification when none is configured.
const defaultTimeout = 10 * time.Second
