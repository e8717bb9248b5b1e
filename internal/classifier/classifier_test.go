package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/ppiankov/neurorouter"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/rpcwarden/internal/model"
)

type countingCompleter struct {
	calls atomic.Int32
	reply string
	err   error
	last  Prompt
}

func (c *countingCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	c.calls.Add(1)
	c.last = p
	return c.reply, c.err
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func TestReadOnlyFastPathSkipsCompleter(t *testing.T) {
	cc := &countingCompleter{reply: "RISK_LEVEL: HIGH"}
	c := New(cc, Config{}, quietLogger())

	for _, m := range []string{"eth_blockNumber", "eth_getBalance", "eth_call", "eth_chainId"} {
		v := c.Classify(context.Background(), Request{Method: m})
		assert.Equal(t, model.RiskLow, v.Level, m)
		assert.True(t, v.Proceed, m)
		assert.Equal(t, "read-only", v.Reasoning)
		assert.Equal(t, model.SourceFastPath, v.Source)
	}
	assert.Zero(t, cc.calls.Load())
}

func TestClassifyParsesCompletion(t *testing.T) {
	cc := &countingCompleter{reply: "RISK_LEVEL: MEDIUM\nSHOULD_PROCEED: true\nREASONING: Transfer to a fresh address."}
	c := New(cc, Config{}, quietLogger())

	v := c.Classify(context.Background(), Request{
		Method: "eth_sendTransaction",
		Params: model.CallParams{From: "0xaa", To: "0xbb", Value: uint256.NewInt(5)},
	})
	assert.Equal(t, model.RiskMedium, v.Level)
	assert.True(t, v.Proceed)
	assert.Equal(t, "Transfer to a fresh address.", v.Reasoning)
	assert.Equal(t, model.SourceClassifier, v.Source)
	assert.EqualValues(t, 1, cc.calls.Load())
	assert.Contains(t, cc.last.User, "Method: eth_sendTransaction")
	assert.Contains(t, cc.last.User, "Value (wei): 5")
	assert.Contains(t, cc.last.User, "Sender reputation: unknown")
}

func TestFallbackOnError(t *testing.T) {
	cc := &countingCompleter{err: errors.New("connection refused")}
	c := New(cc, Config{}, quietLogger())

	tests := []struct {
		method  string
		level   model.RiskLevel
		proceed bool
	}{
		{"eth_sendTransaction", model.RiskHigh, false},
		{"eth_sendRawTransaction", model.RiskHigh, false},
		{"personal_unlockAccount", model.RiskHigh, false},
		{"miner_start", model.RiskHigh, false},
		{"debug_traceTransaction", model.RiskHigh, false},
		{"eth_newFilter", model.RiskMedium, true},
		{"custom_method", model.RiskMedium, true},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			first := c.Classify(context.Background(), Request{Method: tt.method})
			second := c.Classify(context.Background(), Request{Method: tt.method, Params: model.CallParams{From: "0x1"}})
			assert.Equal(t, tt.level, first.Level)
			assert.Equal(t, tt.proceed, first.Proceed)
			assert.Equal(t, model.SourceFallback, first.Source)
			assert.Equal(t, first, second)
			assert.Equal(t, Fallback(tt.method), first)
		})
	}
}

func TestFallbackOnTimeout(t *testing.T) {
	slow := CompleterFunc(func(ctx context.Context, p Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	c := New(slow, Config{Timeout: 20 * time.Millisecond}, quietLogger())

	start := time.Now()
	v := c.Classify(context.Background(), Request{Method: "eth_sendTransaction"})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, model.RiskHigh, v.Level)
	assert.False(t, v.Proceed)
	assert.Equal(t, model.SourceFallback, v.Source)
}

func TestRateLimitedCompleterDefersCompletions(t *testing.T) {
	cc := &countingCompleter{err: fmt.Errorf("completion HTTP 429: %w", neurorouter.ErrRateLimited)}
	c := New(cc, Config{RateLimitBackoff: time.Minute}, quietLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	v := c.Classify(context.Background(), Request{Method: "eth_sendTransaction"})
	assert.Equal(t, model.RiskHigh, v.Level)
	assert.False(t, v.Proceed)
	assert.Equal(t, model.SourceFallback, v.Source)
	assert.Equal(t, "classifier rate limited; eth_sendTransaction is high-risk", v.Reasoning)

	// Within the backoff window the service is not asked again.
	v = c.Classify(context.Background(), Request{Method: "eth_newFilter"})
	assert.Equal(t, model.RiskMedium, v.Level)
	assert.Equal(t, "classifier rate limited; default policy", v.Reasoning)
	assert.EqualValues(t, 1, cc.calls.Load())

	cc.err = nil
	cc.reply = "RISK_LEVEL: LOW\nSHOULD_PROCEED: true\nREASONING: ok"
	now = now.Add(2 * time.Minute)
	v = c.Classify(context.Background(), Request{Method: "eth_sendTransaction"})
	assert.Equal(t, model.SourceClassifier, v.Source)
	assert.EqualValues(t, 2, cc.calls.Load())
}

func TestOtherErrorsDoNotDeferCompletions(t *testing.T) {
	cc := &countingCompleter{err: errors.New("connection refused")}
	c := New(cc, Config{}, quietLogger())

	c.Classify(context.Background(), Request{Method: "eth_sign"})
	c.Classify(context.Background(), Request{Method: "eth_sign"})
	assert.EqualValues(t, 2, cc.calls.Load())
}

func TestNilCompleterUsesFallback(t *testing.T) {
	c := New(nil, Config{}, nil)
	v := c.Classify(context.Background(), Request{Method: "eth_sign"})
	assert.Equal(t, Fallback("eth_sign"), v)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		method string
		want   model.RiskVerdict
	}{
		{
			name:   "all fields",
			raw:    "RISK_LEVEL: HIGH\nSHOULD_PROCEED: false\nREASONING: drains wallet",
			method: "eth_call",
			want:   model.RiskVerdict{Level: model.RiskHigh, Proceed: false, Reasoning: "drains wallet"},
		},
		{
			name:   "markdown and lower case",
			raw:    "**RISK_LEVEL:** low\n- **SHOULD_PROCEED:** Yes\n**REASONING:** routine",
			method: "eth_sendTransaction",
			want:   model.RiskVerdict{Level: model.RiskLow, Proceed: true, Reasoning: "routine"},
		},
		{
			name:   "missing proceed follows level",
			raw:    "RISK_LEVEL: HIGH\nREASONING: unlock",
			method: "custom",
			want:   model.RiskVerdict{Level: model.RiskHigh, Proceed: false, Reasoning: "unlock"},
		},
		{
			name:   "missing level takes method fallback",
			raw:    "SHOULD_PROCEED: true",
			method: "eth_sendRawTransaction",
			want:   model.RiskVerdict{Level: model.RiskHigh, Proceed: true, Reasoning: noReasoning},
		},
		{
			name:   "garbage",
			raw:    "I cannot help with that.",
			method: "eth_newFilter",
			want:   model.RiskVerdict{Level: model.RiskMedium, Proceed: true, Reasoning: noReasoning},
		},
		{
			name:   "unknown level value",
			raw:    "RISK_LEVEL: CRITICAL\nSHOULD_PROCEED: maybe",
			method: "eth_newFilter",
			want:   model.RiskVerdict{Level: model.RiskMedium, Proceed: true, Reasoning: noReasoning},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.want.Source = model.SourceClassifier
			assert.Equal(t, tt.want, parseVerdict(tt.raw, tt.method))
		})
	}
}

func TestBuildPromptIncludesPayloadPrefixAndReputation(t *testing.T) {
	data := []byte{0xa9, 0x05, 0x9c, 0xbb, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	p := buildPrompt(Request{
		Method: "eth_sendTransaction",
		Params: model.CallParams{From: "0xaa", To: "0xbb", Data: data},
		Account: &model.AccountSummary{
			TrustScore: 640, TrustLevel: model.TrustHigh, Tier: "Gold", ReportsReceived: 2, Active: true,
		},
	})
	assert.Contains(t, p.User, "Payload prefix: 0xa9059cbb010203040506 (13 bytes total)")
	assert.Contains(t, p.User, "Function selector: 0xa9059cbb")
	assert.Contains(t, p.User, "Trust score: 640/1000 (high)")
	assert.Contains(t, p.User, "Reports received: 2")
	assert.Contains(t, p.System, "RISK_LEVEL")
}

func TestHTTPCompleter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.EqualValues(t, 0, req["temperature"])
		assert.Equal(t, "tiny", req["model"])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" RISK_LEVEL: LOW\n"}}]}`))
	}))
	defer srv.Close()

	c := NewHTTPCompleter(HTTPConfig{APIURL: srv.URL, APIKey: "secret", Model: "tiny"}, srv.Client())
	out, err := c.Complete(context.Background(), Prompt{System: "s", User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "RISK_LEVEL: LOW", out)
}

func TestHTTPCompleterRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPCompleter(HTTPConfig{APIURL: srv.URL}, srv.Client())
	_, err := c.Complete(context.Background(), Prompt{})
	assert.ErrorIs(t, err, neurorouter.ErrRateLimited)
}

func TestHTTPCompleterErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			_, _ = w.Write([]byte(`{"choices":[]}`))
			return
		}
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPCompleter(HTTPConfig{APIURL: srv.URL + "/fail"}, nil).Complete(context.Background(), Prompt{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")

	_, err = NewHTTPCompleter(HTTPConfig{APIURL: srv.URL + "/empty"}, nil).Complete(context.Background(), Prompt{})
	assert.ErrorContains(t, err, "empty completion response")
}
