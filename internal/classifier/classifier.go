// Package classifier assigns a risk level to a JSON-RPC call using an
// external text-completion service, with a deterministic fallback.
package classifier

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ppiankov/neurorouter"
	"github.com/sirupsen/logrus"

	"github.com/ppiankov/rpcwarden/internal/model"
)

// Request is the input to one classification.
type Request struct {
	Method  string
	Params  model.CallParams
	Account *model.AccountSummary
}

// Config tunes the classifier.
type Config struct {
	// Timeout bounds one completion call. Zero means 10s.
	Timeout time.Duration
	// RateLimitBackoff is how long completions are skipped after the
	// service answers rate limited. Zero means 5s.
	RateLimitBackoff time.Duration
}

const defaultRateLimitBackoff = 5 * time.Second

// Classifier produces risk verdicts. It never returns an error: any
// completion failure resolves to Fallback.
type Classifier struct {
	completer Completer
	timeout   time.Duration
	backoff   time.Duration
	log       logrus.FieldLogger
	now       func() time.Time

	pausedUntil atomic.Int64 // unix nanos; completions skipped before this
}

// New creates a classifier. A nil completer classifies everything by
// fallback policy.
func New(completer Completer, cfg Config, log logrus.FieldLogger) *Classifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = defaultRateLimitBackoff
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Classifier{
		completer: completer,
		timeout:   cfg.Timeout,
		backoff:   cfg.RateLimitBackoff,
		log:       log,
		now:       time.Now,
	}
}

// Classify returns the risk verdict for req. Read-only methods skip the
// completion service.
func (c *Classifier) Classify(ctx context.Context, req Request) model.RiskVerdict {
	if IsReadOnly(req.Method) {
		return model.RiskVerdict{Level: model.RiskLow, Proceed: true, Reasoning: "read-only", Source: model.SourceFastPath}
	}
	if c.completer == nil {
		return Fallback(req.Method)
	}
	if c.now().UnixNano() < c.pausedUntil.Load() {
		return rateLimitedFallback(req.Method)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.completer.Complete(ctx, buildPrompt(req))
	if err != nil {
		if errors.Is(err, neurorouter.ErrRateLimited) {
			c.pausedUntil.Store(c.now().Add(c.backoff).UnixNano())
			c.log.WithFields(logrus.Fields{"method": req.Method, "backoff": c.backoff}).
				Warn("classifier rate limited, deferring completions")
			return rateLimitedFallback(req.Method)
		}
		c.log.WithError(err).WithField("method", req.Method).Warn("classifier failed, using fallback")
		return Fallback(req.Method)
	}
	return parseVerdict(raw, req.Method)
}

// rateLimitedFallback is Fallback with reasoning that names the rate limit.
func rateLimitedFallback(method string) model.RiskVerdict {
	v := Fallback(method)
	v.Reasoning = strings.Replace(v.Reasoning, "classifier unavailable", "classifier rate limited", 1)
	return v
}
