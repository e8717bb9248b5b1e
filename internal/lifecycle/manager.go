// Package lifecycle drives each intercepted call through classification,
// reputation, admission, and forwarding, and keeps a bounded call history.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ppiankov/rpcwarden/internal/alert"
	"github.com/ppiankov/rpcwarden/internal/audit"
	"github.com/ppiankov/rpcwarden/internal/classifier"
	"github.com/ppiankov/rpcwarden/internal/decision"
	"github.com/ppiankov/rpcwarden/internal/jsonrpc"
	"github.com/ppiankov/rpcwarden/internal/ledger"
	"github.com/ppiankov/rpcwarden/internal/metrics"
	"github.com/ppiankov/rpcwarden/internal/model"
	"github.com/ppiankov/rpcwarden/internal/reputation"
)

// Defaults for Config.
const (
	DefaultHistorySize    = 100
	DefaultMaxConcurrent  = 64
	DefaultForwardTimeout = 30 * time.Second
)

// outcomeHeld labels a held call in logs, metrics, and the audit trail.
const outcomeHeld = "held"

// RiskClassifier assigns a risk verdict to a call.
type RiskClassifier interface {
	Classify(ctx context.Context, req classifier.Request) model.RiskVerdict
}

// ReputationSource assesses a sender.
type ReputationSource interface {
	Assess(ctx context.Context, accountID string, params model.CallParams) model.ReputationVerdict
	Summary(accountID string) *model.AccountSummary
}

// Ledger is the write side of the ledger used when a call completes.
type Ledger interface {
	RecordInteraction(ctx context.Context, id string, kind ledger.InteractionKind, weight uint64) (int, error)
}

// Config tunes the manager.
type Config struct {
	HistorySize    int
	MaxConcurrent  int64
	ForwardTimeout time.Duration
	Policy         decision.Policy
	PolicyHash     string
}

// Deps are the collaborators of the manager. Classifier and Forwarder are
// required; the rest may be nil.
type Deps struct {
	Classifier RiskClassifier
	Reputation ReputationSource
	Ledger     Ledger
	Forwarder  Forwarder
	Audit      *audit.Log
	Alerts     *alert.Dispatcher
	Metrics    *metrics.Metrics
	Log        logrus.FieldLogger
}

type policyState struct {
	policy decision.Policy
	hash   string
}

// tracked is one history slot. mu guards call.
type tracked struct {
	mu   sync.Mutex
	call model.Call
}

func (t *tracked) snapshot() *model.Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.call.Clone()
}

// Manager owns the call pipeline and history.
type Manager struct {
	classifier RiskClassifier
	reputation ReputationSource
	ledger     Ledger
	forwarder  Forwarder
	audit      *audit.Log
	alerts     *alert.Dispatcher
	metrics    *metrics.Metrics
	log        logrus.FieldLogger

	policy         atomic.Pointer[policyState]
	history        *lru.Cache[string, *tracked]
	sem            *semaphore.Weighted
	forwardTimeout time.Duration
	now            func() time.Time
}

// New creates a manager.
func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Classifier == nil {
		return nil, errors.New("lifecycle: classifier is required")
	}
	if deps.Forwarder == nil {
		return nil, errors.New("lifecycle: forwarder is required")
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = DefaultForwardTimeout
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}

	m := &Manager{
		classifier:     deps.Classifier,
		reputation:     deps.Reputation,
		ledger:         deps.Ledger,
		forwarder:      deps.Forwarder,
		audit:          deps.Audit,
		alerts:         deps.Alerts,
		metrics:        deps.Metrics,
		log:            deps.Log,
		sem:            semaphore.NewWeighted(cfg.MaxConcurrent),
		forwardTimeout: cfg.ForwardTimeout,
		now:            time.Now,
	}
	history, err := lru.NewWithEvict(cfg.HistorySize, func(string, *tracked) {
		m.metrics.Evicted()
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: create history: %w", err)
	}
	m.history = history
	m.policy.Store(&policyState{policy: cfg.Policy, hash: cfg.PolicyHash})
	return m, nil
}

// SetPolicy swaps the admission policy for subsequent calls.
func (m *Manager) SetPolicy(p decision.Policy, hash string) {
	m.policy.Store(&policyState{policy: p, hash: hash})
	m.log.WithField("policy_hash", hash).Info("admission policy updated")
}

// Policy returns the active admission policy and its hash.
func (m *Manager) Policy() (decision.Policy, string) {
	s := m.policy.Load()
	return s.policy, s.hash
}

// Handle answers a raw JSON-RPC payload. Batch elements are processed in
// order and answered in the same shape as the input.
func (m *Manager) Handle(ctx context.Context, body []byte) ([]byte, error) {
	items, batch := jsonrpc.Parse(body)
	resps := make([]*jsonrpc.Response, len(items))
	for i, item := range items {
		if item.Invalid != nil {
			resps[i] = item.Invalid
			continue
		}
		resps[i] = m.Process(ctx, *item.Request)
	}
	return jsonrpc.Encode(resps, batch)
}

// Process runs one request through the pipeline and returns the response
// owed to the client. Client cancellation does not abort a call once it
// has entered the pipeline.
func (m *Manager) Process(ctx context.Context, req jsonrpc.Request) *jsonrpc.Response {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError, "gateway unavailable: "+err.Error(), nil)
	}
	defer m.sem.Release(1)
	m.metrics.PipelineEnter()
	defer m.metrics.PipelineExit()

	ctx = context.WithoutCancel(ctx)
	start := m.now()
	state := m.policy.Load()

	params, paramsErr := reputation.ExtractCallParams(req)
	t := &tracked{call: model.Call{
		ID:             uuid.NewString(),
		ReceivedAt:     start.UTC(),
		Request:        req,
		Sender:         params.From,
		SenderVerified: params.Verified,
		Status:         model.StatusPending,
	}}
	m.history.Add(t.call.ID, t)

	risk, rep := m.assess(ctx, req, params, paramsErr)
	d := decision.Combine(risk, rep, state.policy)
	m.metrics.Verdict(string(risk.Source), string(risk.Level))
	m.metrics.Decision(d.Outcome.String(), d.Rule)

	t.mu.Lock()
	t.call.Risk = risk
	t.call.Reputation = rep
	t.call.Decision = d
	t.mu.Unlock()

	switch d.Outcome {
	case model.OutcomeForward:
		return m.forward(ctx, t, start, state.hash, audit.KindCall)
	case model.OutcomeHold:
		return m.hold(t, start, state.hash)
	default:
		// OutcomeReject, and anything unknown fails closed.
		return m.reject(t, start, state.hash)
	}
}

// assess runs the classifier and the reputation adapter concurrently.
// Reputation applies only to state-changing calls with a sender.
func (m *Manager) assess(ctx context.Context, req jsonrpc.Request, params model.CallParams, paramsErr error) (model.RiskVerdict, *model.ReputationVerdict) {
	var (
		risk model.RiskVerdict
		rep  *model.ReputationVerdict
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var summary *model.AccountSummary
		if params.From != "" && m.reputation != nil {
			summary = m.reputation.Summary(params.From)
		}
		risk = m.classifier.Classify(gctx, classifier.Request{Method: req.Method, Params: params, Account: summary})
		return nil
	})

	if !classifier.IsReadOnly(req.Method) {
		switch {
		case paramsErr != nil:
			rep = &model.ReputationVerdict{
				TrustLevel:     model.TrustLow,
				Warnings:       []string{"sender could not be determined: " + paramsErr.Error()},
				Recommendation: model.RecommendReject,
			}
		case params.From != "" && m.reputation != nil:
			g.Go(func() error {
				v := m.reputation.Assess(gctx, params.From, params)
				rep = &v
				return nil
			})
		}
	}

	_ = g.Wait()
	return risk, rep
}

type rejection struct {
	CallID    string          `json:"callId"`
	RiskLevel model.RiskLevel `json:"riskLevel"`
	Reasoning string          `json:"reasoning"`
	Warnings  []string        `json:"warnings,omitempty"`
}

type pendingApproval struct {
	CallID         string          `json:"callId"`
	ApprovalHandle string          `json:"approvalHandle"`
	RiskLevel      model.RiskLevel `json:"riskLevel"`
	Reasoning      string          `json:"reasoning"`
}

type upstreamFailure struct {
	CallID string `json:"callId"`
	Error  string `json:"error"`
}

func (m *Manager) reject(t *tracked, start time.Time, policyHash string) *jsonrpc.Response {
	t.mu.Lock()
	data := rejection{
		CallID:    t.call.ID,
		RiskLevel: t.call.Decision.RiskLevel,
		Reasoning: t.call.Decision.Reasoning,
	}
	if t.call.Reputation != nil {
		data.Warnings = append([]string(nil), t.call.Reputation.Warnings...)
	}
	resp := jsonrpc.NewError(t.call.Request.ID, jsonrpc.CodeRejected, "call rejected by admission policy", data)
	t.call.Status = model.StatusRejected
	t.call.Response = resp
	t.call.Error = t.call.Decision.Reasoning
	t.call.ProcessingTimeMs = m.now().Sub(start).Milliseconds()
	snap := t.call.Clone()
	t.mu.Unlock()

	m.report(snap, audit.KindCall, policyHash)
	return resp
}

func (m *Manager) hold(t *tracked, start time.Time, policyHash string) *jsonrpc.Response {
	t.mu.Lock()
	resp := jsonrpc.NewError(t.call.Request.ID, jsonrpc.CodePendingApproval, "call held for manual approval", pendingApproval{
		CallID:         t.call.ID,
		ApprovalHandle: t.call.ID,
		RiskLevel:      t.call.Decision.RiskLevel,
		Reasoning:      t.call.Decision.Reasoning,
	})
	t.call.Held = true
	t.call.Response = resp
	t.call.ProcessingTimeMs = m.now().Sub(start).Milliseconds()
	snap := t.call.Clone()
	t.mu.Unlock()

	m.report(snap, audit.KindCall, policyHash)
	return resp
}

// forward sends the request upstream and finalizes the call as completed
// or failed. An upstream JSON-RPC error is passed through as completed.
func (m *Manager) forward(ctx context.Context, t *tracked, start time.Time, policyHash, kind string) *jsonrpc.Response {
	t.mu.Lock()
	t.call.Status = model.StatusValidated
	id, req := t.call.ID, t.call.Request
	t.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, m.forwardTimeout)
	defer cancel()
	began := m.now()
	resp, err := m.forwarder.Forward(fctx, req)
	m.metrics.Forward(m.now().Sub(began))

	status, errMsg := model.StatusCompleted, ""
	if err != nil {
		status, errMsg = model.StatusFailed, err.Error()
		resp = jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError, "upstream request failed", upstreamFailure{CallID: id, Error: errMsg})
	}

	t.mu.Lock()
	t.call.Status = status
	t.call.Response = resp
	t.call.Error = errMsg
	t.call.ProcessingTimeMs = m.now().Sub(start).Milliseconds()
	snap := t.call.Clone()
	t.mu.Unlock()

	m.report(snap, kind, policyHash)
	if status == model.StatusCompleted {
		m.settle(ctx, snap)
	}
	return resp
}

// Approve releases a held call and forwards it. Only a held call that is
// still pending can be approved.
func (m *Manager) Approve(ctx context.Context, id string) (*model.Call, error) {
	t, ok := m.history.Peek(id)
	if !ok {
		return nil, ErrCallNotFound
	}

	t.mu.Lock()
	if !t.call.Held || t.call.Status != model.StatusPending {
		t.mu.Unlock()
		return nil, ErrNotPending
	}
	now := m.now()
	approvedAt := now.UTC()
	t.call.Status = model.StatusValidated
	t.call.ApprovedAt = &approvedAt
	t.mu.Unlock()

	_, hash := m.Policy()
	m.forward(context.WithoutCancel(ctx), t, now, hash, audit.KindApprove)
	return t.snapshot(), nil
}

// Call returns a snapshot of one call.
func (m *Manager) Call(id string) (*model.Call, error) {
	t, ok := m.history.Peek(id)
	if !ok {
		return nil, ErrCallNotFound
	}
	return t.snapshot(), nil
}

// Calls returns up to limit snapshots, newest first. A limit <= 0 returns
// the whole history.
func (m *Manager) Calls(limit int) []*model.Call {
	slots := m.history.Values()
	if limit <= 0 || limit > len(slots) {
		limit = len(slots)
	}
	out := make([]*model.Call, 0, limit)
	for i := len(slots) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, slots[i].snapshot())
	}
	return out
}

// HistoryStats counts retained calls by state.
type HistoryStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Held      int `json:"held"`
	Completed int `json:"completed"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// Stats scans the retained history.
func (m *Manager) Stats() HistoryStats {
	var s HistoryStats
	for _, t := range m.history.Values() {
		c := t.snapshot()
		s.Total++
		if !c.Status.Terminal() {
			s.Pending++
			if c.Held && c.Status == model.StatusPending {
				s.Held++
			}
			continue
		}
		switch c.Status {
		case model.StatusCompleted:
			s.Completed++
		case model.StatusRejected:
			s.Rejected++
		case model.StatusFailed:
			s.Failed++
		}
	}
	return s
}

// settle records a validation interaction for the signer of a completed
// state-changing call. Only a signature-recovered sender counts, and an
// upstream JSON-RPC error earns nothing. Payouts are claimed through the
// management API, never here. Ledger errors are logged and not retried.
func (m *Manager) settle(ctx context.Context, c *model.Call) {
	if m.ledger == nil || c.Sender == "" || !c.SenderVerified {
		return
	}
	if classifier.IsReadOnly(c.Request.Method) {
		return
	}
	if c.Response != nil && c.Response.Error != nil {
		return
	}

	score, err := m.ledger.RecordInteraction(ctx, c.Sender, ledger.KindValidation, 1)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			m.log.WithFields(logrus.Fields{"call_id": c.ID, "account": c.Sender}).
				WithError(err).Warn("validation interaction not recorded")
		}
		return
	}
	m.log.WithFields(logrus.Fields{"call_id": c.ID, "account": c.Sender, "trust_score": score}).
		Debug("validation recorded")
}

// report logs, counts, audits, and alerts one call outcome.
func (m *Manager) report(c *model.Call, kind, policyHash string) {
	outcome := string(c.Status)
	if c.Held && c.Status == model.StatusPending {
		outcome = outcomeHeld
	}
	reason := c.Decision.Reasoning
	if c.Status == model.StatusFailed {
		reason = c.Error
	}

	m.metrics.Call(outcome)

	entry := m.log.WithFields(logrus.Fields{
		"call_id": c.ID,
		"method":  c.Request.Method,
		"status":  outcome,
		"risk":    c.Risk.Level,
		"rule":    c.Decision.Rule,
		"ms":      c.ProcessingTimeMs,
	})
	if c.Status == model.StatusFailed {
		entry.WithField("error", c.Error).Warn("call failed")
	} else {
		entry.Info("call " + outcome)
	}

	m.record(audit.Entry{
		Kind:       kind,
		CallID:     c.ID,
		Method:     c.Request.Method,
		Account:    c.Sender,
		Outcome:    outcome,
		RiskLevel:  string(c.Risk.Level),
		Rule:       c.Decision.Rule,
		Reason:     reason,
		PolicyHash: policyHash,
	})

	switch outcome {
	case alert.EventRejected, alert.EventHeld, alert.EventFailed:
		m.alerts.Dispatch(alert.Event{
			Timestamp: m.now().UTC().Format(audit.TimestampFormat),
			Event:     outcome,
			CallID:    c.ID,
			Method:    c.Request.Method,
			Sender:    c.Sender,
			RiskLevel: string(c.Risk.Level),
			Rule:      c.Decision.Rule,
			Reason:    reason,
		})
	}
}

func (m *Manager) record(e audit.Entry) {
	if m.audit == nil {
		return
	}
	if e.Timestamp == "" {
		e.Timestamp = m.now().UTC().Format(audit.TimestampFormat)
	}
	if err := m.audit.Record(e); err != nil {
		m.log.WithError(err).Error("audit write failed")
	}
}
