// Package reputation turns ledger state into a per-call reputation verdict.
package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/ppiankov/rpcwarden/internal/ledger"
	"github.com/ppiankov/rpcwarden/internal/model"
)

// Defaults for Config.
const (
	DefaultMaxReports = 5
)

// DefaultLargeTransferWei is 10 ETH.
var DefaultLargeTransferWei = uint256.MustFromDecimal("10000000000000000000")

// AccountSource is the read side of the ledger the adapter needs.
type AccountSource interface {
	Account(id string) (ledger.Account, error)
}

// Config tunes the assessment thresholds.
type Config struct {
	// LargeTransferWei marks a call value as a large transfer. Nil means 10 ETH.
	LargeTransferWei *uint256.Int
	// MaxReports is the number of reports an account may receive before
	// its calls are refused. Zero means 5.
	MaxReports uint64
}

// Adapter assesses senders against the ledger.
type Adapter struct {
	accounts AccountSource
	cfg      Config
	log      logrus.FieldLogger
}

// New creates an adapter.
func New(accounts AccountSource, cfg Config, log logrus.FieldLogger) *Adapter {
	if cfg.LargeTransferWei == nil {
		cfg.LargeTransferWei = DefaultLargeTransferWei
	}
	if cfg.MaxReports == 0 {
		cfg.MaxReports = DefaultMaxReports
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{accounts: accounts, cfg: cfg, log: log}
}

// Assess returns the reputation verdict for accountID. It never fails:
// lookup errors become a negative verdict.
func (a *Adapter) Assess(ctx context.Context, accountID string, params model.CallParams) model.ReputationVerdict {
	id := ledger.NormalizeID(accountID)
	acct, err := a.accounts.Account(id)
	if err != nil {
		msg := "account not registered"
		if !errors.Is(err, ledger.ErrNotFound) {
			a.log.WithError(err).WithField("account", id).Warn("reputation lookup failed")
			msg = "reputation lookup failed"
		}
		return model.ReputationVerdict{
			AccountID:      id,
			TrustLevel:     model.TrustLow,
			Proceed:        false,
			Warnings:       []string{msg},
			Recommendation: model.RecommendReject,
		}
	}

	v := model.ReputationVerdict{
		AccountID:      acct.ID,
		TrustLevel:     model.TrustLevelFor(acct.TrustScore),
		TrustScore:     acct.TrustScore,
		Proceed:        true,
		Recommendation: model.RecommendApprove,
	}
	refuse := func(warning string) model.ReputationVerdict {
		v.Proceed = false
		v.Warnings = append(v.Warnings, warning)
		v.Recommendation = model.RecommendReject
		return v
	}

	if !acct.Active {
		return refuse("account is deactivated")
	}
	if acct.Counters.ReportsReceived > a.cfg.MaxReports {
		return refuse(fmt.Sprintf("account has %d reports", acct.Counters.ReportsReceived))
	}

	large := params.Value != nil && params.Value.Gt(a.cfg.LargeTransferWei)
	switch {
	case large && v.TrustLevel == model.TrustLow:
		return refuse("large transfer from low-trust account")
	case large && v.TrustLevel == model.TrustMedium:
		v.Warnings = append(v.Warnings, "large transfer from medium-trust account")
		v.Recommendation = model.RecommendManualReview
	}
	return v
}

// Summary returns the reputation context for prompts, or nil when the
// account is unknown.
func (a *Adapter) Summary(accountID string) *model.AccountSummary {
	if accountID == "" {
		return nil
	}
	acct, err := a.accounts.Account(ledger.NormalizeID(accountID))
	if err != nil {
		return nil
	}
	return &model.AccountSummary{
		ID:              acct.ID,
		TrustScore:      acct.TrustScore,
		TrustLevel:      model.TrustLevelFor(acct.TrustScore),
		Tier:            acct.Tier().Name,
		ReportsReceived: acct.Counters.ReportsReceived,
		Active:          acct.Active,
	}
}
