// Package api defines the JSON bodies of the management API. Token amounts
// travel as decimal strings.
package api

import (
	"time"

	"github.com/ppiankov/rpcwarden/internal/ledger"
	"github.com/ppiankov/rpcwarden/internal/lifecycle"
	"github.com/ppiankov/rpcwarden/internal/model"
)

// Account is the wire view of a ledger account.
type Account struct {
	ID                  string           `json:"id"`
	DisplayName         string           `json:"display_name"`
	Counters            ledger.Counters  `json:"counters"`
	SignificanceBonus   uint64           `json:"significance_bonus"`
	TrustScore          int              `json:"trust_score"`
	TrustLevel          model.TrustLevel `json:"trust_level"`
	Tier                string           `json:"tier"`
	TierMultiplier      uint64           `json:"tier_multiplier"`
	Active              bool             `json:"active"`
	TokenBalance        string           `json:"token_balance"`
	TotalTokensEarned   string           `json:"total_tokens_earned"`
	InteractionCount    uint64           `json:"interaction_count"`
	AverageSignificance uint64           `json:"average_significance"`
	RegisteredAt        time.Time        `json:"registered_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// FromAccount converts a ledger account.
func FromAccount(a ledger.Account) Account {
	tier := a.Tier()
	return Account{
		ID:                  a.ID,
		DisplayName:         a.DisplayName,
		Counters:            a.Counters,
		SignificanceBonus:   a.SignificanceBonus,
		TrustScore:          a.TrustScore,
		TrustLevel:          model.TrustLevelFor(a.TrustScore),
		Tier:                tier.Name,
		TierMultiplier:      tier.Multiplier,
		Active:              a.Active,
		TokenBalance:        a.TokenBalance.Dec(),
		TotalTokensEarned:   a.TotalTokensEarned.Dec(),
		InteractionCount:    a.InteractionCount,
		AverageSignificance: a.AverageSignificance,
		RegisteredAt:        a.RegisteredAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

// Reward is the wire view of one reward record.
type Reward struct {
	AccountID          string    `json:"account_id"`
	Seq                uint64    `json:"seq"`
	Kind               string    `json:"kind"`
	BaseAmount         string    `json:"base_amount"`
	Significance       uint64    `json:"significance"`
	SignificanceAmount string    `json:"significance_amount"`
	Tier               string    `json:"tier"`
	TierMultiplier     uint64    `json:"tier_multiplier"`
	FinalAmount        string    `json:"final_amount"`
	Band               string    `json:"band"`
	CreatedAt          time.Time `json:"created_at"`
}

// FromReward converts a ledger reward.
func FromReward(r ledger.InteractionReward) Reward {
	return Reward{
		AccountID:          r.AccountID,
		Seq:                r.Seq,
		Kind:               string(r.Kind),
		BaseAmount:         r.BaseAmount.Dec(),
		Significance:       r.Significance,
		SignificanceAmount: r.SignificanceAmount.Dec(),
		Tier:               r.Tier,
		TierMultiplier:     r.TierMultiplier,
		FinalAmount:        r.FinalAmount.Dec(),
		Band:               r.Band,
		CreatedAt:          r.CreatedAt,
	}
}

// Stats combines ledger aggregates with the retained call history.
type Stats struct {
	Circulating         string                 `json:"circulating"`
	Treasury            string                 `json:"treasury"`
	TotalInteractions   uint64                 `json:"total_interactions"`
	AverageSignificance uint64                 `json:"average_significance"`
	ActiveParticipants  int                    `json:"active_participants"`
	Accounts            int                    `json:"accounts"`
	Calls               lifecycle.HistoryStats `json:"calls"`
	PolicyHash          string                 `json:"policy_hash"`
}

// RegisterRequest is the body of POST /api/accounts.
type RegisterRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// InteractionRequest is the body of POST /api/accounts/{id}/interactions.
// Weight is the number of occurrences; zero counts as one.
type InteractionRequest struct {
	Kind   string `json:"kind"`
	Weight uint64 `json:"weight"`
}

// TrustResponse reports an account's trust score after a mutation.
type TrustResponse struct {
	AccountID  string `json:"account_id"`
	TrustScore int    `json:"trust_score"`
}

// RewardRequest is the body of POST /api/accounts/{id}/rewards.
type RewardRequest struct {
	Kind         string `json:"kind"`
	BaseAmount   string `json:"base_amount"`
	Significance uint64 `json:"significance"`
}

// ReportRequest is the body of POST /api/accounts/{id}/reports; the path
// names the reported account.
type ReportRequest struct {
	Reporter string `json:"reporter"`
}

// FundRequest is the body of POST /api/treasury/fund.
type FundRequest struct {
	Amount string `json:"amount"`
}

// Treasury is the body of GET /api/treasury.
type Treasury struct {
	Balance     string `json:"balance"`
	Circulating string `json:"circulating"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Error string `json:"error"`
}
