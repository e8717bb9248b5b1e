package ledger

import (
	"time"

	"github.com/holiman/uint256"
)

// InteractionReward is one immutable entry in an account's reward history.
type InteractionReward struct {
	AccountID          string          `json:"account_id"`
	Seq                uint64          `json:"seq"`
	Kind               InteractionKind `json:"kind"`
	BaseAmount         uint256.Int     `json:"-"`
	Significance       uint64          `json:"significance"`
	SignificanceAmount uint256.Int     `json:"-"`
	Tier               string          `json:"tier"`
	TierMultiplier     uint64          `json:"tier_multiplier"`
	FinalAmount        uint256.Int     `json:"-"`
	Band               string          `json:"band"`
	CreatedAt          time.Time       `json:"created_at"`
}

var thousand = uint256.NewInt(1000)

// rewardAmounts computes the significance-scaled and tier-scaled amounts.
// All math is integer with floor division.
func rewardAmounts(base *uint256.Int, significance, multiplier uint64) (sigAmount, final uint256.Int, err error) {
	if _, overflow := sigAmount.MulOverflow(base, uint256.NewInt(significance)); overflow {
		return sigAmount, final, ErrOverflow
	}
	sigAmount.Div(&sigAmount, thousand)

	if _, overflow := final.MulOverflow(&sigAmount, uint256.NewInt(multiplier)); overflow {
		return sigAmount, final, ErrOverflow
	}
	final.Div(&final, thousand)
	return sigAmount, final, nil
}

// Stats is the ledger-wide aggregate view.
type Stats struct {
	Circulating         uint256.Int `json:"-"`
	Treasury            uint256.Int `json:"-"`
	TotalInteractions   uint64      `json:"total_interactions"`
	AverageSignificance uint64      `json:"average_significance"`
	ActiveParticipants  int         `json:"active_participants"`
	Accounts            int         `json:"accounts"`
}
