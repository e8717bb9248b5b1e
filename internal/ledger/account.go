package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// InitialTrustScore is assigned on registration.
const InitialTrustScore = 100

// MaxTrustScore is the upper clamp of the trust score.
const MaxTrustScore = 1000

// reportPenalty is subtracted from the trust score per report received.
const reportPenalty = 20

// maxCounter bounds every counter term so the trust sum cannot overflow.
const maxCounter = 1 << 32

// InteractionKind names an interaction recorded against an account.
type InteractionKind string

const (
	KindLike       InteractionKind = "like"
	KindComment    InteractionKind = "comment"
	KindPost       InteractionKind = "post"
	KindHelpful    InteractionKind = "helpful"
	KindValidation InteractionKind = "validation"
	KindPurchase   InteractionKind = "purchase"
)

// counterWeights are the trust contributions per counted interaction.
// Purchases carry no counter; they only earn significance boosts.
var counterWeights = map[InteractionKind]int64{
	KindLike:       1,
	KindComment:    3,
	KindPost:       5,
	KindHelpful:    10,
	KindValidation: 2,
}

// maxBoost is the trust boost a reward-bearing interaction earns at
// significance 1000. Lower significance scales it down linearly.
var maxBoost = map[InteractionKind]uint64{
	KindLike:       1,
	KindComment:    3,
	KindPost:       5,
	KindHelpful:    6,
	KindValidation: 2,
	KindPurchase:   8,
}

// ParseKind validates an interaction kind name.
func ParseKind(s string) (InteractionKind, bool) {
	k := InteractionKind(strings.ToLower(strings.TrimSpace(s)))
	_, ok := maxBoost[k]
	return k, ok
}

// Counters are the raw interaction tallies the trust score derives from.
type Counters struct {
	Likes           uint64 `json:"likes"`
	Comments        uint64 `json:"comments"`
	Posts           uint64 `json:"posts"`
	HelpfulMarks    uint64 `json:"helpful_marks"`
	Validations     uint64 `json:"validations"`
	ReportsReceived uint64 `json:"reports_received"`
	ReportsMade     uint64 `json:"reports_made"`
}

// add increments the counter for kind by n. A sum that would wrap is
// refused and the counters are left unchanged.
func (c *Counters) add(kind InteractionKind, n uint64) error {
	var p *uint64
	switch kind {
	case KindLike:
		p = &c.Likes
	case KindComment:
		p = &c.Comments
	case KindPost:
		p = &c.Posts
	case KindHelpful:
		p = &c.HelpfulMarks
	case KindValidation:
		p = &c.Validations
	default:
		return fmt.Errorf("%w: %q", ErrUnknownInteraction, kind)
	}
	if *p+n < *p {
		return fmt.Errorf("%w: %s", ErrCounterOverflow, kind)
	}
	*p += n
	return nil
}

// Account is one participant's reputation and token record.
type Account struct {
	ID                  string      `json:"id"`
	DisplayName         string      `json:"display_name"`
	Counters            Counters    `json:"counters"`
	SignificanceBonus   uint64      `json:"significance_bonus"`
	TrustScore          int         `json:"trust_score"`
	Active              bool        `json:"active"`
	TokenBalance        uint256.Int `json:"-"`
	TotalTokensEarned   uint256.Int `json:"-"`
	InteractionCount    uint64      `json:"interaction_count"`
	AverageSignificance uint64      `json:"average_significance"`
	RegisteredAt        time.Time   `json:"registered_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Tier returns the account's derived tier.
func (a Account) Tier() Tier {
	return TierFor(a.TrustScore)
}

// NormalizeID canonicalizes an account identifier. Hex addresses are
// case-insensitive, so ids are stored lower-case.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ComputeTrustScore is the only place a trust score is produced:
//
//	clamp(0, 1000, 100 + Σ counter×weight + significanceBonus − 20×reportsReceived)
func ComputeTrustScore(c Counters, significanceBonus uint64) int {
	score := int64(InitialTrustScore)
	score += bounded(c.Likes) * counterWeights[KindLike]
	score += bounded(c.Comments) * counterWeights[KindComment]
	score += bounded(c.Posts) * counterWeights[KindPost]
	score += bounded(c.HelpfulMarks) * counterWeights[KindHelpful]
	score += bounded(c.Validations) * counterWeights[KindValidation]
	score += bounded(significanceBonus)
	score -= bounded(c.ReportsReceived) * reportPenalty

	switch {
	case score < 0:
		return 0
	case score > MaxTrustScore:
		return MaxTrustScore
	}
	return int(score)
}

func bounded(v uint64) int64 {
	if v > maxCounter {
		return maxCounter
	}
	return int64(v)
}
