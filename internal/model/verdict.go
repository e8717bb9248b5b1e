package model

import "strings"

// RiskLevel is the classifier's assessment of a call.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ParseRiskLevel accepts a risk level in any case. Unknown input reports false.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow, true
	case RiskMedium:
		return RiskMedium, true
	case RiskHigh:
		return RiskHigh, true
	}
	return "", false
}

// VerdictSource records which path produced a risk verdict.
type VerdictSource string

const (
	SourceFastPath   VerdictSource = "fast_path"
	SourceClassifier VerdictSource = "classifier"
	SourceFallback   VerdictSource = "fallback"
)

// RiskVerdict is the output of the risk classifier.
type RiskVerdict struct {
	Level     RiskLevel     `json:"level"`
	Proceed   bool          `json:"proceed"`
	Reasoning string        `json:"reasoning"`
	Source    VerdictSource `json:"source"`
}

// TrustLevel is the reputation band derived from an account's trust score.
type TrustLevel string

const (
	TrustLow      TrustLevel = "low"
	TrustMedium   TrustLevel = "medium"
	TrustHigh     TrustLevel = "high"
	TrustVeryHigh TrustLevel = "very_high"
)

// TrustLevelFor maps a trust score to its band.
func TrustLevelFor(score int) TrustLevel {
	switch {
	case score >= 1000:
		return TrustVeryHigh
	case score >= 500:
		return TrustHigh
	case score >= 100:
		return TrustMedium
	default:
		return TrustLow
	}
}

// Recommendation is what the reputation adapter suggests doing with a call.
type Recommendation string

const (
	RecommendApprove      Recommendation = "approve"
	RecommendManualReview Recommendation = "manual_review"
	RecommendReject       Recommendation = "reject"
)

// ReputationVerdict is the output of the reputation adapter.
type ReputationVerdict struct {
	AccountID      string         `json:"account_id"`
	TrustLevel     TrustLevel     `json:"trust_level"`
	TrustScore     int            `json:"trust_score"`
	Proceed        bool           `json:"proceed"`
	Warnings       []string       `json:"warnings"`
	Recommendation Recommendation `json:"recommendation"`
}

// Outcome is the admission decision for one call.
type Outcome int

const (
	OutcomeReject Outcome = iota
	OutcomeHold
	OutcomeForward
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReject:
		return "reject"
	case OutcomeHold:
		return "hold"
	case OutcomeForward:
		return "forward"
	default:
		return "unknown"
	}
}

// MarshalText renders the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome name. Unknown names map to reject.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "hold":
		*o = OutcomeHold
	case "forward":
		*o = OutcomeForward
	default:
		*o = OutcomeReject
	}
	return nil
}

// Decision is the combined admission decision.
type Decision struct {
	Outcome              Outcome   `json:"outcome"`
	Approved             bool      `json:"approved"`
	RequiresManualReview bool      `json:"requires_manual_review"`
	AutoApproved         bool      `json:"auto_approved"`
	RiskLevel            RiskLevel `json:"risk_level"`
	Reasoning            string    `json:"reasoning"`
	Rule                 string    `json:"rule"`
}
