// Package decision merges a risk verdict and a reputation verdict into one
// admission decision. It performs no I/O.
package decision

import (
	"strings"

	"github.com/ppiankov/rpcwarden/internal/model"
)

// AutoApprovePolicy controls which approved calls skip manual review.
type AutoApprovePolicy struct {
	Enabled            bool `yaml:"enabled" json:"enabled"`
	AllowAllRiskLevels bool `yaml:"allow_all_risk_levels" json:"allow_all_risk_levels"`
	HighTrustOnly      bool `yaml:"high_trust_only" json:"high_trust_only"`
}

// Policy is the operator-controlled part of the decision.
type Policy struct {
	// ForceManualReview holds every call for approval.
	ForceManualReview bool `yaml:"force_manual_review" json:"force_manual_review"`
	// Supervised holds approved calls that are not auto-approve eligible.
	Supervised  bool              `yaml:"supervised" json:"supervised"`
	AutoApprove AutoApprovePolicy `yaml:"auto_approve" json:"auto_approve"`
}

// highTrustScore is the minimum trust score under HighTrustOnly.
const highTrustScore = 500

// Rule names recorded on each decision.
const (
	RuleForceManualReview = "force_manual_review"
	RuleClassifierReview  = "classifier_review"
	RuleClassifierReject  = "classifier_reject"
	RuleReputationReview  = "reputation_review"
	RuleReputationReject  = "reputation_reject"
	RuleManualReview      = "manual_review"
	RuleAutoApproved      = "auto_approved"
	RuleSupervised        = "supervised"
	RuleApproved          = "approved"
)

// Combine applies the rules in order; the first match wins.
//
//  1. ForceManualReview holds the call.
//  2. A classifier refusal rejects, except MEDIUM which is held.
//  3. A reputation refusal rejects as HIGH, except an explicit
//     manual_review recommendation which is held.
//  4. Otherwise the call is approved, held for review when the
//     classifier says HIGH or reputation recommends manual_review.
//
// A HIGH refusal from the classifier is never softened by reputation.
func Combine(risk model.RiskVerdict, rep *model.ReputationVerdict, policy Policy) model.Decision {
	if policy.ForceManualReview {
		return model.Decision{
			Outcome:              model.OutcomeHold,
			RequiresManualReview: true,
			RiskLevel:            risk.Level,
			Reasoning:            "manual review forced by policy",
			Rule:                 RuleForceManualReview,
		}
	}

	if !risk.Proceed {
		if risk.Level == model.RiskMedium {
			return model.Decision{
				Outcome:              model.OutcomeHold,
				RequiresManualReview: true,
				RiskLevel:            risk.Level,
				Reasoning:            risk.Reasoning,
				Rule:                 RuleClassifierReview,
			}
		}
		return model.Decision{
			Outcome:   model.OutcomeReject,
			RiskLevel: risk.Level,
			Reasoning: risk.Reasoning,
			Rule:      RuleClassifierReject,
		}
	}

	if rep != nil && !rep.Proceed {
		reason := reputationReason(rep)
		if rep.Recommendation == model.RecommendManualReview {
			return model.Decision{
				Outcome:              model.OutcomeHold,
				RequiresManualReview: true,
				RiskLevel:            model.RiskHigh,
				Reasoning:            reason,
				Rule:                 RuleReputationReview,
			}
		}
		return model.Decision{
			Outcome:   model.OutcomeReject,
			RiskLevel: model.RiskHigh,
			Reasoning: reason,
			Rule:      RuleReputationReject,
		}
	}

	d := model.Decision{
		Approved:  true,
		RiskLevel: risk.Level,
		Reasoning: risk.Reasoning,
	}
	if risk.Level == model.RiskHigh || (rep != nil && rep.Recommendation == model.RecommendManualReview) {
		d.Outcome = model.OutcomeHold
		d.RequiresManualReview = true
		d.Rule = RuleManualReview
		if rep != nil && len(rep.Warnings) > 0 {
			d.Reasoning = joinReason(d.Reasoning, strings.Join(rep.Warnings, "; "))
		}
		return d
	}

	switch {
	case autoApprovable(risk, rep, policy.AutoApprove):
		d.Outcome = model.OutcomeForward
		d.AutoApproved = true
		d.Rule = RuleAutoApproved
	case policy.Supervised:
		d.Outcome = model.OutcomeHold
		d.RequiresManualReview = true
		d.Rule = RuleSupervised
	default:
		d.Outcome = model.OutcomeForward
		d.Rule = RuleApproved
	}
	return d
}

func autoApprovable(risk model.RiskVerdict, rep *model.ReputationVerdict, p AutoApprovePolicy) bool {
	if !p.Enabled {
		return false
	}
	if risk.Level != model.RiskLow && !p.AllowAllRiskLevels {
		return false
	}
	if p.HighTrustOnly && (rep == nil || rep.TrustScore < highTrustScore) {
		return false
	}
	return true
}

func reputationReason(rep *model.ReputationVerdict) string {
	if len(rep.Warnings) == 0 {
		return "reputation check failed"
	}
	return "reputation: " + strings.Join(rep.Warnings, "; ")
}

func joinReason(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "; " + b
}
