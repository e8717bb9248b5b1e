package ledger

// Tier is a trust band with its reward multiplier in parts per 1000.
type Tier struct {
	Name       string `json:"name"`
	Threshold  int    `json:"threshold"`
	Multiplier uint64 `json:"multiplier"`
}

// Tiers are ordered from lowest to highest.
var Tiers = []Tier{
	{Name: "Bronze", Threshold: 0, Multiplier: 800},
	{Name: "Silver", Threshold: 100, Multiplier: 1000},
	{Name: "Gold", Threshold: 500, Multiplier: 1200},
	{Name: "Platinum", Threshold: 1000, Multiplier: 1500},
}

// TierFor returns the tier for a trust score. A band is entered only once
// its threshold is exceeded, so a freshly registered account (score 100)
// is Bronze. Platinum is reached at the maximum score.
func TierFor(score int) Tier {
	if score >= MaxTrustScore {
		return Tiers[3]
	}
	for i := len(Tiers) - 2; i > 0; i-- {
		if score > Tiers[i].Threshold {
			return Tiers[i]
		}
	}
	return Tiers[0]
}

// SignificanceBand labels a 0-1000 significance score.
func SignificanceBand(significance uint64) string {
	switch {
	case significance >= 900:
		return "exceptional"
	case significance >= 700:
		return "high"
	case significance >= 400:
		return "moderate"
	case significance >= 100:
		return "low"
	default:
		return "negligible"
	}
}
