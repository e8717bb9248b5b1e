package classifier

import (
	"strings"

	"github.com/ppiankov/rpcwarden/internal/model"
)

const noReasoning = "classifier gave no reasoning"

// parseVerdict reads the RISK_LEVEL / SHOULD_PROCEED / REASONING fields.
// Missing or unreadable fields take defaults: the method's fallback level,
// proceed unless HIGH, and a fixed reasoning text.
func parseVerdict(raw, method string) model.RiskVerdict {
	var (
		level      model.RiskLevel
		proceed    bool
		hasProceed bool
		reasoning  string
	)

	for _, line := range strings.Split(raw, "\n") {
		key, val, ok := strings.Cut(cleanLine(line), ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(strings.Trim(strings.TrimSpace(val), "*`"))
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "RISK_LEVEL":
			if l, ok := model.ParseRiskLevel(firstWord(val)); ok {
				level = l
			}
		case "SHOULD_PROCEED":
			switch strings.ToLower(firstWord(val)) {
			case "true", "yes":
				proceed, hasProceed = true, true
			case "false", "no":
				proceed, hasProceed = false, true
			}
		case "REASONING":
			reasoning = val
		}
	}

	if level == "" {
		level = fallbackLevel(method)
	}
	if !hasProceed {
		proceed = level != model.RiskHigh
	}
	if reasoning == "" {
		reasoning = noReasoning
	}
	return model.RiskVerdict{Level: level, Proceed: proceed, Reasoning: reasoning, Source: model.SourceClassifier}
}

// cleanLine strips markdown emphasis and list markers some models add.
func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "-*# ")
	return strings.ReplaceAll(s, "**", "")
}

func firstWord(s string) string {
	s = strings.Trim(s, " \t.,;")
	if i := strings.IndexAny(s, " \t.,;"); i >= 0 {
		return s[:i]
	}
	return s
}
