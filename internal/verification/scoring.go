package verification

import (
	"github.com/complyon/amlguard/internal/countryrisk"
	"github.com/complyon/amlguard/internal/screening"
)

// Composite score weights. Any sanctions evidence alone puts an entity at
// 0.8, any PEP evidence alone at 0.5; additional matches push the score
// toward the clamp.
const (
	pepPresenceWeight       = 0.5
	pepSumWeight            = 0.2
	sanctionsPresenceWeight = 0.8
	sanctionsSumWeight      = 0.3
)

// countryTerm maps the consolidated country risk level onto the score
func countryTerm(level countryrisk.RiskLevel) float64 {
	switch level {
	case countryrisk.RiskLevelHigh:
		return 0.5
	case countryrisk.RiskLevelMedium:
		return 0.3
	default:
		return 0.1
	}
}

// CompositeScore reduces all accepted matches and the country assessment to
// a single risk score in [0,1]
func CompositeScore(matches []screening.Match, country CountryAssessment) float64 {
	var pepSum, sanctionsSum float64
	var anyPEP, anySanctions bool

	for _, m := range matches {
		if m.IsSanctions() {
			anySanctions = true
			sanctionsSum += m.Score
		} else {
			anyPEP = true
			pepSum += m.Score
		}
	}

	score := countryTerm(country.RiskLevel)
	if anyPEP {
		score += pepPresenceWeight + pepSumWeight*pepSum
	}
	if anySanctions {
		score += sanctionsPresenceWeight + sanctionsSumWeight*sanctionsSum
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// statusFor derives one party's status from its accepted matches. Sanctions
// evidence or an exact hit means matched; any other accepted hit means
// review; otherwise clear.
func statusFor(matches []screening.Match) Status {
	status := StatusClear
	for _, m := range matches {
		if m.IsSanctions() || m.MatchType == screening.MatchTypeExact {
			return StatusMatched
		}
		status = StatusReview
	}
	return status
}

// riskLevelFor maps the composite score onto the three-level scale used by
// the country risk map, never below the country's own level
func riskLevelFor(score float64, country CountryAssessment) countryrisk.RiskLevel {
	level := countryrisk.RiskLevelLow
	switch {
	case score >= 0.7:
		level = countryrisk.RiskLevelHigh
	case score >= 0.4:
		level = countryrisk.RiskLevelMedium
	}
	return level.Max(country.RiskLevel)
}
