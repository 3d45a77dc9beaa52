package verification

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/complyon/amlguard/internal/countryrisk"
	"github.com/complyon/amlguard/internal/screening"
	"github.com/complyon/amlguard/internal/watchlist"
)

func pepMatch(score float64) screening.Match {
	return screening.Match{Source: watchlist.SourcePEP, Score: score, MatchType: screening.MatchTypeExact}
}

func sanctionsMatch(score float64) screening.Match {
	return screening.Match{Source: watchlist.SourceOFAC, Score: score, MatchType: screening.MatchTypePartial}
}

func lowCountry() CountryAssessment {
	return CountryAssessment{ISOCode: "US", RiskLevel: countryrisk.RiskLevelLow}
}

func TestCompositeScore_CountryTermOnly(t *testing.T) {
	cases := []struct {
		level countryrisk.RiskLevel
		want  float64
	}{
		{countryrisk.RiskLevelLow, 0.1},
		{countryrisk.RiskLevelMedium, 0.3},
		{countryrisk.RiskLevelHigh, 0.5},
	}
	for _, tc := range cases {
		got := CompositeScore(nil, CountryAssessment{RiskLevel: tc.level})
		assert.InDelta(t, tc.want, got, 0.0001, "level %s", tc.level)
	}
}

func TestCompositeScore_SinglePEPMatch(t *testing.T) {
	score := CompositeScore([]screening.Match{pepMatch(0.95)}, lowCountry())
	// 0.1 + 0.5 + 0.2*0.95
	assert.InDelta(t, 0.79, score, 0.0001)
}

func TestCompositeScore_SanctionsOutweighsPEP(t *testing.T) {
	pepOnly := CompositeScore([]screening.Match{pepMatch(0.8)}, lowCountry())
	sanctionsOnly := CompositeScore([]screening.Match{sanctionsMatch(0.8)}, lowCountry())
	assert.Greater(t, sanctionsOnly, pepOnly)
}

func TestCompositeScore_ClampedAtOne(t *testing.T) {
	matches := []screening.Match{
		pepMatch(0.99), pepMatch(0.95),
		sanctionsMatch(0.99), sanctionsMatch(0.97), sanctionsMatch(0.91),
	}
	score := CompositeScore(matches, CountryAssessment{RiskLevel: countryrisk.RiskLevelHigh})
	assert.Equal(t, 1.0, score)
}

func TestCompositeScore_Bounds(t *testing.T) {
	inputs := [][]screening.Match{
		nil,
		{pepMatch(0)},
		{sanctionsMatch(1.0)},
		{pepMatch(1.0), sanctionsMatch(1.0)},
	}
	for _, matches := range inputs {
		for _, level := range []countryrisk.RiskLevel{countryrisk.RiskLevelLow, countryrisk.RiskLevelMedium, countryrisk.RiskLevelHigh} {
			score := CompositeScore(matches, CountryAssessment{RiskLevel: level})
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusClear, statusFor(nil))

	partialPEP := screening.Match{Source: watchlist.SourcePEP, Score: 0.65, MatchType: screening.MatchTypePartial}
	assert.Equal(t, StatusReview, statusFor([]screening.Match{partialPEP}))

	assert.Equal(t, StatusMatched, statusFor([]screening.Match{pepMatch(0.95)}))
	assert.Equal(t, StatusMatched, statusFor([]screening.Match{sanctionsMatch(0.75)}))
}

func TestStatusMax(t *testing.T) {
	assert.Equal(t, StatusMatched, StatusClear.Max(StatusMatched))
	assert.Equal(t, StatusReview, StatusReview.Max(StatusClear))
	assert.Equal(t, StatusMatched, StatusMatched.Max(StatusReview))
}

func TestRiskLevelFor_NeverBelowCountryLevel(t *testing.T) {
	high := CountryAssessment{RiskLevel: countryrisk.RiskLevelHigh}
	assert.Equal(t, countryrisk.RiskLevelHigh, riskLevelFor(0.0, high))

	low := CountryAssessment{RiskLevel: countryrisk.RiskLevelLow}
	assert.Equal(t, countryrisk.RiskLevelLow, riskLevelFor(0.1, low))
	assert.Equal(t, countryrisk.RiskLevelMedium, riskLevelFor(0.5, low))
	assert.Equal(t, countryrisk.RiskLevelHigh, riskLevelFor(0.9, low))
}
