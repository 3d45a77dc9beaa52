package screening

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyon/amlguard/internal/watchlist"
)

type fakeGateway struct {
	mu      sync.Mutex
	source  watchlist.Source
	hits    map[string][]watchlist.Hit
	degrade bool
	queries []watchlist.Query
}

func (g *fakeGateway) Search(_ context.Context, q watchlist.Query) watchlist.SearchResult {
	g.mu.Lock()
	g.queries = append(g.queries, q)
	g.mu.Unlock()

	provenance := string(g.source)
	if g.degrade {
		provenance = string(g.source) + " (Cached)"
	}
	return watchlist.SearchResult{
		Hits:       g.hits[q.Name],
		Provenance: provenance,
		Degraded:   g.degrade,
	}
}

func (g *fakeGateway) Source() watchlist.Source { return g.source }

func newTestScreener(gateways ...SourceGateway) *Screener {
	return NewScreener(gateways, NewFuzzyMatcher(), zap.NewNop().Sugar(), DefaultThresholds())
}

func TestScreen_ExactMatchAcrossSources(t *testing.T) {
	pep := &fakeGateway{
		source: watchlist.SourcePEP,
		hits: map[string][]watchlist.Hit{
			"Nicolas Maduro Moros": {{Name: "Nicolas Maduro Moros", Country: "VE"}},
		},
	}
	ofac := &fakeGateway{
		source: watchlist.SourceOFAC,
		hits: map[string][]watchlist.Hit{
			"Nicolas Maduro Moros": {{Name: "MADURO MOROS, Nicolas", Country: "VE"}},
		},
	}

	s := newTestScreener(pep, ofac)
	matches := s.Screen(context.Background(), Subject{
		Name:    "Nicolas Maduro Moros",
		Country: "VE",
		Type:    "individual",
	})

	require.Len(t, matches, 2)
	bySource := map[watchlist.Source]Match{}
	for _, m := range matches {
		bySource[m.Source] = m
	}

	require.Contains(t, bySource, watchlist.SourcePEP)
	assert.Equal(t, MatchTypeExact, bySource[watchlist.SourcePEP].MatchType)
	assert.Greater(t, bySource[watchlist.SourcePEP].Score, 0.9)

	require.Contains(t, bySource, watchlist.SourceOFAC)
	assert.True(t, bySource[watchlist.SourceOFAC].IsSanctions())
	assert.GreaterOrEqual(t, bySource[watchlist.SourceOFAC].Score, 0.7)
}

func TestScreen_NoDeduplicationAcrossSources(t *testing.T) {
	// The same real-world entity hitting on two lists must yield two matches
	hit := []watchlist.Hit{{Name: "Kim Jong-un", Country: "KP"}}
	un := &fakeGateway{source: watchlist.SourceUN, hits: map[string][]watchlist.Hit{"Kim Jong-un": hit}}
	eu := &fakeGateway{source: watchlist.SourceEU, hits: map[string][]watchlist.Hit{"Kim Jong-un": hit}}

	s := newTestScreener(un, eu)
	matches := s.Screen(context.Background(), Subject{Name: "Kim Jong-un", Country: "KP", Type: "individual"})
	assert.Len(t, matches, 2)
}

func TestScreen_BelowThresholdRejected(t *testing.T) {
	ofac := &fakeGateway{
		source: watchlist.SourceOFAC,
		hits: map[string][]watchlist.Hit{
			"John Smith": {{Name: "Abdul Rahman al-Qadir", Country: "SY"}},
		},
	}

	s := newTestScreener(ofac)
	matches := s.Screen(context.Background(), Subject{Name: "John Smith", Country: "US", Type: "individual"})
	assert.Empty(t, matches)
}

type constMatcher struct{ score float64 }

func (m constMatcher) Similarity(_, _ string) float64 { return m.score }

func TestScreen_SanctionsThresholdStricterThanPEP(t *testing.T) {
	// A moderate similarity passes the PEP floor but not the sanctions floor
	hit := []watchlist.Hit{{Name: "Vladimir Olegovich Petrov"}}
	pep := &fakeGateway{source: watchlist.SourcePEP, hits: map[string][]watchlist.Hit{"Vladimir Petrov": hit}}
	ofac := &fakeGateway{source: watchlist.SourceOFAC, hits: map[string][]watchlist.Hit{"Vladimir Petrov": hit}}

	s := NewScreener([]SourceGateway{pep, ofac}, constMatcher{score: 0.65}, zap.NewNop().Sugar(), DefaultThresholds())
	matches := s.Screen(context.Background(), Subject{Name: "Vladimir Petrov", Type: "individual"})
	require.Len(t, matches, 1)
	assert.Equal(t, watchlist.SourcePEP, matches[0].Source)
}

func TestScreen_AliasQueriesEverySource(t *testing.T) {
	pep := &fakeGateway{
		source: watchlist.SourcePEP,
		hits: map[string][]watchlist.Hit{
			"El Comandante": {{Name: "El Comandante", Country: "VE"}},
		},
	}

	s := newTestScreener(pep)
	matches := s.Screen(context.Background(), Subject{
		Name:    "Nicolas Maduro Moros",
		Country: "VE",
		Type:    "individual",
		Aliases: []string{"El Comandante"},
	})

	require.Len(t, matches, 1)
	assert.Equal(t, MatchTypeAlias, matches[0].MatchType)
	assert.Equal(t, "El Comandante", matches[0].QueriedName)

	// primary plus alias, one query each
	assert.Len(t, pep.queries, 2)
}

func TestScreen_HitAliasScored(t *testing.T) {
	pep := &fakeGateway{
		source: watchlist.SourcePEP,
		hits: map[string][]watchlist.Hit{
			"Nicolas Maduro": {{Name: "MADURO-7391", Aliases: []string{"Nicolas Maduro Moros"}}},
		},
	}

	s := newTestScreener(pep)
	matches := s.Screen(context.Background(), Subject{Name: "Nicolas Maduro", Type: "individual"})
	require.Len(t, matches, 1)
	assert.Equal(t, "Nicolas Maduro Moros", matches[0].MatchedName)
}

func TestScreen_DegradedProvenanceCarried(t *testing.T) {
	ofac := &fakeGateway{
		source:  watchlist.SourceOFAC,
		degrade: true,
		hits: map[string][]watchlist.Hit{
			"Nicolas Maduro Moros": {{Name: "Nicolas Maduro Moros", Country: "VE"}},
		},
	}

	s := newTestScreener(ofac)
	matches := s.Screen(context.Background(), Subject{Name: "Nicolas Maduro Moros", Country: "VE", Type: "individual"})
	require.Len(t, matches, 1)
	assert.Equal(t, "OFAC (Cached)", matches[0].Provenance)
}

type prefixEnricher struct{ alias string }

func (e prefixEnricher) Enrich(subject Subject) Subject {
	subject.Aliases = append(subject.Aliases, e.alias)
	return subject
}

func TestScreen_EnricherExtendsAliases(t *testing.T) {
	pep := &fakeGateway{source: watchlist.SourcePEP, hits: map[string][]watchlist.Hit{}}

	s := newTestScreener(pep).WithEnricher(prefixEnricher{alias: "N. Maduro"})
	s.Screen(context.Background(), Subject{Name: "Nicolas Maduro", Type: "individual"})

	names := make([]string, 0, len(pep.queries))
	for _, q := range pep.queries {
		names = append(names, q.Name)
	}
	assert.ElementsMatch(t, []string{"Nicolas Maduro", "N. Maduro"}, names)
}

func TestScreen_EmptySourcesYieldNoMatches(t *testing.T) {
	s := newTestScreener()
	matches := s.Screen(context.Background(), Subject{Name: "Anyone", Type: "individual"})
	assert.Empty(t, matches)
}
