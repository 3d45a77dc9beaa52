package verification

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyon/amlguard/internal/countryrisk"
	"github.com/complyon/amlguard/internal/events"
	"github.com/complyon/amlguard/internal/screening"
	"github.com/complyon/amlguard/internal/watchlist"
)

type fakeScreener struct {
	mu       sync.Mutex
	matches  map[string][]screening.Match
	seen     []string
	subjects []screening.Subject
}

func (f *fakeScreener) Screen(_ context.Context, subject screening.Subject) []screening.Match {
	f.mu.Lock()
	f.seen = append(f.seen, subject.Name)
	f.subjects = append(f.subjects, subject)
	f.mu.Unlock()
	return f.matches[subject.Name]
}

type fakeRiskSource struct {
	risks    map[string]countryrisk.CountryRisk
	degraded bool
}

func (f *fakeRiskSource) Ensure(context.Context) *countryrisk.RiskMap {
	status := countryrisk.ValidationStatusOK
	if f.degraded {
		status = countryrisk.ValidationStatusDegraded
	}
	return &countryrisk.RiskMap{
		Countries: f.risks,
		Metadata:  countryrisk.BuildMetadata{ValidationStatus: status},
	}
}

func (f *fakeRiskSource) GetCountryRisk(_ context.Context, isoCode string) (countryrisk.CountryRisk, bool) {
	r, ok := f.risks[isoCode]
	return r, ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	alerts []events.Alert
}

func (p *recordingPublisher) Publish(_ context.Context, a events.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, a)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func testRisks() map[string]countryrisk.CountryRisk {
	return map[string]countryrisk.CountryRisk{
		"US": {ISOCode: "US", Name: "United States", RiskLevel: countryrisk.RiskLevelLow, Sources: []string{"Basel AML Index"}},
		"VE": {ISOCode: "VE", Name: "Venezuela", RiskLevel: countryrisk.RiskLevelHigh, Sources: []string{"Basel AML Index", "EU High-Risk List"}},
		"KP": {ISOCode: "KP", Name: "North Korea", RiskLevel: countryrisk.RiskLevelHigh, Sources: []string{"FATF"}},
	}
}

func maduroMatches() []screening.Match {
	return []screening.Match{
		{
			Source:      watchlist.SourcePEP,
			MatchedName: "Nicolas Maduro Moros",
			Score:       0.97,
			MatchType:   screening.MatchTypeExact,
			Provenance:  "PEP",
		},
		{
			Source:      watchlist.SourceOFAC,
			MatchedName: "MADURO MOROS, Nicolas",
			Score:       0.92,
			MatchType:   screening.MatchTypeExact,
			Provenance:  "OFAC",
		},
	}
}

func newTestOrchestrator(s EntityScreener, r RiskSource, p events.Publisher) *Orchestrator {
	return NewOrchestrator(s, r, p, zap.NewNop().Sugar())
}

func TestVerify_SanctionedPEPIsMatched(t *testing.T) {
	screener := &fakeScreener{matches: map[string][]screening.Match{
		"Nicolas Maduro Moros": maduroMatches(),
	}}
	risk := &fakeRiskSource{risks: testRisks()}

	o := newTestOrchestrator(screener, risk, nil)
	res, err := o.Verify(context.Background(), Entity{
		Name:    "Nicolas Maduro Moros",
		Country: "VE",
		Type:    EntityTypeNaturalPerson,
	}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, StatusMatched, res.Status)
	assert.GreaterOrEqual(t, res.RiskScore, 0.8)
	assert.Equal(t, countryrisk.RiskLevelHigh, res.RiskLevel)
	assert.NotEmpty(t, res.PEPMatches())
	assert.NotEmpty(t, res.SanctionsMatches())
	assert.Equal(t, "VE", res.CountryRisk.ISOCode)
	require.NotNil(t, res.CountryRisk.Risk)
	assert.NotZero(t, res.ID)
}

func TestVerify_CleanCustomerScoresCountryTermOnly(t *testing.T) {
	screener := &fakeScreener{matches: map[string][]screening.Match{}}
	risk := &fakeRiskSource{risks: testRisks()}

	o := newTestOrchestrator(screener, risk, nil)
	res, err := o.Verify(context.Background(), Entity{
		Name:    "John Smith",
		Country: "US",
		Type:    EntityTypeNaturalPerson,
	}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, StatusClear, res.Status)
	assert.InDelta(t, 0.1, res.RiskScore, 0.0001)
	assert.Equal(t, countryrisk.RiskLevelLow, res.RiskLevel)
	assert.Empty(t, res.PEPMatches())
	assert.False(t, res.Degraded)
}

func TestVerify_UBOEscalatesCompositeStatus(t *testing.T) {
	uboMatch := screening.Match{
		Source:      watchlist.SourceUN,
		MatchedName: "Kim Jong-un",
		Score:       0.96,
		MatchType:   screening.MatchTypeExact,
		Provenance:  "UN",
	}
	screener := &fakeScreener{matches: map[string][]screening.Match{
		"Kim Jong-un": {uboMatch},
	}}
	risk := &fakeRiskSource{risks: testRisks()}

	o := newTestOrchestrator(screener, risk, nil)
	res, err := o.Verify(context.Background(),
		Entity{Name: "Acme Holdings Ltd", Country: "US", Type: EntityTypeLegalEntity},
		[]Entity{{Name: "Jane Doe", Country: "US", Type: EntityTypeNaturalPerson}},
		[]Entity{{Name: "Kim Jong-un", Country: "KP", Type: EntityTypeNaturalPerson}},
	)

	require.NoError(t, err)
	assert.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, countryrisk.RiskLevelHigh, res.RiskLevel)

	// each party's matches stay separately addressable
	require.Len(t, res.Parties, 3)
	byRelation := map[string]PartyResult{}
	for _, p := range res.Parties {
		byRelation[p.Relation] = p
	}
	assert.Empty(t, byRelation["customer"].Matches)
	assert.Equal(t, StatusClear, byRelation["customer"].Status)
	assert.Empty(t, byRelation["director:0"].Matches)
	require.Len(t, byRelation["ubo:0"].Matches, 1)
	assert.Equal(t, StatusMatched, byRelation["ubo:0"].Status)
}

func TestVerify_AllPartiesScreened(t *testing.T) {
	screener := &fakeScreener{matches: map[string][]screening.Match{}}
	risk := &fakeRiskSource{risks: testRisks()}

	o := newTestOrchestrator(screener, risk, nil)
	_, err := o.Verify(context.Background(),
		Entity{Name: "Acme Holdings Ltd", Country: "US", Type: EntityTypeLegalEntity},
		[]Entity{
			{Name: "Jane Doe", Country: "US", Type: EntityTypeNaturalPerson},
			{Name: "Pat Jones", Country: "US", Type: EntityTypeNaturalPerson},
		},
		[]Entity{{Name: "Sam Park", Country: "US", Type: EntityTypeNaturalPerson}},
	)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Acme Holdings Ltd", "Jane Doe", "Pat Jones", "Sam Park"}, screener.seen)
}

func TestVerify_EntityTypeVocabularyForProviders(t *testing.T) {
	screener := &fakeScreener{matches: map[string][]screening.Match{}}
	risk := &fakeRiskSource{risks: testRisks()}

	o := newTestOrchestrator(screener, risk, nil)
	_, err := o.Verify(context.Background(),
		Entity{Name: "Acme Holdings Ltd", Country: "US", Type: EntityTypeLegalEntity},
		nil,
		[]Entity{{Name: "Jane Doe", Country: "US", Type: EntityTypeNaturalPerson}},
	)
	require.NoError(t, err)

	types := map[string]string{}
	for _, s := range screener.subjects {
		types[s.Name] = s.Type
	}
	assert.Equal(t, "legal", types["Acme Holdings Ltd"])
	assert.Equal(t, "individual", types["Jane Doe"])
}

func TestVerify_InvalidInput(t *testing.T) {
	o := newTestOrchestrator(&fakeScreener{}, &fakeRiskSource{risks: testRisks()}, nil)

	_, err := o.Verify(context.Background(), Entity{Name: "", Country: "US", Type: EntityTypeNaturalPerson}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = o.Verify(context.Background(), Entity{Name: "John Smith", Country: "USA", Type: EntityTypeNaturalPerson}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = o.Verify(context.Background(),
		Entity{Name: "Acme Holdings Ltd", Country: "US", Type: EntityTypeLegalEntity},
		[]Entity{{Name: "J", Country: "US", Type: EntityTypeNaturalPerson}},
		nil,
	)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestVerify_UnknownCountryDefaultsToMedium(t *testing.T) {
	screener := &fakeScreener{matches: map[string][]screening.Match{}}
	risk := &fakeRiskSource{risks: map[string]countryrisk.CountryRisk{}}

	o := newTestOrchestrator(screener, risk, nil)
	res, err := o.Verify(context.Background(), Entity{
		Name:    "John Smith",
		Country: "US",
		Type:    EntityTypeNaturalPerson,
	}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, countryrisk.RiskLevelMedium, res.CountryRisk.RiskLevel)
	assert.Contains(t, res.CountryRisk.Note, "not found")
	assert.Nil(t, res.CountryRisk.Risk)
	assert.InDelta(t, 0.3, res.RiskScore, 0.0001)
}

func TestVerify_DegradedProvenancePropagates(t *testing.T) {
	screener := &fakeScreener{matches: map[string][]screening.Match{
		"Nicolas Maduro Moros": {{
			Source:      watchlist.SourceOFAC,
			MatchedName: "Nicolas Maduro Moros",
			Score:       0.95,
			MatchType:   screening.MatchTypeExact,
			Provenance:  "OFAC (Cached)",
		}},
	}}
	risk := &fakeRiskSource{risks: testRisks()}

	o := newTestOrchestrator(screener, risk, nil)
	res, err := o.Verify(context.Background(), Entity{
		Name:    "Nicolas Maduro Moros",
		Country: "VE",
		Type:    EntityTypeNaturalPerson,
	}, nil, nil)

	require.NoError(t, err)
	assert.True(t, res.Degraded)
}

func TestVerify_AlertPublishedOnlyForNonClear(t *testing.T) {
	pub := &recordingPublisher{}
	screener := &fakeScreener{matches: map[string][]screening.Match{
		"Nicolas Maduro Moros": maduroMatches(),
	}}
	risk := &fakeRiskSource{risks: testRisks()}
	o := newTestOrchestrator(screener, risk, pub)

	_, err := o.Verify(context.Background(), Entity{
		Name: "John Smith", Country: "US", Type: EntityTypeNaturalPerson,
	}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, pub.alerts)

	res, err := o.Verify(context.Background(), Entity{
		Name: "Nicolas Maduro Moros", Country: "VE", Type: EntityTypeNaturalPerson,
	}, nil, nil)
	require.NoError(t, err)
	require.Len(t, pub.alerts, 1)
	assert.Equal(t, res.ID, pub.alerts[0].Verification)
	assert.Equal(t, "matched", pub.alerts[0].Status)
	assert.Equal(t, 2, pub.alerts[0].MatchCount)
}
