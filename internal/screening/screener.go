package screening

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/complyon/amlguard/internal/watchlist"
)

// MatchType classifies the confidence of a watchlist match
type MatchType string

const (
	MatchTypeExact   MatchType = "exact"
	MatchTypePartial MatchType = "partial"
	MatchTypeAlias   MatchType = "alias"
)

// Match is one accepted watchlist hit. Matches are immutable and are never
// de-duplicated across sources: two sources hitting the same real entity
// are both retained for provenance.
type Match struct {
	Source      watchlist.Source  `json:"source"`
	MatchedName string            `json:"matched_name"`
	Score       float64           `json:"score"`
	MatchType   MatchType         `json:"match_type"`
	QueriedName string            `json:"queried_name"`
	Provenance  string            `json:"provenance"`
	Details     map[string]string `json:"details,omitempty"`
}

// IsSanctions reports whether the match is sanctions evidence
func (m Match) IsSanctions() bool {
	return m.Source.IsSanctions()
}

// Subject is the screening view of a business entity
type Subject struct {
	Name    string
	Country string
	Type    string
	Aliases []string
}

// Enricher is the pre-screening extension point. The default enrichment is
// an alias passthrough.
type Enricher interface {
	Enrich(subject Subject) Subject
}

type passthroughEnricher struct{}

func (passthroughEnricher) Enrich(subject Subject) Subject { return subject }

// SourceGateway is the outbound dependency of the screener, satisfied by
// watchlist.Gateway and by fakes in tests
type SourceGateway interface {
	Search(ctx context.Context, q watchlist.Query) watchlist.SearchResult
	Source() watchlist.Source
}

// Thresholds sets the acceptance floors per source class. Sanctions demand
// higher confidence because the downstream action is more severe.
type Thresholds struct {
	PEP       float64
	Sanctions float64
	Exact     float64
}

// DefaultThresholds returns the standard acceptance policy
func DefaultThresholds() Thresholds {
	return Thresholds{PEP: 0.6, Sanctions: 0.7, Exact: 0.9}
}

// Screener runs all watchlist checks for one subject concurrently and
// applies similarity-based match acceptance
type Screener struct {
	gateways   []SourceGateway
	matcher    NameMatcher
	enricher   Enricher
	thresholds Thresholds
	logger     *zap.SugaredLogger
}

// NewScreener creates a screener over the given source gateways
func NewScreener(gateways []SourceGateway, matcher NameMatcher, logger *zap.SugaredLogger, thresholds Thresholds) *Screener {
	if thresholds.PEP == 0 && thresholds.Sanctions == 0 {
		thresholds = DefaultThresholds()
	}
	return &Screener{
		gateways:   gateways,
		matcher:    matcher,
		enricher:   passthroughEnricher{},
		thresholds: thresholds,
		logger:     logger,
	}
}

// WithEnricher replaces the pre-screening enrichment step
func (s *Screener) WithEnricher(e Enricher) *Screener {
	s.enricher = e
	return s
}

// screenTask is one (source, name) lookup
type screenTask struct {
	gateway SourceGateway
	name    string
	isAlias bool
}

// Screen queries every source for the subject's primary name and each alias
// concurrently, all launched together and jointly awaited. The fallback
// chain inside each gateway guarantees every task completes, so one slow or
// dead source delays only its own branch.
func (s *Screener) Screen(ctx context.Context, subject Subject) []Match {
	subject = s.enricher.Enrich(subject)

	names := append([]string{subject.Name}, subject.Aliases...)
	var tasks []screenTask
	for _, gw := range s.gateways {
		for i, name := range names {
			tasks = append(tasks, screenTask{gateway: gw, name: name, isAlias: i > 0})
		}
	}

	// One result slot per task: no shared mutable state between branches
	results := make([][]Match, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		g.Go(func() error {
			res := task.gateway.Search(gctx, watchlist.Query{
				Name:    task.name,
				Type:    subject.Type,
				Country: subject.Country,
			})
			results[i] = s.accept(task, res)
			return nil
		})
	}
	_ = g.Wait()

	var matches []Match
	for _, part := range results {
		matches = append(matches, part...)
	}

	s.logger.Infow("subject screened",
		"name", subject.Name,
		"aliases", len(subject.Aliases),
		"sources", len(s.gateways),
		"matches", len(matches),
	)
	return matches
}

// accept scores raw hits and keeps those above the source-class threshold
func (s *Screener) accept(task screenTask, res watchlist.SearchResult) []Match {
	source := task.gateway.Source()
	threshold := s.thresholds.PEP
	if source.IsSanctions() {
		threshold = s.thresholds.Sanctions
	}

	var matches []Match
	for _, hit := range res.Hits {
		score, matchedName := bestHitScore(s.matcher, task.name, hit)
		if score < threshold {
			continue
		}

		matchType := MatchTypePartial
		switch {
		case task.isAlias:
			matchType = MatchTypeAlias
		case score > s.thresholds.Exact:
			matchType = MatchTypeExact
		}

		matches = append(matches, Match{
			Source:      source,
			MatchedName: matchedName,
			Score:       score,
			MatchType:   matchType,
			QueriedName: task.name,
			Provenance:  res.Provenance,
			Details:     hit.Details,
		})
	}
	return matches
}

// bestHitScore scores the queried name against the hit's primary name and
// every listed alias
func bestHitScore(matcher NameMatcher, query string, hit watchlist.Hit) (float64, string) {
	best := matcher.Similarity(query, hit.Name)
	bestName := hit.Name
	for _, alias := range hit.Aliases {
		if s := matcher.Similarity(query, alias); s > best {
			best = s
			bestName = alias
		}
	}
	return best, bestName
}
