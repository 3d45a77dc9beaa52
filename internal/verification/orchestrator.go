package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/complyon/amlguard/internal/countryrisk"
	"github.com/complyon/amlguard/internal/events"
	"github.com/complyon/amlguard/internal/screening"
	"github.com/complyon/amlguard/pkg/metrics"
)

// EntityScreener runs all watchlist checks for one subject
type EntityScreener interface {
	Screen(ctx context.Context, subject screening.Subject) []screening.Match
}

// RiskSource provides the consolidated country risk map
type RiskSource interface {
	Ensure(ctx context.Context) *countryrisk.RiskMap
	GetCountryRisk(ctx context.Context, isoCode string) (countryrisk.CountryRisk, bool)
}

// Orchestrator is the sole verification entry point. It fans out over the
// customer and every related party, merges the outcomes, attaches country
// risk and computes the composite score.
type Orchestrator struct {
	screener  EntityScreener
	risk      RiskSource
	publisher events.Publisher
	logger    *zap.SugaredLogger
}

// NewOrchestrator wires the orchestrator with its collaborators
func NewOrchestrator(screener EntityScreener, risk RiskSource, publisher events.Publisher, logger *zap.SugaredLogger) *Orchestrator {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Orchestrator{
		screener:  screener,
		risk:      risk,
		publisher: publisher,
		logger:    logger,
	}
}

// Verify screens the customer together with its directors and UBOs. Source
// failures never abort the verification; only invalid entity input returns
// an error.
func (o *Orchestrator) Verify(ctx context.Context, customer Entity, directors, ubos []Entity) (VerificationResult, error) {
	start := time.Now()
	defer func() {
		metrics.VerificationLatency.Observe(time.Since(start).Seconds())
	}()

	if err := customer.Validate(); err != nil {
		return VerificationResult{}, err
	}
	for i, d := range directors {
		if err := d.Validate(); err != nil {
			return VerificationResult{}, fmt.Errorf("director %d: %w", i, err)
		}
	}
	for i, u := range ubos {
		if err := u.Validate(); err != nil {
			return VerificationResult{}, fmt.Errorf("ubo %d: %w", i, err)
		}
	}

	riskMap := o.risk.Ensure(ctx)

	parties := make([]PartyResult, 0, 1+len(directors)+len(ubos))
	parties = append(parties, PartyResult{Relation: RelationCustomer, Entity: customer})
	for i, d := range directors {
		parties = append(parties, PartyResult{Relation: fmt.Sprintf("director:%d", i), Entity: d})
	}
	for i, u := range ubos {
		parties = append(parties, PartyResult{Relation: fmt.Sprintf("ubo:%d", i), Entity: u})
	}

	// One screening branch per party, all jointly awaited. Each branch only
	// writes its own slot.
	g, gctx := errgroup.WithContext(ctx)
	for i := range parties {
		g.Go(func() error {
			p := &parties[i]
			p.Matches = o.screener.Screen(gctx, p.Entity.subject())
			p.Status = statusFor(p.Matches)
			return nil
		})
	}
	_ = g.Wait()

	country := o.assessCountry(ctx, customer.Country)

	var allMatches []screening.Match
	status := StatusClear
	degraded := riskMap != nil && riskMap.Metadata.ValidationStatus != countryrisk.ValidationStatusOK
	for _, p := range parties {
		allMatches = append(allMatches, p.Matches...)
		status = status.Max(p.Status)
		for _, m := range p.Matches {
			if m.Provenance != string(m.Source) {
				degraded = true
			}
		}
	}

	score := CompositeScore(allMatches, country)

	result := VerificationResult{
		ID:          uuid.New(),
		Customer:    customer,
		Status:      status,
		RiskScore:   score,
		RiskLevel:   riskLevelFor(score, country),
		CountryRisk: country,
		Parties:     parties,
		Degraded:    degraded,
		Timestamp:   time.Now().UTC(),
	}

	o.logger.Infow("verification completed",
		"verification_id", result.ID,
		"customer", customer.Name,
		"country", customer.Country,
		"status", result.Status,
		"risk_score", result.RiskScore,
		"matches", result.MatchCount(),
		"parties", len(parties),
		"degraded", result.Degraded,
	)

	o.alert(ctx, result)
	return result, nil
}

// assessCountry looks the customer country up in the risk map. Codes absent
// from the map default to MEDIUM with an explicit note rather than
// silently passing.
func (o *Orchestrator) assessCountry(ctx context.Context, isoCode string) CountryAssessment {
	if risk, ok := o.risk.GetCountryRisk(ctx, isoCode); ok {
		return CountryAssessment{
			ISOCode:   risk.ISOCode,
			RiskLevel: risk.RiskLevel,
			Risk:      &risk,
		}
	}
	return CountryAssessment{
		ISOCode:   isoCode,
		RiskLevel: countryrisk.RiskLevelMedium,
		Note:      fmt.Sprintf("country %q not found in risk map", isoCode),
	}
}

// alert notifies downstream case management about non-clear outcomes.
// Publishing is best effort and never fails the verification.
func (o *Orchestrator) alert(ctx context.Context, result VerificationResult) {
	if result.Status == StatusClear {
		return
	}
	a := events.Alert{
		ID:           uuid.New(),
		EntityName:   result.Customer.Name,
		Country:      result.Customer.Country,
		Status:       string(result.Status),
		RiskScore:    result.RiskScore,
		MatchCount:   result.MatchCount(),
		Degraded:     result.Degraded,
		OccurredAt:   result.Timestamp,
		Verification: result.ID,
	}
	if err := o.publisher.Publish(ctx, a); err != nil {
		o.logger.Warnw("alert publish failed", "verification_id", result.ID, "error", err)
	}
}
