// Package verification orchestrates full customer due diligence checks,
// combining watchlist screening with consolidated country risk.
package verification

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/complyon/amlguard/internal/countryrisk"
	"github.com/complyon/amlguard/internal/screening"
)

// ErrInvalidInput marks caller errors. Missing required entity fields are
// the only failure class raised synchronously: environmental faults degrade
// instead of aborting.
var ErrInvalidInput = errors.New("invalid verification input")

// EntityType distinguishes people from organizations on watchlist queries
type EntityType string

const (
	EntityTypeNaturalPerson EntityType = "natural_person"
	EntityTypeLegalEntity   EntityType = "legal_entity"
)

// Entity is the immutable input snapshot for one screened party
type Entity struct {
	Name      string     `json:"name" validate:"required,min=2"`
	Country   string     `json:"country" validate:"required,iso3166_1_alpha2"`
	Type      EntityType `json:"type" validate:"required,oneof=natural_person legal_entity"`
	Aliases   []string   `json:"aliases,omitempty" validate:"dive,min=2"`
	BirthDate string     `json:"birth_date,omitempty"`
}

var validate = validator.New()

// Validate checks the required fields and wraps failures as ErrInvalidInput
func (e Entity) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// queryType maps the API entity vocabulary onto the wording the watchlist
// providers expect
func (t EntityType) queryType() string {
	if t == EntityTypeLegalEntity {
		return "legal"
	}
	return "individual"
}

func (e Entity) subject() screening.Subject {
	return screening.Subject{
		Name:    e.Name,
		Country: e.Country,
		Type:    e.Type.queryType(),
		Aliases: e.Aliases,
	}
}

// Status is the outcome class of a verification or of one screened party
type Status string

const (
	StatusClear   Status = "clear"
	StatusReview  Status = "review"
	StatusMatched Status = "matched"
)

func (s Status) rank() int {
	switch s {
	case StatusMatched:
		return 2
	case StatusReview:
		return 1
	default:
		return 0
	}
}

// Max returns the more severe of two statuses
func (s Status) Max(other Status) Status {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// RelationCustomer tags the primary party; directors and UBOs are tagged
// positionally as director:i and ubo:i.
const RelationCustomer = "customer"

// PartyResult holds one party's own screening outcome. Party results stay
// separately addressable after the composite merge.
type PartyResult struct {
	Relation string            `json:"relation"`
	Entity   Entity            `json:"entity"`
	Matches  []screening.Match `json:"matches"`
	Status   Status            `json:"status"`
}

// CountryAssessment is the country risk attached to a verification. Note is
// set when the code was absent from the risk map and a cautious default
// applied.
type CountryAssessment struct {
	ISOCode   string                   `json:"iso_code"`
	RiskLevel countryrisk.RiskLevel    `json:"risk_level"`
	Risk      *countryrisk.CountryRisk `json:"risk,omitempty"`
	Note      string                   `json:"note,omitempty"`
}

// VerificationResult is the aggregate returned by Verify, by value
type VerificationResult struct {
	ID          uuid.UUID             `json:"id"`
	Customer    Entity                `json:"customer"`
	Status      Status                `json:"status"`
	RiskScore   float64               `json:"risk_score"`
	RiskLevel   countryrisk.RiskLevel `json:"risk_level"`
	CountryRisk CountryAssessment     `json:"country_risk"`
	Parties     []PartyResult         `json:"parties"`
	Degraded    bool                  `json:"degraded"`
	Timestamp   time.Time             `json:"timestamp"`
}

// PEPMatches returns every accepted PEP match across all parties
func (r VerificationResult) PEPMatches() []screening.Match {
	return r.filterMatches(false)
}

// SanctionsMatches returns every accepted sanctions match across all parties
func (r VerificationResult) SanctionsMatches() []screening.Match {
	return r.filterMatches(true)
}

func (r VerificationResult) filterMatches(sanctions bool) []screening.Match {
	var out []screening.Match
	for _, p := range r.Parties {
		for _, m := range p.Matches {
			if m.IsSanctions() == sanctions {
				out = append(out, m)
			}
		}
	}
	return out
}

// MatchCount returns the total number of accepted matches across parties
func (r VerificationResult) MatchCount() int {
	n := 0
	for _, p := range r.Parties {
		n += len(p.Matches)
	}
	return n
}
