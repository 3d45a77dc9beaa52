package countryrisk

import (
	"fmt"
	"time"
)

// RiskLevel represents the consolidated risk level of a jurisdiction
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "LOW"
	RiskLevelMedium RiskLevel = "MEDIUM"
	RiskLevelHigh   RiskLevel = "HIGH"
)

// rank orders risk levels so escalation can take a monotonic maximum
func (r RiskLevel) rank() int {
	switch r {
	case RiskLevelMedium:
		return 1
	case RiskLevelHigh:
		return 2
	default:
		return 0
	}
}

// Max returns the more severe of two risk levels
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.rank() > r.rank() {
		return other
	}
	return r
}

// FATFStatus represents a jurisdiction's FATF listing status
type FATFStatus string

const (
	FATFStatusNone      FATFStatus = "none"
	FATFStatusGreylist  FATFStatus = "greylist"
	FATFStatusBlacklist FATFStatus = "blacklist"
)

// CountryRisk is the consolidated per-country record produced by the builder
type CountryRisk struct {
	ISOCode     string     `json:"iso_code"`
	Name        string     `json:"name"`
	BaselScore  *float64   `json:"basel_score,omitempty"`
	BaselRank   *int       `json:"basel_rank,omitempty"`
	FATFStatus  FATFStatus `json:"fatf_status"`
	EUHighRisk  bool       `json:"eu_high_risk"`
	RiskLevel   RiskLevel  `json:"risk_level"`
	Sources     []string   `json:"sources"`
	LastUpdated time.Time  `json:"last_updated"`
}

// ValidationStatus reports the outcome of a risk map integrity check
type ValidationStatus string

const (
	ValidationStatusOK       ValidationStatus = "ok"
	ValidationStatusDegraded ValidationStatus = "degraded"
)

// BuildMetadata describes how the current risk map snapshot was produced
type BuildMetadata struct {
	IsSimulated      bool             `json:"is_simulated"`
	CountryCount     int              `json:"country_count"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	LastUpdated      time.Time        `json:"last_updated"`
}

// RiskMap is an immutable consolidated snapshot served to readers
type RiskMap struct {
	Countries map[string]CountryRisk `json:"countries"`
	Metadata  BuildMetadata          `json:"metadata"`
}

// Lookup returns the risk record for an ISO code, reporting whether it exists
func (m *RiskMap) Lookup(isoCode string) (CountryRisk, bool) {
	if m == nil {
		return CountryRisk{}, false
	}
	cr, ok := m.Countries[isoCode]
	return cr, ok
}

// BaselRecord is one row of the normalized Basel AML Index dataset
type BaselRecord struct {
	ISOCode string  `json:"iso_code"`
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// FATFRecord is one row of the normalized FATF dataset
type FATFRecord struct {
	ISOCode string     `json:"iso_code"`
	Name    string     `json:"name"`
	Status  FATFStatus `json:"status"`
}

// EURecord is one row of the normalized EU high-risk third-country dataset
type EURecord struct {
	ISOCode string `json:"iso_code"`
	Name    string `json:"name"`
}

// Dataset wraps one normalized source dataset with its provenance
type Dataset[T any] struct {
	Source      string    `json:"source"`
	Records     []T       `json:"records"`
	IsSimulated bool      `json:"is_simulated"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Basel score thresholds driving escalation; a score above High forces a
// HIGH rating regardless of other signals
const (
	baselMediumThreshold = 6.5
	baselHighThreshold   = 8.0
)

// DeriveRiskLevel computes the consolidated level from the complete signal
// set for one country. The reduction depends only on the signals, never on
// the order the datasets were fetched in.
func DeriveRiskLevel(baselScore *float64, fatf FATFStatus, euHighRisk bool) RiskLevel {
	level := RiskLevelLow

	if baselScore != nil {
		switch {
		case *baselScore > baselHighThreshold:
			level = level.Max(RiskLevelHigh)
		case *baselScore > baselMediumThreshold:
			level = level.Max(RiskLevelMedium)
		}
	}

	switch fatf {
	case FATFStatusGreylist:
		level = level.Max(RiskLevelMedium)
	case FATFStatusBlacklist:
		level = level.Max(RiskLevelHigh)
	}

	if euHighRisk {
		level = level.Max(RiskLevelHigh)
	}

	return level
}

// Validate reports whether the record satisfies the map invariants
func (c CountryRisk) Validate() error {
	if c.ISOCode == "" {
		return fmt.Errorf("country record missing iso_code")
	}
	if c.RiskLevel == "" {
		return fmt.Errorf("country %s missing risk_level", c.ISOCode)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("country %s missing sources", c.ISOCode)
	}
	return nil
}
