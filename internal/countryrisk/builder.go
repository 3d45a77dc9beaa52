package countryrisk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/complyon/amlguard/pkg/metrics"
)

const riskMapSnapshotFile = "risk_map.json"

// ErrIntegrityFailure reports an incomplete consolidated map. It is absorbed
// by the degraded-serving policy and only logged, never returned to readers.
var ErrIntegrityFailure = errors.New("risk map failed integrity validation")

// BuilderConfig controls build cadence and validation
type BuilderConfig struct {
	MinCountries    int
	MaxSnapshotAge  time.Duration
	RebuildInterval time.Duration
}

// DefaultBuilderConfig returns the standard weekly build policy
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		MinCountries:    190,
		MaxSnapshotAge:  7 * 24 * time.Hour,
		RebuildInterval: 7 * 24 * time.Hour,
	}
}

// Builder consolidates the three country datasets into one read-only risk
// map snapshot. Readers are served the previous snapshot while a rebuild
// runs; only a cold start blocks on a build.
type Builder struct {
	mu      sync.RWMutex
	current *RiskMap

	buildMu sync.Mutex

	basel  Fetcher[BaselRecord]
	fatf   Fetcher[FATFRecord]
	eu     Fetcher[EURecord]
	store  *SnapshotStore
	logger *zap.SugaredLogger
	config BuilderConfig
}

// NewBuilder creates a risk map builder over the three dataset fetchers
func NewBuilder(
	basel Fetcher[BaselRecord],
	fatf Fetcher[FATFRecord],
	eu Fetcher[EURecord],
	store *SnapshotStore,
	logger *zap.SugaredLogger,
	config BuilderConfig,
) *Builder {
	if config.MinCountries == 0 {
		config = DefaultBuilderConfig()
	}
	return &Builder{
		basel:  basel,
		fatf:   fatf,
		eu:     eu,
		store:  store,
		logger: logger,
		config: config,
	}
}

// Update fetches the three datasets in parallel, merges them and swaps in
// the new snapshot. An integrity failure triggers exactly one rebuild
// attempt before the map is served anyway with a degraded status.
func (b *Builder) Update(ctx context.Context) *RiskMap {
	b.buildMu.Lock()
	defer b.buildMu.Unlock()

	m := b.buildOnce(ctx)
	if err := ValidateIntegrity(m, b.config.MinCountries); err != nil {
		b.logger.Warnw("risk map integrity check failed, retrying build", "error", err)
		m = b.buildOnce(ctx)
		if err := ValidateIntegrity(m, b.config.MinCountries); err != nil {
			b.logger.Errorw("risk map degraded after rebuild", "error", err)
			m.Metadata.ValidationStatus = ValidationStatusDegraded
		}
	}

	metrics.RiskMapCountries.Set(float64(m.Metadata.CountryCount))
	metrics.RiskMapBuilds.WithLabelValues(string(m.Metadata.ValidationStatus)).Inc()

	if err := b.store.Save(riskMapSnapshotFile, m); err != nil {
		b.logger.Warnw("failed to persist risk map snapshot", "error", err)
	}

	b.mu.Lock()
	b.current = m
	b.mu.Unlock()

	b.logger.Infow("risk map updated",
		"countries", m.Metadata.CountryCount,
		"simulated", m.Metadata.IsSimulated,
		"status", m.Metadata.ValidationStatus,
	)
	return m
}

// buildOnce runs one fetch-and-merge pass
func (b *Builder) buildOnce(ctx context.Context) *RiskMap {
	var (
		baselDS Dataset[BaselRecord]
		fatfDS  Dataset[FATFRecord]
		euDS    Dataset[EURecord]
	)

	// Fetchers absorb their own failures, so the group never errors; the
	// errgroup is used for its joint-wait semantics.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { baselDS = b.basel.Fetch(gctx); return nil })
	g.Go(func() error { fatfDS = b.fatf.Fetch(gctx); return nil })
	g.Go(func() error { euDS = b.eu.Fetch(gctx); return nil })
	_ = g.Wait()

	return Merge(baselDS, fatfDS, euDS)
}

// Merge consolidates the three datasets. The reduction is order-independent:
// each country's level is derived from its complete signal set, and source
// tags are sorted before the record is sealed.
func Merge(baselDS Dataset[BaselRecord], fatfDS Dataset[FATFRecord], euDS Dataset[EURecord]) *RiskMap {
	now := time.Now().UTC()

	type signals struct {
		name       string
		baselScore *float64
		baselRank  *int
		fatfStatus FATFStatus
		euHighRisk bool
		sources    map[string]bool
	}

	byCode := make(map[string]*signals)
	get := func(code, name string) *signals {
		s, ok := byCode[code]
		if !ok {
			s = &signals{fatfStatus: FATFStatusNone, sources: make(map[string]bool)}
			byCode[code] = s
		}
		if s.name == "" {
			if name == "" {
				name = CountryName(code)
			}
			s.name = name
		}
		return s
	}

	for _, r := range baselDS.Records {
		s := get(r.ISOCode, r.Name)
		score, rank := r.Score, r.Rank
		s.baselScore = &score
		s.baselRank = &rank
		s.sources[baselDS.Source] = true
	}
	for _, r := range fatfDS.Records {
		s := get(r.ISOCode, r.Name)
		s.fatfStatus = s.fatfStatus.maxStatus(r.Status)
		s.sources[fatfDS.Source] = true
	}
	for _, r := range euDS.Records {
		s := get(r.ISOCode, r.Name)
		s.euHighRisk = true
		s.sources[euDS.Source] = true
	}

	countries := make(map[string]CountryRisk, len(byCode))
	for code, s := range byCode {
		sources := make([]string, 0, len(s.sources))
		for src := range s.sources {
			sources = append(sources, src)
		}
		sort.Strings(sources)

		countries[code] = CountryRisk{
			ISOCode:     code,
			Name:        s.name,
			BaselScore:  s.baselScore,
			BaselRank:   s.baselRank,
			FATFStatus:  s.fatfStatus,
			EUHighRisk:  s.euHighRisk,
			RiskLevel:   DeriveRiskLevel(s.baselScore, s.fatfStatus, s.euHighRisk),
			Sources:     sources,
			LastUpdated: now,
		}
	}

	return &RiskMap{
		Countries: countries,
		Metadata: BuildMetadata{
			IsSimulated:      baselDS.IsSimulated || fatfDS.IsSimulated || euDS.IsSimulated,
			CountryCount:     len(countries),
			ValidationStatus: ValidationStatusOK,
			LastUpdated:      now,
		},
	}
}

// maxStatus keeps the more severe of two FATF listings
func (s FATFStatus) maxStatus(other FATFStatus) FATFStatus {
	if s == FATFStatusBlacklist || other == FATFStatusBlacklist {
		return FATFStatusBlacklist
	}
	if s == FATFStatusGreylist || other == FATFStatusGreylist {
		return FATFStatusGreylist
	}
	return FATFStatusNone
}

// ValidateIntegrity checks the completeness invariants of a consolidated map
func ValidateIntegrity(m *RiskMap, minCountries int) error {
	if m == nil {
		return fmt.Errorf("%w: map is nil", ErrIntegrityFailure)
	}
	if m.Metadata.CountryCount < minCountries {
		return fmt.Errorf("%w: %d countries, need at least %d",
			ErrIntegrityFailure, m.Metadata.CountryCount, minCountries)
	}
	for code, cr := range m.Countries {
		if err := cr.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrIntegrityFailure, code, err)
		}
	}
	return nil
}

// Current returns the active snapshot, which may be nil before first use
func (b *Builder) Current() *RiskMap {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Ensure returns a usable snapshot, lazily rebuilding when none exists or
// the persisted one is older than the configured maximum age.
func (b *Builder) Ensure(ctx context.Context) *RiskMap {
	if m := b.Current(); m != nil && time.Since(m.Metadata.LastUpdated) <= b.config.MaxSnapshotAge {
		return m
	}

	// A persisted snapshot younger than the cutoff avoids a cold rebuild.
	if b.Current() == nil {
		if age, err := b.store.Age(riskMapSnapshotFile); err == nil && age <= b.config.MaxSnapshotAge {
			var m RiskMap
			if _, err := b.store.Load(riskMapSnapshotFile, &m); err == nil && len(m.Countries) > 0 {
				b.mu.Lock()
				b.current = &m
				b.mu.Unlock()
				b.logger.Infow("risk map restored from snapshot",
					"countries", m.Metadata.CountryCount,
					"built_at", m.Metadata.LastUpdated,
				)
				return &m
			}
		}
	}

	return b.Update(ctx)
}

// GetCountryRisk returns the consolidated record for one ISO code
func (b *Builder) GetCountryRisk(ctx context.Context, isoCode string) (CountryRisk, bool) {
	return b.Ensure(ctx).Lookup(isoCode)
}

// GetAllCountriesRisk returns the full snapshot for dashboard consumers
func (b *Builder) GetAllCountriesRisk(ctx context.Context) *RiskMap {
	return b.Ensure(ctx)
}

// Run rebuilds the map on the configured interval until ctx is cancelled
func (b *Builder) Run(ctx context.Context) {
	ticker := time.NewTicker(b.config.RebuildInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Update(ctx)
		}
	}
}
