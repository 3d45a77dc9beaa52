package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ScreeningsTotal counts watchlist lookups by source and outcome
// (live, cache, fallback, empty)
var ScreeningsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "amlguard_screenings_total",
		Help: "Total number of watchlist source lookups by outcome",
	},
	[]string{"source", "outcome"},
)

// SourceFallbacks counts degraded answers served instead of live data
var SourceFallbacks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "amlguard_source_fallbacks_total",
		Help: "Total number of lookups answered from a fallback tier",
	},
	[]string{"source"},
)

// VerificationLatency records latency distribution for full verifications
var VerificationLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "amlguard_verification_latency_seconds",
		Help:    "Latency in seconds to verify a customer with related parties",
		Buckets: prometheus.DefBuckets,
	},
)

// Request cache metrics
var (
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlguard_request_cache_hits_total",
			Help: "Number of external request cache hits within TTL",
		},
		[]string{"tier"},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amlguard_request_cache_misses_total",
			Help: "Number of external request cache misses or expiries",
		},
	)
)

// Risk map build metrics
var (
	RiskMapCountries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amlguard_riskmap_countries",
			Help: "Number of countries in the current consolidated risk map",
		},
	)

	RiskMapBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlguard_riskmap_builds_total",
			Help: "Number of risk map builds by validation status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(ScreeningsTotal, SourceFallbacks, VerificationLatency)
	prometheus.MustRegister(CacheHits, CacheMisses)
	prometheus.MustRegister(RiskMapCountries, RiskMapBuilds)
}
