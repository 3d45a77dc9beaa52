package watchlist

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/complyon/amlguard/pkg/metrics"
)

// Transport performs the live call for one source
type Transport interface {
	Search(ctx context.Context, q Query) ([]Hit, error)
	Endpoint() string
}

// Gateway wraps one watchlist source with TTL caching and the four-step
// fallback chain. Search never fails: the worst case is an empty result
// set, which is absence of evidence rather than an error.
type Gateway struct {
	source    Source
	transport Transport
	cache     *RequestCache
	fallback  *FallbackStore
	logger    *zap.SugaredLogger
	ttl       time.Duration
	timeout   time.Duration
}

// GatewayConfig bounds gateway behavior
type GatewayConfig struct {
	CacheTTL       time.Duration
	RequestTimeout time.Duration
}

// DefaultGatewayConfig returns the standard 24h TTL / 30s timeout policy
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		CacheTTL:       24 * time.Hour,
		RequestTimeout: 30 * time.Second,
	}
}

// NewGateway creates a cached gateway over one source transport
func NewGateway(
	source Source,
	transport Transport,
	cache *RequestCache,
	fallback *FallbackStore,
	logger *zap.SugaredLogger,
	cfg GatewayConfig,
) *Gateway {
	if cfg.CacheTTL <= 0 {
		cfg = DefaultGatewayConfig()
	}
	return &Gateway{
		source:    source,
		transport: transport,
		cache:     cache,
		fallback:  fallback,
		logger:    logger,
		ttl:       cfg.CacheTTL,
		timeout:   cfg.RequestTimeout,
	}
}

// Source returns the provider this gateway screens against
func (g *Gateway) Source() Source { return g.source }

// Search runs the chain: cache → live → last-known-good dataset → empty.
// A cached failure short-circuits the live call so a failing upstream is
// not hammered inside the TTL window.
func (g *Gateway) Search(ctx context.Context, q Query) SearchResult {
	key := CacheKey(g.source, g.transport.Endpoint(), q)

	if entry, ok := g.cache.Get(ctx, key); ok {
		if entry.Failure {
			g.logger.Debugw("negative cache hit, skipping live call",
				"source", g.source,
				"name", q.Name,
			)
			metrics.ScreeningsTotal.WithLabelValues(string(g.source), "cache_failure").Inc()
			return g.degraded(q)
		}

		var hits []Hit
		if err := json.Unmarshal(entry.Payload, &hits); err == nil {
			metrics.ScreeningsTotal.WithLabelValues(string(g.source), "cache").Inc()
			return SearchResult{Hits: hits, Provenance: string(g.source)}
		}
		g.logger.Warnw("discarding undecodable cache payload", "source", g.source, "key", key)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	hits, err := g.transport.Search(callCtx, q)
	if err == nil {
		if entry, encErr := NewSuccessEntry(key, hits, g.ttl); encErr == nil {
			g.cache.Set(ctx, entry)
		}
		metrics.ScreeningsTotal.WithLabelValues(string(g.source), "live").Inc()
		return SearchResult{Hits: hits, Provenance: string(g.source)}
	}

	g.logger.Warnw("live watchlist call failed, serving fallback",
		"source", g.source,
		"name", q.Name,
		"error", err,
	)
	// Negative-cache only upstream failures. The parent context being done
	// means the caller aborted, not the source; poisoning the key for the
	// whole TTL would suppress live calls for every later verification of
	// the same entity.
	if ctx.Err() == nil {
		g.cache.Set(ctx, NewFailureEntry(key, err, g.ttl))
	}
	return g.degraded(q)
}

// degraded serves the last-known-good tier. The provenance tag always marks
// the answer as cached evidence.
func (g *Gateway) degraded(q Query) SearchResult {
	metrics.SourceFallbacks.WithLabelValues(string(g.source)).Inc()

	hits, ok := g.fallback.Search(g.source, q)
	if !ok {
		metrics.ScreeningsTotal.WithLabelValues(string(g.source), "empty").Inc()
		return SearchResult{
			Provenance: string(g.source) + " (Cached)",
			Degraded:   true,
		}
	}

	metrics.ScreeningsTotal.WithLabelValues(string(g.source), "fallback").Inc()
	return SearchResult{
		Hits:       hits,
		Provenance: string(g.source) + " (Cached)",
		Degraded:   true,
	}
}
