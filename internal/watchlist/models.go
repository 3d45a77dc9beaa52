package watchlist

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

// Source identifies one external watchlist provider
type Source string

const (
	SourcePEP           Source = "PEP"
	SourceOFAC          Source = "OFAC"
	SourceUN            Source = "UN"
	SourceEU            Source = "EU"
	SourceOpenSanctions Source = "OPENSANCTIONS"
)

// AllSources lists every supported provider in a stable order
func AllSources() []Source {
	return []Source{SourcePEP, SourceOFAC, SourceUN, SourceEU, SourceOpenSanctions}
}

// IsSanctions reports whether hits from this source represent sanctions
// evidence rather than PEP status
func (s Source) IsSanctions() bool {
	return s != SourcePEP
}

// Taxonomy errors. Both are absorbed inside the gateway chain; Search never
// surfaces them.
var (
	ErrSourceUnavailable = errors.New("watchlist source unavailable")
	ErrSourceMalformed   = errors.New("watchlist source returned malformed payload")
)

// Query describes one screening lookup against a source
type Query struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"` // "individual" or "legal"
	Country string            `json:"country"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// params flattens the query into the sorted key/value list used for cache
// key derivation
func (q Query) params() []string {
	kv := []string{
		"country=" + q.Country,
		"name=" + q.Name,
		"type=" + q.Type,
	}
	for k, v := range q.Extra {
		kv = append(kv, k+"="+v)
	}
	sort.Strings(kv)
	return kv
}

// Hit is one raw candidate record returned by a provider, before any
// similarity scoring
type Hit struct {
	Name    string            `json:"name"`
	Aliases []string          `json:"aliases,omitempty"`
	Country string            `json:"country,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// SearchResult carries the hits plus the provenance of the answer. Degraded
// answers always carry a "(Cached)" or fallback tag so downstream consumers
// can distinguish live from fallback evidence.
type SearchResult struct {
	Hits       []Hit  `json:"hits"`
	Provenance string `json:"provenance"`
	Degraded   bool   `json:"degraded"`
}

// CacheEntry is one persisted external response. Failures are cached as an
// explicit variant, never as a success-shaped payload.
type CacheEntry struct {
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Failure  bool            `json:"failure"`
	Error    string          `json:"error,omitempty"`
	CachedAt time.Time       `json:"cached_at"`
	TTL      time.Duration   `json:"ttl"`
}

// Expired reports whether the entry is past its TTL. Expired entries are
// ignored on read and overwritten on the next successful fetch.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.After(e.CachedAt.Add(e.TTL))
}

// CacheKey derives the cache file/redis key for a source request
func CacheKey(source Source, endpoint string, q Query) string {
	h := md5.New()
	h.Write([]byte(string(source)))
	h.Write([]byte{0})
	h.Write([]byte(endpoint))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(q.params(), "&")))
	return hex.EncodeToString(h.Sum(nil))
}
