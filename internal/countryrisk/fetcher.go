package countryrisk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Taxonomy errors for the fallback chain. Both are absorbed inside the
// fetchers; callers of Fetch never see them.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceMalformed   = errors.New("source returned malformed payload")
)

// Fetcher retrieves one normalized dataset, exhausting its fallback chain
// before answering. Fetch never fails; the worst case is a synthetic
// default flagged simulated.
type Fetcher[T any] interface {
	Fetch(ctx context.Context) Dataset[T]
	Name() string
}

// SnapshotStore persists last-known-good datasets as JSON files carrying a
// last_updated header plus the payload array.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore creates a snapshot store rooted at dir
func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir}
}

type snapshotEnvelope struct {
	LastUpdated time.Time       `json:"last_updated"`
	Payload     json.RawMessage `json:"payload"`
}

// Save writes a dataset snapshot, replacing any previous one
func (s *SnapshotStore) Save(name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %s: %w", name, err)
	}
	env := snapshotEnvelope{LastUpdated: time.Now().UTC(), Payload: raw}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot envelope %s: %w", name, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

// Load reads a snapshot payload into out and returns its write time
func (s *SnapshotStore) Load(name string, out any) (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode snapshot %s: %w", name, err)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode snapshot payload %s: %w", name, err)
	}
	return env.LastUpdated, nil
}

// Age returns how old the named snapshot is
func (s *SnapshotStore) Age(name string) (time.Duration, error) {
	info, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil {
		return 0, err
	}
	return time.Since(info.ModTime()), nil
}

// httpGet performs a bounded GET and returns the body, mapping transport and
// status failures to ErrSourceUnavailable
func httpGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json, text/html")
	req.Header.Set("User-Agent", "amlguard/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d from %s", ErrSourceUnavailable, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return body, nil
}

// tier is one step of the API → scrape → snapshot chain
type tier[T any] struct {
	name string
	load func(ctx context.Context) ([]T, error)
}

// fetchChain runs the tiers in order, persisting the first success as the
// new last-known-good snapshot, and falls back to the synthetic default when
// every tier fails.
func fetchChain[T any](
	ctx context.Context,
	logger *zap.SugaredLogger,
	source string,
	snapshotName string,
	store *SnapshotStore,
	tiers []tier[T],
	synthetic func() []T,
) Dataset[T] {
	for _, t := range tiers {
		records, err := t.load(ctx)
		if err != nil {
			logger.Warnw("dataset tier failed",
				"source", source,
				"tier", t.name,
				"error", err,
			)
			continue
		}
		if len(records) == 0 {
			logger.Warnw("dataset tier returned no records",
				"source", source,
				"tier", t.name,
			)
			continue
		}

		// Snapshot only live tiers; re-saving a snapshot read from disk
		// would refresh its age without new upstream truth.
		if t.name != "snapshot" && store != nil {
			if err := store.Save(snapshotName, records); err != nil {
				logger.Warnw("failed to persist dataset snapshot",
					"source", source,
					"error", err,
				)
			}
		}

		logger.Infow("dataset fetched",
			"source", source,
			"tier", t.name,
			"records", len(records),
		)
		return Dataset[T]{
			Source:    source,
			Records:   records,
			FetchedAt: time.Now().UTC(),
		}
	}

	logger.Warnw("all dataset tiers failed, using synthetic default", "source", source)
	return Dataset[T]{
		Source:      source + " (Fallback Data)",
		Records:     synthetic(),
		IsSimulated: true,
		FetchedAt:   time.Now().UTC(),
	}
}
