package countryrisk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	baselSource       = "Basel AML Index"
	baselSnapshotFile = "basel_index.json"

	defaultBaselAPIURL   = "https://index.baselgovernance.org/api/v2/ranking"
	defaultBaselScrapeURL = "https://index.baselgovernance.org/ranking"
)

// BaselFetcher retrieves the Basel AML Index country scores
type BaselFetcher struct {
	client    *http.Client
	store     *SnapshotStore
	logger    *zap.SugaredLogger
	apiURL    string
	scrapeURL string
}

// NewBaselFetcher creates a Basel AML Index fetcher
func NewBaselFetcher(client *http.Client, store *SnapshotStore, logger *zap.SugaredLogger) *BaselFetcher {
	return &BaselFetcher{
		client:    client,
		store:     store,
		logger:    logger,
		apiURL:    defaultBaselAPIURL,
		scrapeURL: defaultBaselScrapeURL,
	}
}

// Name returns the dataset name
func (f *BaselFetcher) Name() string { return baselSource }

// Fetch retrieves Basel scores through the API → scrape → snapshot →
// synthetic chain. It never fails.
func (f *BaselFetcher) Fetch(ctx context.Context) Dataset[BaselRecord] {
	tiers := []tier[BaselRecord]{
		{name: "api", load: f.fetchAPI},
		{name: "scrape", load: f.fetchScrape},
		{name: "snapshot", load: f.loadSnapshot},
	}
	return fetchChain(ctx, f.logger, baselSource, baselSnapshotFile, f.store, tiers, syntheticBasel)
}

// baselAPIResponse mirrors the ranking endpoint payload
type baselAPIResponse struct {
	Data []struct {
		Country struct {
			Code string `json:"code"`
			Name string `json:"name"`
		} `json:"country"`
		Score float64 `json:"score"`
		Rank  int     `json:"rank"`
	} `json:"data"`
}

func (f *BaselFetcher) fetchAPI(ctx context.Context) ([]BaselRecord, error) {
	body, err := httpGet(ctx, f.client, f.apiURL)
	if err != nil {
		return nil, err
	}

	var resp baselAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: basel api: %v", ErrSourceMalformed, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: basel api returned empty ranking", ErrSourceMalformed)
	}

	records := make([]BaselRecord, 0, len(resp.Data))
	for _, row := range resp.Data {
		code := strings.ToUpper(strings.TrimSpace(row.Country.Code))
		if code == "" {
			continue
		}
		records = append(records, BaselRecord{
			ISOCode: code,
			Name:    row.Country.Name,
			Score:   row.Score,
			Rank:    row.Rank,
		})
	}
	return records, nil
}

// baselRowPattern matches ranking table rows of the public index page:
// rank, country name with its ISO code attribute, then the overall score.
var baselRowPattern = regexp.MustCompile(
	`(?s)<tr[^>]*data-iso="([A-Z]{2})"[^>]*>.*?<td[^>]*>(\d+)</td>.*?<td[^>]*class="country"[^>]*>([^<]+)</td>.*?<td[^>]*class="score"[^>]*>([\d.]+)</td>`)

func (f *BaselFetcher) fetchScrape(ctx context.Context) ([]BaselRecord, error) {
	body, err := httpGet(ctx, f.client, f.scrapeURL)
	if err != nil {
		return nil, err
	}

	rows := baselRowPattern.FindAllStringSubmatch(string(body), -1)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: basel ranking page had no parseable rows", ErrSourceMalformed)
	}

	records := make([]BaselRecord, 0, len(rows))
	for _, row := range rows {
		rank, err := strconv.Atoi(row[2])
		if err != nil {
			continue
		}
		score, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			continue
		}
		records = append(records, BaselRecord{
			ISOCode: row[1],
			Name:    strings.TrimSpace(row[3]),
			Score:   score,
			Rank:    rank,
		})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: basel ranking rows did not decode", ErrSourceMalformed)
	}
	return records, nil
}

func (f *BaselFetcher) loadSnapshot(ctx context.Context) ([]BaselRecord, error) {
	var records []BaselRecord
	if _, err := f.store.Load(baselSnapshotFile, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// syntheticBasel produces a neutral score for every known country so a total
// outage still yields a complete, clearly simulated dataset
func syntheticBasel() []BaselRecord {
	codes := make([]string, 0, len(isoCountries))
	for code := range isoCountries {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	records := make([]BaselRecord, 0, len(codes))
	for i, code := range codes {
		records = append(records, BaselRecord{
			ISOCode: code,
			Name:    isoCountries[code],
			Score:   5.0,
			Rank:    i + 1,
		})
	}
	return records
}
