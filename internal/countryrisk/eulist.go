package countryrisk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const (
	euSource       = "EU High-Risk List"
	euSnapshotFile = "eu_high_risk.json"

	defaultEUAPIURL    = "https://ec.europa.eu/finance/api/aml/high-risk-third-countries"
	defaultEUScrapeURL = "https://finance.ec.europa.eu/financial-crime/anti-money-laundering-and-countering-financing-terrorism/high-risk-third-countries_en"
)

// EUListFetcher retrieves the EU high-risk third-country list
type EUListFetcher struct {
	client    *http.Client
	store     *SnapshotStore
	logger    *zap.SugaredLogger
	apiURL    string
	scrapeURL string
}

// NewEUListFetcher creates an EU high-risk list fetcher
func NewEUListFetcher(client *http.Client, store *SnapshotStore, logger *zap.SugaredLogger) *EUListFetcher {
	return &EUListFetcher{
		client:    client,
		store:     store,
		logger:    logger,
		apiURL:    defaultEUAPIURL,
		scrapeURL: defaultEUScrapeURL,
	}
}

// Name returns the dataset name
func (f *EUListFetcher) Name() string { return euSource }

// Fetch retrieves the EU list through the fallback chain. It never fails.
func (f *EUListFetcher) Fetch(ctx context.Context) Dataset[EURecord] {
	tiers := []tier[EURecord]{
		{name: "api", load: f.fetchAPI},
		{name: "scrape", load: f.fetchScrape},
		{name: "snapshot", load: f.loadSnapshot},
	}
	return fetchChain(ctx, f.logger, euSource, euSnapshotFile, f.store, tiers, syntheticEU)
}

type euAPIResponse struct {
	Countries []struct {
		Code string `json:"code"`
		Name string `json:"name"`
	} `json:"countries"`
}

func (f *EUListFetcher) fetchAPI(ctx context.Context) ([]EURecord, error) {
	body, err := httpGet(ctx, f.client, f.apiURL)
	if err != nil {
		return nil, err
	}

	var resp euAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: eu api: %v", ErrSourceMalformed, err)
	}
	if len(resp.Countries) == 0 {
		return nil, fmt.Errorf("%w: eu api returned no countries", ErrSourceMalformed)
	}

	records := make([]EURecord, 0, len(resp.Countries))
	for _, c := range resp.Countries {
		code := strings.ToUpper(strings.TrimSpace(c.Code))
		if code == "" {
			continue
		}
		records = append(records, EURecord{ISOCode: code, Name: c.Name})
	}
	return records, nil
}

var euCountryPattern = regexp.MustCompile(`<li[^>]*data-country-code="([A-Z]{2})"[^>]*>([^<]+)</li>`)

func (f *EUListFetcher) fetchScrape(ctx context.Context) ([]EURecord, error) {
	body, err := httpGet(ctx, f.client, f.scrapeURL)
	if err != nil {
		return nil, err
	}

	rows := euCountryPattern.FindAllStringSubmatch(string(body), -1)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: eu page had no parseable countries", ErrSourceMalformed)
	}

	records := make([]EURecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, EURecord{ISOCode: row[1], Name: strings.TrimSpace(row[2])})
	}
	return records, nil
}

func (f *EUListFetcher) loadSnapshot(ctx context.Context) ([]EURecord, error) {
	var records []EURecord
	if _, err := f.store.Load(euSnapshotFile, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// euDefaultList is a conservative static copy of the Commission delegated
// regulation annex, used only when every tier fails
var euDefaultList = []string{
	"AF", "BB", "BF", "CM", "CD", "GI", "HT", "JM", "ML", "MM",
	"MZ", "NG", "PA", "PH", "SN", "SS", "SY", "TZ", "TT", "UG",
	"AE", "VU", "VE", "YE", "KP", "IR",
}

func syntheticEU() []EURecord {
	records := make([]EURecord, 0, len(euDefaultList))
	for _, code := range euDefaultList {
		records = append(records, EURecord{ISOCode: code, Name: CountryName(code)})
	}
	return records
}
