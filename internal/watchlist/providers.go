package watchlist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Provider endpoints. Every call is a read-only GET/POST returning JSON or
// SPARQL-JSON.
const (
	openSanctionsEndpoint = "https://api.opensanctions.org/search/default"
	ofacEndpoint          = "https://sanctionssearch.ofac.treas.gov/api/search"
	unEndpoint            = "https://scsanctions.un.org/api/consolidated"
	euEndpoint            = "https://webgate.ec.europa.eu/fsd/fsf/public/api/search"
	wikidataEndpoint      = "https://query.wikidata.org/sparql"
)

// httpTransport is the shared live-call shape: build a request, bound it,
// parse the payload into hits. Decode failures are malformed-source errors
// so the gateway falls back instead of guessing.
type httpTransport struct {
	source   Source
	client   *http.Client
	endpoint string
	build    func(ctx context.Context, endpoint string, q Query) (*http.Request, error)
	parse    func(body []byte) ([]Hit, error)
}

func (t *httpTransport) Endpoint() string { return t.endpoint }

func (t *httpTransport) Search(ctx context.Context, q Query) ([]Hit, error) {
	req, err := t.build(ctx, t.endpoint, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, t.source, err)
	}
	req.Header.Set("User-Agent", "amlguard/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, t.source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: unexpected status %d", ErrSourceUnavailable, t.source, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, t.source, err)
	}

	hits, err := t.parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceMalformed, t.source, err)
	}
	return hits, nil
}

func getJSON(ctx context.Context, endpoint string, values url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// NewOpenSanctionsTransport queries the OpenSanctions matching API
func NewOpenSanctionsTransport(client *http.Client) Transport {
	return &httpTransport{
		source:   SourceOpenSanctions,
		client:   client,
		endpoint: openSanctionsEndpoint,
		build: func(ctx context.Context, endpoint string, q Query) (*http.Request, error) {
			values := url.Values{"q": {q.Name}, "limit": {"10"}}
			if q.Country != "" {
				values.Set("countries", strings.ToLower(q.Country))
			}
			if q.Type == "legal" {
				values.Set("schema", "Organization")
			} else {
				values.Set("schema", "Person")
			}
			return getJSON(ctx, endpoint, values)
		},
		parse: parseOpenSanctions,
	}
}

func parseOpenSanctions(body []byte) ([]Hit, error) {
	var resp struct {
		Results []struct {
			Caption    string `json:"caption"`
			Datasets   []string `json:"datasets"`
			Properties struct {
				Name    []string `json:"name"`
				Alias   []string `json:"alias"`
				Country []string `json:"country"`
				Topics  []string `json:"topics"`
			} `json:"properties"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Results))
	for _, r := range resp.Results {
		name := r.Caption
		if name == "" && len(r.Properties.Name) > 0 {
			name = r.Properties.Name[0]
		}
		if name == "" {
			continue
		}
		country := ""
		if len(r.Properties.Country) > 0 {
			country = strings.ToUpper(r.Properties.Country[0])
		}
		hits = append(hits, Hit{
			Name:    name,
			Aliases: r.Properties.Alias,
			Country: country,
			Details: map[string]string{
				"datasets": strings.Join(r.Datasets, ","),
				"topics":   strings.Join(r.Properties.Topics, ","),
			},
		})
	}
	return hits, nil
}

// NewOFACTransport queries the OFAC sanctions search API
func NewOFACTransport(client *http.Client) Transport {
	return &httpTransport{
		source:   SourceOFAC,
		client:   client,
		endpoint: ofacEndpoint,
		build: func(ctx context.Context, endpoint string, q Query) (*http.Request, error) {
			values := url.Values{"name": {q.Name}, "maxResults": {"10"}}
			if q.Type != "" {
				values.Set("type", q.Type)
			}
			return getJSON(ctx, endpoint, values)
		},
		parse: parseOFAC,
	}
}

func parseOFAC(body []byte) ([]Hit, error) {
	var resp struct {
		Matches []struct {
			Name     string   `json:"name"`
			AltNames []string `json:"altNames"`
			Country  string   `json:"country"`
			Program  string   `json:"program"`
			SDNType  string   `json:"sdnType"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.Name == "" {
			continue
		}
		hits = append(hits, Hit{
			Name:    m.Name,
			Aliases: m.AltNames,
			Country: m.Country,
			Details: map[string]string{"program": m.Program, "sdn_type": m.SDNType},
		})
	}
	return hits, nil
}

// NewUNTransport queries the UN Security Council consolidated list API
func NewUNTransport(client *http.Client) Transport {
	return &httpTransport{
		source:   SourceUN,
		client:   client,
		endpoint: unEndpoint,
		build: func(ctx context.Context, endpoint string, q Query) (*http.Request, error) {
			return getJSON(ctx, endpoint, url.Values{"name": {q.Name}})
		},
		parse: parseUN,
	}
}

func parseUN(body []byte) ([]Hit, error) {
	var resp struct {
		Individuals []struct {
			Name        string   `json:"name"`
			Aliases     []string `json:"aliases"`
			Nationality string   `json:"nationality"`
			Committee   string   `json:"committee"`
		} `json:"individuals"`
		Entities []struct {
			Name      string   `json:"name"`
			Aliases   []string `json:"aliases"`
			Committee string   `json:"committee"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	var hits []Hit
	for _, i := range resp.Individuals {
		if i.Name == "" {
			continue
		}
		hits = append(hits, Hit{
			Name:    i.Name,
			Aliases: i.Aliases,
			Country: i.Nationality,
			Details: map[string]string{"committee": i.Committee, "entry_type": "individual"},
		})
	}
	for _, e := range resp.Entities {
		if e.Name == "" {
			continue
		}
		hits = append(hits, Hit{
			Name:    e.Name,
			Aliases: e.Aliases,
			Details: map[string]string{"committee": e.Committee, "entry_type": "entity"},
		})
	}
	return hits, nil
}

// NewEUTransport queries the EU financial sanctions database
func NewEUTransport(client *http.Client) Transport {
	return &httpTransport{
		source:   SourceEU,
		client:   client,
		endpoint: euEndpoint,
		build: func(ctx context.Context, endpoint string, q Query) (*http.Request, error) {
			return getJSON(ctx, endpoint, url.Values{"name": {q.Name}, "format": {"json"}})
		},
		parse: parseEU,
	}
}

func parseEU(body []byte) ([]Hit, error) {
	var resp struct {
		Records []struct {
			NameAlias []struct {
				WholeName string `json:"wholeName"`
			} `json:"nameAlias"`
			Citizenship []struct {
				CountryIso2Code string `json:"countryIso2Code"`
			} `json:"citizenship"`
			Regulation struct {
				Programme string `json:"programme"`
			} `json:"regulation"`
		} `json:"records"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Records))
	for _, r := range resp.Records {
		if len(r.NameAlias) == 0 || r.NameAlias[0].WholeName == "" {
			continue
		}
		aliases := make([]string, 0, len(r.NameAlias)-1)
		for _, a := range r.NameAlias[1:] {
			if a.WholeName != "" {
				aliases = append(aliases, a.WholeName)
			}
		}
		country := ""
		if len(r.Citizenship) > 0 {
			country = r.Citizenship[0].CountryIso2Code
		}
		hits = append(hits, Hit{
			Name:    r.NameAlias[0].WholeName,
			Aliases: aliases,
			Country: country,
			Details: map[string]string{"programme": r.Regulation.Programme},
		})
	}
	return hits, nil
}

// pepSPARQLQuery finds living or recent holders of political positions whose
// label approximates the queried name
const pepSPARQLQuery = `SELECT DISTINCT ?person ?personLabel ?positionLabel ?countryLabel WHERE {
  ?person wdt:P39 ?position .
  ?position wdt:P17 ?country .
  ?person rdfs:label ?personLabel .
  FILTER(CONTAINS(LCASE(?personLabel), LCASE(%q)))
  FILTER(LANG(?personLabel) = "en")
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en". }
} LIMIT 15`

// NewPEPTransport queries Wikidata's SPARQL endpoint for political
// position holders
func NewPEPTransport(client *http.Client) Transport {
	return &httpTransport{
		source:   SourcePEP,
		client:   client,
		endpoint: wikidataEndpoint,
		build: func(ctx context.Context, endpoint string, q Query) (*http.Request, error) {
			form := url.Values{
				"query":  {fmt.Sprintf(pepSPARQLQuery, q.Name)},
				"format": {"json"},
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
				strings.NewReader(form.Encode()))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("Accept", "application/sparql-results+json")
			return req, nil
		},
		parse: parseWikidataPEP,
	}
}

func parseWikidataPEP(body []byte) ([]Hit, error) {
	var resp struct {
		Results struct {
			Bindings []struct {
				PersonLabel   struct{ Value string } `json:"personLabel"`
				PositionLabel struct{ Value string } `json:"positionLabel"`
				CountryLabel  struct{ Value string } `json:"countryLabel"`
			} `json:"bindings"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Results.Bindings))
	for _, b := range resp.Results.Bindings {
		if b.PersonLabel.Value == "" {
			continue
		}
		hits = append(hits, Hit{
			Name: b.PersonLabel.Value,
			Details: map[string]string{
				"position": b.PositionLabel.Value,
				"country":  b.CountryLabel.Value,
			},
		})
	}
	return hits, nil
}

// NewDefaultGateways wires one cached gateway per supported source
func NewDefaultGateways(
	client *http.Client,
	cache *RequestCache,
	fallback *FallbackStore,
	logger *zap.SugaredLogger,
	cfg GatewayConfig,
) map[Source]*Gateway {
	transports := map[Source]Transport{
		SourcePEP:           NewPEPTransport(client),
		SourceOFAC:          NewOFACTransport(client),
		SourceUN:            NewUNTransport(client),
		SourceEU:            NewEUTransport(client),
		SourceOpenSanctions: NewOpenSanctionsTransport(client),
	}
	gateways := make(map[Source]*Gateway, len(transports))
	for source, transport := range transports {
		gateways[source] = NewGateway(source, transport, cache, fallback,
			logger.Named(strings.ToLower(string(source))), cfg)
	}
	return gateways
}
