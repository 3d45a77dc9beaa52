package watchlist

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// cannedClient captures the outgoing request and answers with a fixed body
func cannedClient(captured **http.Request, status int, body string) *http.Client {
	return &http.Client{
		Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			*captured = r
			return &http.Response{
				StatusCode: status,
				Body:       io.NopCloser(strings.NewReader(body)),
				Header:     http.Header{"Content-Type": []string{"application/json"}},
			}, nil
		}),
	}
}

func TestOpenSanctionsTransport_RequestShape(t *testing.T) {
	var captured *http.Request
	transport := NewOpenSanctionsTransport(cannedClient(&captured, http.StatusOK, `{"results":[]}`))

	_, err := transport.Search(context.Background(), Query{
		Name:    "Acme Holdings Ltd",
		Type:    "legal",
		Country: "VG",
	})
	require.NoError(t, err)
	require.NotNil(t, captured)

	params := captured.URL.Query()
	assert.Equal(t, "Acme Holdings Ltd", params.Get("q"))
	assert.Equal(t, "Organization", params.Get("schema"))
	assert.Equal(t, "vg", params.Get("countries"))
	assert.Equal(t, "amlguard/1.0", captured.Header.Get("User-Agent"))
}

func TestOpenSanctionsTransport_IndividualSchema(t *testing.T) {
	var captured *http.Request
	transport := NewOpenSanctionsTransport(cannedClient(&captured, http.StatusOK, `{"results":[]}`))

	_, err := transport.Search(context.Background(), Query{Name: "Ivan Petrov", Type: "individual"})
	require.NoError(t, err)
	assert.Equal(t, "Person", captured.URL.Query().Get("schema"))
}

func TestOFACTransport_RequestShape(t *testing.T) {
	var captured *http.Request
	transport := NewOFACTransport(cannedClient(&captured, http.StatusOK, `{"matches":[]}`))

	_, err := transport.Search(context.Background(), Query{Name: "Ivan Petrov", Type: "individual"})
	require.NoError(t, err)

	params := captured.URL.Query()
	assert.Equal(t, "Ivan Petrov", params.Get("name"))
	assert.Equal(t, "individual", params.Get("type"))
	assert.Equal(t, http.MethodGet, captured.Method)
}

func TestPEPTransport_SPARQLRequest(t *testing.T) {
	var captured *http.Request
	transport := NewPEPTransport(cannedClient(&captured, http.StatusOK, `{"results":{"bindings":[]}}`))

	_, err := transport.Search(context.Background(), Query{Name: "Nicolas Maduro", Type: "individual"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, captured.Method)
	assert.Equal(t, "application/x-www-form-urlencoded", captured.Header.Get("Content-Type"))
	assert.Equal(t, "application/sparql-results+json", captured.Header.Get("Accept"))

	body, err := io.ReadAll(captured.Body)
	require.NoError(t, err)
	form, err := url.ParseQuery(string(body))
	require.NoError(t, err)
	assert.Contains(t, form.Get("query"), `"Nicolas Maduro"`)
	assert.Equal(t, "json", form.Get("format"))
}

func TestTransport_UpstreamStatusIsUnavailable(t *testing.T) {
	var captured *http.Request
	transport := NewUNTransport(cannedClient(&captured, http.StatusBadGateway, ""))

	_, err := transport.Search(context.Background(), Query{Name: "Anyone", Type: "individual"})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestTransport_UndecodableBodyIsMalformed(t *testing.T) {
	var captured *http.Request
	transport := NewEUTransport(cannedClient(&captured, http.StatusOK, `<html>maintenance</html>`))

	_, err := transport.Search(context.Background(), Query{Name: "Anyone", Type: "individual"})
	assert.ErrorIs(t, err, ErrSourceMalformed)
}

func TestParseOpenSanctions(t *testing.T) {
	body := `{"results":[
		{"caption":"Nicolas Maduro Moros","datasets":["us_ofac_sdn","eu_fsf"],
		 "properties":{"name":["Nicolas Maduro Moros"],"alias":["Nicolas Maduro"],
		               "country":["ve"],"topics":["sanction","role.pep"]}},
		{"caption":"","properties":{"name":["Fallback Name"]}},
		{"caption":""}
	]}`

	hits, err := parseOpenSanctions([]byte(body))
	require.NoError(t, err)
	require.Len(t, hits, 2, "nameless results are dropped")

	assert.Equal(t, "Nicolas Maduro Moros", hits[0].Name)
	assert.Equal(t, []string{"Nicolas Maduro"}, hits[0].Aliases)
	assert.Equal(t, "VE", hits[0].Country)
	assert.Equal(t, "us_ofac_sdn,eu_fsf", hits[0].Details["datasets"])
	assert.Equal(t, "sanction,role.pep", hits[0].Details["topics"])

	assert.Equal(t, "Fallback Name", hits[1].Name, "caption falls back to the first name property")
}

func TestParseOFAC(t *testing.T) {
	body := `{"matches":[
		{"name":"MADURO MOROS, Nicolas","altNames":["Nicolas Maduro"],
		 "country":"Venezuela","program":"VENEZUELA","sdnType":"Individual"},
		{"name":""}
	]}`

	hits, err := parseOFAC([]byte(body))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "MADURO MOROS, Nicolas", hits[0].Name)
	assert.Equal(t, []string{"Nicolas Maduro"}, hits[0].Aliases)
	assert.Equal(t, "VENEZUELA", hits[0].Details["program"])
	assert.Equal(t, "Individual", hits[0].Details["sdn_type"])
}

func TestParseUN(t *testing.T) {
	body := `{
		"individuals":[{"name":"Kim Jong-un","aliases":["Kim Jung Un"],
		                "nationality":"KP","committee":"1718"}],
		"entities":[{"name":"Korea Mining Development Trading Corporation",
		             "aliases":["KOMID"],"committee":"1718"}]
	}`

	hits, err := parseUN([]byte(body))
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "Kim Jong-un", hits[0].Name)
	assert.Equal(t, "KP", hits[0].Country)
	assert.Equal(t, "individual", hits[0].Details["entry_type"])

	assert.Equal(t, "Korea Mining Development Trading Corporation", hits[1].Name)
	assert.Equal(t, []string{"KOMID"}, hits[1].Aliases)
	assert.Equal(t, "entity", hits[1].Details["entry_type"])
}

func TestParseEU(t *testing.T) {
	body := `{"records":[
		{"nameAlias":[{"wholeName":"Nicolas MADURO MOROS"},{"wholeName":"Nicolas Maduro"},{"wholeName":""}],
		 "citizenship":[{"countryIso2Code":"VE"}],
		 "regulation":{"programme":"VEN"}},
		{"nameAlias":[{"wholeName":""}]}
	]}`

	hits, err := parseEU([]byte(body))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Nicolas MADURO MOROS", hits[0].Name)
	assert.Equal(t, []string{"Nicolas Maduro"}, hits[0].Aliases, "empty alias rows are dropped")
	assert.Equal(t, "VE", hits[0].Country)
	assert.Equal(t, "VEN", hits[0].Details["programme"])
}

func TestParseWikidataPEP(t *testing.T) {
	body := `{"results":{"bindings":[
		{"personLabel":{"value":"Nicolás Maduro"},
		 "positionLabel":{"value":"President of Venezuela"},
		 "countryLabel":{"value":"Venezuela"}},
		{"personLabel":{"value":""}}
	]}}`

	hits, err := parseWikidataPEP([]byte(body))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Nicolás Maduro", hits[0].Name)
	assert.Equal(t, "President of Venezuela", hits[0].Details["position"])
	assert.Equal(t, "Venezuela", hits[0].Details["country"])
}

func TestParse_MalformedPayloads(t *testing.T) {
	parsers := map[string]func([]byte) ([]Hit, error){
		"opensanctions": parseOpenSanctions,
		"ofac":          parseOFAC,
		"un":            parseUN,
		"eu":            parseEU,
		"pep":           parseWikidataPEP,
	}
	for name, parse := range parsers {
		_, err := parse([]byte(`not json at all`))
		assert.Error(t, err, "parser %s must reject junk", name)
	}
}

func TestNewDefaultGateways_CoversAllSources(t *testing.T) {
	var captured *http.Request
	client := cannedClient(&captured, http.StatusOK, `{}`)
	log := zap.NewNop().Sugar()

	gateways := NewDefaultGateways(client, NewRequestCache(nil, t.TempDir(), log),
		NewFallbackStore(t.TempDir(), log), log, DefaultGatewayConfig())

	require.Len(t, gateways, len(AllSources()))
	for _, source := range AllSources() {
		require.Contains(t, gateways, source)
		assert.Equal(t, source, gateways[source].Source())
	}
}
