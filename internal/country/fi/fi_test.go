package fi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bankruptcy-monitor/internal/fetcher"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

func newTestPlugin(srv *httptest.Server) *Plugin {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, BaseBackoff: time.Millisecond})
	return New(f, WithBaseURL(srv.URL))
}

func TestScrape(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/companies", r.URL.Path)
		assert.Equal(t, "2025-02-01", r.URL.Query().Get("registrationDateStart"))
		assert.Equal(t, "2025-02-28", r.URL.Query().Get("registrationDateEnd"))
		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprintf(w, `{"companies":[
				{"businessId":"12345678","name":"Koodi Oy","registrationDate":"2025-02-03",
				 "mainBusinessLine":{"code":"62010","name":"Ohjelmistojen suunnittelu"},
				 "streetAddress":{"street":"Mannerheimintie 1","postCode":"00100","city":"HELSINKI"},
				 "companySituations":[{"type":"Konkurssi","registrationDate":"2025-02-14"}]},
				{"businessId":"2345678-9","name":"Terve Oy","registrationDate":"2025-02-04","companySituations":[]}
			],"nextPage":"%s/companies?registrationDateStart=2025-02-01&registrationDateEnd=2025-02-28&page=1"}`, srvURL)
		case "1":
			fmt.Fprint(w, `{"results":[
				{"businessId":"3456789-0","name":"Kuva Ab","registrationDate":"2025-02-20",
				 "mainBusinessLine":"74201 Valokuvaamot",
				 "addresses":[{"street":"Aurakatu 2","postalCode":"20100","postOffice":"TURKU"}],
				 "companySituations":[{"name":"Bankruptcy"}]}
			]}`)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	recs, err := newTestPlugin(srv).Scrape(context.Background(), 2025, 2, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	k := recs[0]
	assert.Equal(t, "fi", k.Country)
	assert.Equal(t, "1234567-8", k.OrgNumber)
	assert.Equal(t, model.Date(2025, 2, 14), k.FilingDate)
	assert.Equal(t, "62010", k.IndustryCode)
	assert.Equal(t, "Ohjelmistojen suunnittelu", k.IndustryName)
	assert.Equal(t, "Mannerheimintie 1, 00100, HELSINKI", k.TrusteeAddress)
	assert.Equal(t, "HELSINKI", k.Region)

	kuva := recs[1]
	assert.Equal(t, model.Date(2025, 2, 20), kuva.FilingDate, "falls back to the registration date")
	assert.Equal(t, "74201", kuva.IndustryCode)
	assert.Equal(t, "Valokuvaamot", kuva.IndustryName)
	assert.Equal(t, "TURKU", kuva.Region)
}

func TestScrape_APIErrorIsSourceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	recs, err := newTestPlugin(srv).Scrape(context.Background(), 2025, 2, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestNextURL(t *testing.T) {
	s := &prhSource{p: New(nil, WithBaseURL("https://prh.test/v3"))}
	q := url.Values{"registrationDateStart": {"2025-02-01"}}

	assert.Empty(t, s.nextURL(nil, q, 0))
	assert.Empty(t, s.nextURL(json.RawMessage(`null`), q, 0))
	assert.Equal(t, "https://prh.test/v3/companies?page=2&registrationDateStart=2025-02-01",
		s.nextURL(json.RawMessage(`2`), q, 1))
	assert.Equal(t, "https://prh.test/v3/companies?page=3&registrationDateStart=2025-02-01",
		s.nextURL(json.RawMessage(`"3"`), q, 1))
	assert.Empty(t, s.nextURL(json.RawMessage(`1`), q, 1), "never loops back")
	assert.Equal(t, "https://elsewhere/x", s.nextURL(json.RawMessage(`"https://elsewhere/x"`), q, 0))
}

func TestBusinessLineUnmarshal(t *testing.T) {
	var b businessLine
	require.NoError(t, json.Unmarshal([]byte(`{"code":62010,"description":"Programming"}`), &b))
	assert.Equal(t, "62010", b.Code)
	assert.Equal(t, "Programming", b.Name)

	require.NoError(t, json.Unmarshal([]byte(`"Tuntematon"`), &b))
	assert.Equal(t, "", b.Code)
	assert.Equal(t, "Tuntematon", b.Name)
}

func TestParseFinancialValue(t *testing.T) {
	p := New(nil)
	for raw, want := range map[string]int64{"1 200 TEUR": 1200000, "500 TEUR": 500000, "52000": 52000, "1 200,50": 1200} {
		got, ok := p.ParseFinancialValue(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := p.ParseFinancialValue("N/A")
	assert.False(t, ok)

	email, err := p.LookupTrusteeEmail(context.Background(), "Matti Meikäläinen", "Asianajotoimisto Oy")
	require.NoError(t, err)
	assert.Empty(t, email)
}
