package no

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bankruptcy-monitor/internal/fetcher"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

const entityPixel = `{
  "organisasjonsnummer": "912345678",
  "navn": "PIXEL STUDIO AS",
  "konkurs": true,
  "konkursdato": "2025-03-12",
  "registreringsdatoEnhetsregisteret": "2019-05-02",
  "naeringskode1": {"kode": "62.010", "beskrivelse": "Programmeringstjenester"},
  "forretningsadresse": {"adresse": ["Storgata 1", ""], "postnummer": "0155", "poststed": "OSLO", "kommune": "OSLO"},
  "antallAnsatte": 7
}`

const entityHealthy = `{"organisasjonsnummer": "923456789", "navn": "FRISK AS", "konkurs": false}`

func newTestPlugin(srv *httptest.Server) *Plugin {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, BaseBackoff: time.Millisecond})
	return New(f, WithBrregBaseURL(srv.URL), WithTilsynetBaseURL(srv.URL))
}

func TestScrape_MergesUpdatesAndSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oppdateringer/enheter", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2025-03-01T00:00:00.000Z", r.URL.Query().Get("dato"))
		fmt.Fprint(w, `{"_embedded":{"oppdateringer":[
			{"dato":"2025-03-12T08:00:00.000Z","organisasjonsnummer":"912345678"},
			{"dato":"2025-03-13T08:00:00.000Z","organisasjonsnummer":"923456789"},
			{"dato":"2025-03-14T08:00:00.000Z","organisasjonsnummer":"912345678"},
			{"dato":"2025-04-01T00:00:01.000Z","organisasjonsnummer":"934567890"}
		]},"page":{"totalPages":1,"number":0}}`)
	})
	mux.HandleFunc("/enheter/912345678", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, entityPixel)
	})
	mux.HandleFunc("/enheter/923456789", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, entityHealthy)
	})
	mux.HandleFunc("/enheter/934567890", func(w http.ResponseWriter, r *http.Request) {
		t.Error("updates past the target month must not be fetched")
	})
	mux.HandleFunc("/enheter", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("konkurs"))
		assert.Equal(t, "2025-03-01", q.Get("fraRegistreringsdatoEnhetsregisteret"))
		assert.Equal(t, "2025-04-01", q.Get("tilRegistreringsdatoEnhetsregisteret"))
		fmt.Fprint(w, `{"_embedded":{"enheter":[
			{"organisasjonsnummer":"912345678","navn":"PIXEL STUDIO AS","konkurs":true,"konkursdato":"2025-03-12",
			 "postadresse":{"kommune":"BÆRUM"}},
			{"organisasjonsnummer":"945678901","navn":"NY DATA AS","konkurs":true,
			 "registreringsdatoEnhetsregisteret":"2025-03-20","postadresse":{"kommune":"BERGEN","postnummer":"5003","poststed":"BERGEN"}}
		]},"page":{"totalPages":1,"number":0}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	recs, err := newTestPlugin(srv).Scrape(context.Background(), 2025, 3, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	pixel := recs[0]
	assert.Equal(t, "no", pixel.Country)
	assert.Equal(t, "912345678", pixel.OrgNumber)
	assert.Equal(t, model.Date(2025, 3, 12), pixel.FilingDate)
	assert.Equal(t, "62.010", pixel.IndustryCode)
	assert.Equal(t, "OSLO", pixel.Region, "first source wins")
	assert.Equal(t, "Storgata 1, 0155 OSLO", pixel.TrusteeAddress)
	require.NotNil(t, pixel.Employees)
	assert.Equal(t, 7, *pixel.Employees)
	assert.Empty(t, pixel.TrusteeName)
	assert.Equal(t, "brreg-updates", pixel.Source)

	assert.Equal(t, "NY DATA AS", recs[1].CompanyName)
	assert.Equal(t, model.Date(2025, 3, 20), recs[1].FilingDate)
	assert.Equal(t, "5003 BERGEN", recs[1].TrusteeAddress)
	assert.Equal(t, "brreg-search", recs[1].Source)
}

func TestScrape_UpdatesFailureFallsBackToSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oppdateringer/enheter", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	mux.HandleFunc("/enheter", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"_embedded":{"enheter":[`+entityPixel+`]},"page":{"totalPages":1}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	recs, err := newTestPlugin(srv).Scrape(context.Background(), 2025, 3, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "brreg-search", recs[0].Source)
}

func TestSearchSource_Paginates(t *testing.T) {
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		n := pages.Add(1)
		fmt.Fprintf(w, `{"_embedded":{"enheter":[{"organisasjonsnummer":"90000000%s","navn":"CO %s AS","konkursdato":"2025-03-0%d"}]},
			"page":{"totalPages":3}}`, page, page, n)
	}))
	defer srv.Close()

	p := newTestPlugin(srv)
	var got []model.FilingRecord
	for rec, err := range (&searchSource{p: p}).Fetch(context.Background(), 2025, 3, nil) {
		require.NoError(t, err)
		got = append(got, rec)
	}
	assert.Len(t, got, 3)
	assert.Equal(t, int32(3), pages.Load())
}

func TestToRecord_MissingOrgNumber(t *testing.T) {
	p := New(nil)
	rec, err := p.toRecord(entity{Navn: "UTEN NUMMER AS"}, time.Time{})
	require.Error(t, err)
	assert.Equal(t, "UTEN NUMMER AS", rec.CompanyName)
}

func TestLookupTrusteeEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/register", r.URL.Path)
		switch r.URL.Query().Get("q") {
		case "Kari Nordmann":
			fmt.Fprint(w, `<html><a href="mailto:kari@advokatfirma.no">Send e-post</a></html>`)
		case "Ola Hansen":
			fmt.Fprint(w, `<html><p>Kontakt: ola.hansen@hansen-advokat.no</p></html>`)
		default:
			fmt.Fprint(w, `<html><p>Ingen treff</p></html>`)
		}
	}))
	defer srv.Close()

	p := newTestPlugin(srv)
	email, err := p.LookupTrusteeEmail(context.Background(), "Kari Nordmann", "")
	require.NoError(t, err)
	assert.Equal(t, "kari@advokatfirma.no", email)

	email, err = p.LookupTrusteeEmail(context.Background(), "Ola Hansen", "")
	require.NoError(t, err)
	assert.Equal(t, "ola.hansen@hansen-advokat.no", email)

	email, err = p.LookupTrusteeEmail(context.Background(), "Ukjent", "")
	require.NoError(t, err)
	assert.Empty(t, email)

	email, err = p.LookupTrusteeEmail(context.Background(), " ", "")
	require.NoError(t, err)
	assert.Empty(t, email)
}

func TestParseFinancialValue(t *testing.T) {
	p := New(nil)
	for raw, want := range map[string]int64{"1 200 TNOK": 1200000, "500 TNOK": 500000, "1200000": 1200000, "1,200": 1200} {
		got, ok := p.ParseFinancialValue(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := p.ParseFinancialValue("-")
	assert.False(t, ok)
}
