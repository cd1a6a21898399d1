package se

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bankruptcy-monitor/internal/fetcher"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

func card(date, name, org, sni, trustee, firm string) string {
	return fmt.Sprintf(`
<div class="bankruptcy-card">
  <div class="bankruptcy-card__name"><a href="/company/1">%s</a></div>
  <div class="bankruptcy-card__org-number">%s</div>
  <div class="bankruptcy-card__dates"><span class="bankruptcy-card__value">%s</span></div>
  <div class="bankruptcy-card__detail"><span class="bankruptcy-card__value">Stockholm</span></div>
  <div class="bankruptcy-card__court"><span class="bankruptcy-card__value">Stockholms tingsrätt
      Mål K 1234-25</span></div>
  <div class="bankruptcy-card__sni-item">
    <span class="bankruptcy-card__sni-code">%s</span>
    <span class="bankruptcy-card__sni-name">Dataprogrammering</span>
  </div>
  <div class="bankruptcy-card__trustee-name">%s</div>
  <div class="bankruptcy-card__trustee-company">%s</div>
  <div class="bankruptcy-card__trustee-address">Box 123
    111 22 Stockholm</div>
  <div class="bankruptcy-card__financial-item">
    <span class="bankruptcy-card__financial-label">Number of employees</span>
    <span class="bankruptcy-card__financial-value">1,204</span>
  </div>
  <div class="bankruptcy-card__financial-item">
    <span class="bankruptcy-card__financial-label">Net sales</span>
    <span class="bankruptcy-card__financial-value">2,340 TSEK</span>
  </div>
  <div class="bankruptcy-card__financial-item">
    <span class="bankruptcy-card__financial-label">Total assets</span>
    <span class="bankruptcy-card__financial-value">N/A</span>
  </div>
</div>`, name, org, date, sni, trustee, firm)
}

func page(cards ...string) string {
	return "<html><body>" + strings.Join(cards, "\n") + "</body></html>"
}

func newTestPlugin(srv *httptest.Server, opts ...Option) *Plugin {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, BaseBackoff: time.Millisecond})
	base := []Option{WithTICBaseURL(srv.URL), WithSamfundetBaseURL(srv.URL), WithPageDelay(0)}
	return New(f, append(base, opts...)...)
}

func TestScrape_ParsesCardsAndStopsPastTarget(t *testing.T) {
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/en/oppna-data/konkurser", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "initiatedDate:desc", r.URL.Query().Get("sortBy"))
		switch r.URL.Query().Get("pageNumber") {
		case "1":
			pages.Add(1)
			fmt.Fprint(w, page(
				card("04/02/2025", "Future AB", "5560000001", "62010", "Berg, Anna", "Firma AB"),
				card("03/20/2025", "Pixel Studio AB", "556677-8899", "62010", "Berg, Anna", "c/o Advokatfirman Öst AB"),
				card("not a date", "Broken AB", "5560000002", "62010", "X", "Y"),
			))
		case "2":
			pages.Add(1)
			fmt.Fprint(w, page(
				card("03/01/2025", "Early March AB", "5560000003", "47110", "N/A", "N/A"),
				card("02/28/2025", "February AB", "5560000004", "62010", "X", "Y"),
			))
		default:
			t.Errorf("unexpected page %s", r.URL.Query().Get("pageNumber"))
		}
	}))
	defer srv.Close()

	p := newTestPlugin(srv)
	recs, err := p.Scrape(context.Background(), 2025, 3, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int32(2), pages.Load())

	r := recs[0]
	assert.Equal(t, "se", r.Country)
	assert.Equal(t, "Pixel Studio AB", r.CompanyName)
	assert.Equal(t, "556677-8899", r.OrgNumber)
	assert.Equal(t, model.Date(2025, 3, 20), r.FilingDate)
	assert.Equal(t, "Stockholms tingsrätt", r.Court)
	assert.Equal(t, "62010", r.IndustryCode)
	assert.Equal(t, "Dataprogrammering", r.IndustryName)
	assert.Equal(t, "Berg, Anna", r.TrusteeName)
	assert.Equal(t, "Advokatfirman Öst AB", r.TrusteeFirm)
	assert.Equal(t, "Box 123, 111 22 Stockholm", r.TrusteeAddress)
	assert.Equal(t, "Stockholm", r.Region)
	require.NotNil(t, r.Employees)
	assert.Equal(t, 1204, *r.Employees)
	require.NotNil(t, r.NetSales)
	assert.Equal(t, int64(2340000), *r.NetSales)
	assert.Nil(t, r.TotalAssets)
	assert.Equal(t, "tic", r.Source)

	assert.Equal(t, "Early March AB", recs[1].CompanyName)
	assert.Empty(t, recs[1].TrusteeName)
}

func TestScrape_StopsWhenPageFullyKnown(t *testing.T) {
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		fmt.Fprint(w, page(card("03/20/2025", "Known AB", "5566778899", "62010", "A, B", "C")))
	}))
	defer srv.Close()

	known := model.NewKeySet(model.FilingKey{Country: "se", OrgNumber: "556677-8899", FilingDate: "2025-03-20"})
	recs, err := newTestPlugin(srv).Scrape(context.Background(), 2025, 3, known)
	require.NoError(t, err)
	assert.Len(t, recs, 1, "known records are still returned; the store decides novelty")
	assert.Equal(t, int32(1), pages.Load())
}

func TestScrape_FirstPageFailureYieldsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	recs, err := newTestPlugin(srv).Scrape(context.Background(), 2025, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestScrape_MaxPages(t *testing.T) {
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := pages.Add(1)
		fmt.Fprint(w, page(card("03/20/2025", fmt.Sprintf("Co %d AB", n), fmt.Sprintf("55600000%02d", n), "62", "A, B", "C")))
	}))
	defer srv.Close()

	recs, err := newTestPlugin(srv, WithMaxPages(3)).Scrape(context.Background(), 2025, 3, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, int32(3), pages.Load())
}

func TestLookupTrusteeEmail(t *testing.T) {
	var directoryHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/Sok-advokat/Sokresultat/", func(w http.ResponseWriter, r *http.Request) {
		directoryHits.Add(1)
		fmt.Fprint(w, `<html><body>
			<a href="/Sok-advokat/Kontorsdetaljer/?id=1">Annan Byrå AB</a>
			<a href="/Sok-advokat/Kontorsdetaljer/?id=2">Advokatfirman Ost Aktiebolag</a>
		</body></html>`)
	})
	mux.HandleFunc("/Sok-advokat/Kontorsdetaljer/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("id"))
		fmt.Fprint(w, `<html><body>
			<a href="/Sok-advokat/Persondetaljer/?id=10">Lind, Erik</a>
			<a href="/Sok-advokat/Persondetaljer/?id=11">Berg, Anna</a>
		</body></html>`)
	})
	mux.HandleFunc("/Sok-advokat/Persondetaljer/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "11", r.URL.Query().Get("id"))
		fmt.Fprint(w, `<html><body><a href="mailto:anna.berg@ostadvokat.se?subject=x">E-post</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestPlugin(srv)
	email, err := p.LookupTrusteeEmail(context.Background(), "Berg, Anna", "c/o Advokatfirman Öst AB")
	require.NoError(t, err)
	assert.Equal(t, "anna.berg@ostadvokat.se", email)

	email, err = p.LookupTrusteeEmail(context.Background(), "Nobody, Here", "Okänd Firma AB")
	require.NoError(t, err)
	assert.Empty(t, email)

	email, err = p.LookupTrusteeEmail(context.Background(), "Mononym", "Advokatfirman Öst AB")
	require.NoError(t, err)
	assert.Empty(t, email)

	assert.Equal(t, int32(1), directoryHits.Load(), "directory is cached")
}

func TestNormalizeFirm(t *testing.T) {
	assert.Equal(t, "advokatfirman ost aktiebolag", normalizeFirm("Advokatfirman Öst AB"))
	assert.Equal(t, "lindahl kommanditbolag", normalizeFirm("Lindahl KB"))
	assert.Equal(t, "abc handelsbolag", normalizeFirm("ABC HB"))
	assert.Equal(t, "abbe advokater", normalizeFirm("Abbe Advokater"))
}

func TestParseFinancialValue(t *testing.T) {
	p := New(nil)
	tests := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{"134 TSEK", 134000, true},
		{"2,340 TSEK", 2340000, true},
		{"52000", 52000, true},
		{"N/A", 0, false},
		{"garbage", 0, false},
	}
	for _, tt := range tests {
		got, ok := p.ParseFinancialValue(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestPluginMetadata(t *testing.T) {
	p := New(nil)
	assert.Equal(t, "se", p.Code())
	assert.Equal(t, "Sweden", p.Name())
	assert.Equal(t, "SEK", p.Currency())
	assert.Contains(t, p.DefaultRegions(), "Goteborg")
	assert.Equal(t, 10, p.ClassificationTables().High["62"])
}
