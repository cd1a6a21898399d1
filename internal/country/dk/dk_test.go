package dk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bankruptcy-monitor/internal/fetcher"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

const gazettePage = `<html><body>
<div class="search-result">
  <h3>Nordlys Media ApS (CVR: 12345678)</h3>
  <p>Skifteretten i Aarhus</p>
  <p>Kurator: Anna Jensen, Advokatfirma Nord</p>
  <p>Dato: 14-02-2025</p>
</div>
<div class="search-result">
  <h3>Bager Hansen I/S</h3>
  <p>Skifteretten i Odense</p>
</div>
<div class="search-result">
  <h3>Data Fabrik A/S</h3>
  <p>CVR-nr. 87654321</p>
  <p>Skifteretten i Koebenhavn</p>
  <p>Kurator: Peter Holm</p>
  <p>20.02.2025</p>
</div>
</body></html>`

type dkServer struct {
	gazetteHits atomic.Int32
	cvrHits     atomic.Int32
	gazetteFail bool
}

func (d *dkServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/gazette":
		d.gazetteHits.Add(1)
		if d.gazetteFail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		q := r.URL.Query()
		if q.Get("teleKategori") != "konkurs" || q.Get("teleFromDate") != "2025-02-01" || q.Get("teleToDate") != "2025-02-28" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, gazettePage)
	case "/api":
		d.cvrHits.Add(1)
		switch r.URL.Query().Get("vat") {
		case "12345678":
			fmt.Fprint(w, `{"vat":12345678,"name":"NORDLYS MEDIA APS","address":"Vestergade 1",
				"zipcode":"8000","city":"Aarhus C","industrycode":591100,
				"industrydesc":"Produktion af film","employees":"10-19"}`)
		default:
			fmt.Fprint(w, `{"error":"NOT_FOUND"}`)
		}
	default:
		http.NotFound(w, r)
	}
}

func newTestPlugin(srv *httptest.Server) *Plugin {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, BaseBackoff: time.Millisecond})
	return New(f, WithGazetteURL(srv.URL+"/gazette"), WithCVRBaseURL(srv.URL), WithMaxPages(3))
}

func byName(recs []model.FilingRecord) map[string]model.FilingRecord {
	out := make(map[string]model.FilingRecord, len(recs))
	for _, r := range recs {
		out[r.CompanyName] = r
	}
	return out
}

func TestScrape_GazetteEnrichedByCVR(t *testing.T) {
	h := &dkServer{}
	srv := httptest.NewServer(h)
	defer srv.Close()

	recs, err := newTestPlugin(srv).Scrape(context.Background(), 2025, 2, nil)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	got := byName(recs)

	nordlys := got["Nordlys Media ApS"]
	assert.Equal(t, "dk", nordlys.Country)
	assert.Equal(t, "12345678", nordlys.OrgNumber)
	assert.Equal(t, model.Date(2025, 2, 14), nordlys.FilingDate)
	assert.Equal(t, "Aarhus", nordlys.Court)
	assert.Equal(t, "Aarhus", nordlys.Region, "gazette value wins over CVR city")
	assert.Equal(t, "Anna Jensen", nordlys.TrusteeName)
	assert.Equal(t, "Advokatfirma Nord", nordlys.TrusteeFirm)
	assert.Equal(t, "591100", nordlys.IndustryCode)
	assert.Equal(t, "Produktion af film", nordlys.IndustryName)
	require.NotNil(t, nordlys.Employees)
	assert.Equal(t, 14, *nordlys.Employees)
	assert.Equal(t, "Vestergade 1, 8000, Aarhus C", nordlys.TrusteeAddress)
	assert.Equal(t, "statstidende", nordlys.Source)

	bager := got["Bager Hansen I/S"]
	assert.Empty(t, bager.OrgNumber)
	assert.True(t, bager.FallbackKey)
	assert.Equal(t, model.Date(2025, 2, 1), bager.FilingDate)

	data := got["Data Fabrik A/S"]
	assert.Equal(t, "87654321", data.OrgNumber)
	assert.Equal(t, model.Date(2025, 2, 20), data.FilingDate)
	assert.Equal(t, "Peter Holm", data.TrusteeName)
	assert.Empty(t, data.TrusteeFirm)
	assert.Empty(t, data.IndustryCode)
	assert.Nil(t, data.Employees)

	// Page 2 repeats page 1 and ends the listing; both sources share it.
	assert.Equal(t, int32(2), h.gazetteHits.Load())
	assert.Equal(t, int32(2), h.cvrHits.Load())
}

func TestScrape_KnownFilingsSkipCVRLookup(t *testing.T) {
	h := &dkServer{}
	srv := httptest.NewServer(h)
	defer srv.Close()

	known := model.NewKeySet(
		model.FilingKey{Country: "dk", OrgNumber: "12345678", FilingDate: "2025-02-14"},
		model.FilingKey{Country: "dk", OrgNumber: "87654321", FilingDate: "2025-02-20"},
	)
	recs, err := newTestPlugin(srv).Scrape(context.Background(), 2025, 2, known)
	require.NoError(t, err)
	assert.Len(t, recs, 3, "known keys are a hint; the gazette still yields them")
	assert.Zero(t, h.cvrHits.Load())
}

func TestScrape_GazetteFailureFailsBothSources(t *testing.T) {
	h := &dkServer{gazetteFail: true}
	srv := httptest.NewServer(h)
	defer srv.Close()

	recs, err := newTestPlugin(srv).Scrape(context.Background(), 2025, 2, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, h.cvrHits.Load())
}

func TestParseEntry(t *testing.T) {
	p := New(nil)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<div class="entry">
		<h4>Tømrer Nielsen ApS</h4>
		<p>Skifteret: Herning</p>
		<p>Kurator: Mette Lund, Lund &amp; Co Advokater</p>
		<p>Dekret afsagt 31.02.2025</p>
	</div>`))
	require.NoError(t, err)

	rec, ok := p.parseEntry(doc.Find(".entry"), 2025, 2)
	require.True(t, ok)
	assert.Equal(t, "Tømrer Nielsen ApS", rec.CompanyName)
	assert.Equal(t, "Herning", rec.Court)
	assert.Equal(t, "Mette Lund", rec.TrusteeName)
	assert.Equal(t, "Lund & Co Advokater", rec.TrusteeFirm)
	assert.Equal(t, model.Date(2025, 2, 1), rec.FilingDate, "impossible dates fall back to the month start")

	empty, err := goquery.NewDocumentFromReader(strings.NewReader(`<div class="entry">  </div>`))
	require.NoError(t, err)
	_, ok = p.parseEntry(empty.Find(".entry"), 2025, 2)
	assert.False(t, ok)
}

func TestParseEmployeeRange(t *testing.T) {
	tests := []struct {
		raw  string
		want int
		ok   bool
	}{
		{"10-19", 14, true},
		{"1 - 4", 2, true},
		{"1000+", 1000, true},
		{"7", 7, true},
		{"1.200", 1200, true},
		{"N/A", 0, false},
		{"", 0, false},
		{"many", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseEmployeeRange(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRawString(t *testing.T) {
	assert.Equal(t, "591100", rawString([]byte(`591100`)))
	assert.Equal(t, "8000", rawString([]byte(`"8000"`)))
	assert.Empty(t, rawString([]byte(`null`)))
	assert.Empty(t, rawString(nil))
}

func TestListingCache(t *testing.T) {
	var calls atomic.Int32
	fail := true
	c := newListingCache(func(context.Context, int, int) ([]model.FilingRecord, error) {
		calls.Add(1)
		if fail {
			return nil, errors.New("boom")
		}
		return []model.FilingRecord{{CompanyName: "A"}}, nil
	}, time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.get(context.Background(), 2025, 2)
	require.Error(t, err)

	fail = false
	recs, err := c.get(context.Background(), 2025, 2)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	recs[0].CompanyName = "mutated"

	again, err := c.get(context.Background(), 2025, 2)
	require.NoError(t, err)
	assert.Equal(t, "A", again[0].CompanyName)
	assert.Equal(t, int32(2), calls.Load(), "errors are not cached; successes are")

	now = now.Add(2 * time.Minute)
	_, err = c.get(context.Background(), 2025, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPluginMetadata(t *testing.T) {
	p := New(nil)
	assert.Equal(t, "dk", p.Code())
	assert.Equal(t, "Denmark", p.Name())
	assert.Equal(t, "DKK", p.Currency())
	assert.Contains(t, p.DefaultRegions(), "Koebenhavn")
	assert.Equal(t, 10, p.ClassificationTables().High["62"])

	v, ok := p.ParseFinancialValue("1.200 TDKK")
	assert.True(t, ok)
	assert.Equal(t, int64(1200000), v)

	email, err := p.LookupTrusteeEmail(context.Background(), "Anna Jensen", "Nord")
	require.NoError(t, err)
	assert.Empty(t, email)
}
