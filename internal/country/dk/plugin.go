// Package dk implements the Danish plugin. Bankruptcy decrees come from the
// Statstidende gazette; cvrapi.dk fills in industry, size and address.
package dk

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/bankruptcy-monitor/internal/aggregate"
	"github.com/sells-group/bankruptcy-monitor/internal/country"
	"github.com/sells-group/bankruptcy-monitor/internal/fetcher"
)

const (
	defaultGazetteURL = "https://www.telestatstidende.dk/telestatstidende/do/teleSearch/skifteretten"
	defaultCVRBaseURL = "https://cvrapi.dk"
	defaultMaxPages   = 20
	listingTTL        = 10 * time.Minute
)

var amountFormat = country.AmountFormat{Currency: "DKK", Decimal: ',', Thousands: "."}

var regions = []string{
	"Koebenhavn", "Aarhus", "Odense", "Aalborg", "Frederiksberg", "Esbjerg",
	"Randers", "Kolding", "Horsens", "Vejle", "Roskilde", "Herning",
}

// Plugin is the Danish country plugin.
type Plugin struct {
	aggregate.Set

	fetcher    fetcher.Fetcher
	gazetteURL string
	cvrBaseURL string
	maxPages   int
	listings   *listingCache
}

// Option configures the plugin.
type Option func(*Plugin)

// WithGazetteURL overrides the Statstidende search endpoint.
func WithGazetteURL(u string) Option {
	return func(p *Plugin) { p.gazetteURL = u }
}

// WithCVRBaseURL overrides the cvrapi.dk origin.
func WithCVRBaseURL(u string) Option {
	return func(p *Plugin) { p.cvrBaseURL = strings.TrimRight(u, "/") }
}

// WithMaxPages caps gazette result pages per run.
func WithMaxPages(n int) Option {
	return func(p *Plugin) {
		if n > 0 {
			p.maxPages = n
		}
	}
}

// WithMergeOptions sets the aggregator options used by Scrape.
func WithMergeOptions(o aggregate.Options) Option {
	return func(p *Plugin) { p.Options = o }
}

// New creates the Danish plugin. The gazette source runs first so its
// values win; the CVR source only fills what the gazette left empty.
func New(f fetcher.Fetcher, opts ...Option) *Plugin {
	p := &Plugin{
		fetcher:    f,
		gazetteURL: defaultGazetteURL,
		cvrBaseURL: defaultCVRBaseURL,
		maxPages:   defaultMaxPages,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.listings = newListingCache(p.fetchGazette, listingTTL)
	p.Options.Country = p.Code()
	p.Sources = []country.Source{&gazetteSource{p: p}, &cvrSource{p: p}}
	return p
}

// Code implements country.Plugin.
func (p *Plugin) Code() string { return "dk" }

// Name implements country.Plugin.
func (p *Plugin) Name() string { return "Denmark" }

// Currency implements country.Plugin.
func (p *Plugin) Currency() string { return "DKK" }

// ClassificationTables implements country.Plugin. DB07 equals NACE Rev.2
// at the two-digit level.
func (p *Plugin) ClassificationTables() country.Tables { return country.DefaultTables() }

// DefaultRegions implements country.Plugin. These are the skifteret cities.
func (p *Plugin) DefaultRegions() []string { return append([]string(nil), regions...) }

// ParseFinancialValue parses "1.200 TDKK", "1.200,50 DKK" and plain amounts.
func (p *Plugin) ParseFinancialValue(raw string) (int64, bool) {
	return country.ParseAmount(raw, amountFormat)
}

// LookupTrusteeEmail always misses. The gazette names the kurator and the
// search fallback finds the address.
func (p *Plugin) LookupTrusteeEmail(context.Context, string, string) (string, error) {
	return "", nil
}

var _ country.Plugin = (*Plugin)(nil)
