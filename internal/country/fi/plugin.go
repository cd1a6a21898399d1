// Package fi implements the Finnish plugin backed by the PRH YTJ open data
// API. PRH publishes no trustee data; contacts come from web search.
package fi

import (
	"context"
	"strings"

	"github.com/sells-group/bankruptcy-monitor/internal/aggregate"
	"github.com/sells-group/bankruptcy-monitor/internal/country"
	"github.com/sells-group/bankruptcy-monitor/internal/fetcher"
)

const (
	defaultPRHBaseURL = "https://avoindata.prh.fi/opendata-ytj-api/v3"
	maxPages          = 50
)

var amountFormat = country.AmountFormat{Currency: "EUR", Decimal: ',', Thousands: "."}

var regions = []string{
	"Helsinki", "Espoo", "Tampere", "Vantaa", "Oulu",
	"Turku", "Jyväskylä", "Kuopio", "Lahti", "Rovaniemi",
}

// Plugin is the Finnish country plugin.
type Plugin struct {
	aggregate.Set

	fetcher fetcher.Fetcher
	baseURL string
}

// Option configures the plugin.
type Option func(*Plugin)

// WithBaseURL overrides the PRH API root.
func WithBaseURL(u string) Option {
	return func(p *Plugin) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithMergeOptions sets the aggregator options used by Scrape.
func WithMergeOptions(o aggregate.Options) Option {
	return func(p *Plugin) { p.Options = o }
}

// New creates the Finnish plugin.
func New(f fetcher.Fetcher, opts ...Option) *Plugin {
	p := &Plugin{fetcher: f, baseURL: defaultPRHBaseURL}
	for _, opt := range opts {
		opt(p)
	}
	p.Options.Country = p.Code()
	p.Sources = []country.Source{&prhSource{p: p}}
	return p
}

// Code implements country.Plugin.
func (p *Plugin) Code() string { return "fi" }

// Name implements country.Plugin.
func (p *Plugin) Name() string { return "Finland" }

// Currency implements country.Plugin.
func (p *Plugin) Currency() string { return "EUR" }

// ClassificationTables implements country.Plugin. TOL 2008 equals NACE
// Rev.2 at the levels the tables use.
func (p *Plugin) ClassificationTables() country.Tables { return country.DefaultTables() }

// DefaultRegions implements country.Plugin.
func (p *Plugin) DefaultRegions() []string { return append([]string(nil), regions...) }

// ParseFinancialValue parses "1 200 TEUR", "1 200,50 EUR" and plain amounts.
func (p *Plugin) ParseFinancialValue(raw string) (int64, bool) {
	return country.ParseAmount(raw, amountFormat)
}

// LookupTrusteeEmail always misses; the search fallback handles Finland.
func (p *Plugin) LookupTrusteeEmail(context.Context, string, string) (string, error) {
	return "", nil
}

var _ country.Plugin = (*Plugin)(nil)
