// Package no implements the Norwegian plugin backed by the Brønnøysund
// Register Centre (brreg.no) entity register. The register carries no
// trustee data, so contacts come from the lawyer register or web search.
package no

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bankruptcy-monitor/internal/aggregate"
	"github.com/sells-group/bankruptcy-monitor/internal/country"
	"github.com/sells-group/bankruptcy-monitor/internal/fetcher"
)

const (
	defaultBrregBaseURL    = "https://data.brreg.no/enhetsregisteret/api"
	defaultTilsynetBaseURL = "https://tilsynet.no"
	pageSize               = 100
	maxPages               = 50
)

var amountFormat = country.AmountFormat{Currency: "NOK", Decimal: '.', Thousands: ","}

var regions = []string{
	"Oslo", "Bergen", "Trondheim", "Stavanger", "Tromsø",
	"Kristiansand", "Drammen", "Fredrikstad", "Bodø", "Ålesund",
}

// Plugin is the Norwegian country plugin.
type Plugin struct {
	aggregate.Set

	fetcher         fetcher.Fetcher
	brregBaseURL    string
	tilsynetBaseURL string
}

// Option configures the plugin.
type Option func(*Plugin)

// WithBrregBaseURL overrides the entity register API root.
func WithBrregBaseURL(u string) Option {
	return func(p *Plugin) { p.brregBaseURL = strings.TrimRight(u, "/") }
}

// WithTilsynetBaseURL overrides the lawyer register origin.
func WithTilsynetBaseURL(u string) Option {
	return func(p *Plugin) { p.tilsynetBaseURL = strings.TrimRight(u, "/") }
}

// WithMergeOptions sets the aggregator options used by Scrape.
func WithMergeOptions(o aggregate.Options) Option {
	return func(p *Plugin) { p.Options = o }
}

// New creates the Norwegian plugin. The updates feed runs first; the
// bankruptcy search fills in entities the feed missed.
func New(f fetcher.Fetcher, opts ...Option) *Plugin {
	p := &Plugin{
		fetcher:         f,
		brregBaseURL:    defaultBrregBaseURL,
		tilsynetBaseURL: defaultTilsynetBaseURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.Options.Country = p.Code()
	p.Sources = []country.Source{&updatesSource{p: p}, &searchSource{p: p}}
	return p
}

// Code implements country.Plugin.
func (p *Plugin) Code() string { return "no" }

// Name implements country.Plugin.
func (p *Plugin) Name() string { return "Norway" }

// Currency implements country.Plugin.
func (p *Plugin) Currency() string { return "NOK" }

// ClassificationTables implements country.Plugin. SN2007 equals NACE Rev.2
// at the levels the tables use.
func (p *Plugin) ClassificationTables() country.Tables { return country.DefaultTables() }

// DefaultRegions implements country.Plugin.
func (p *Plugin) DefaultRegions() []string { return append([]string(nil), regions...) }

// ParseFinancialValue parses "1 200 TNOK", "1,200" and plain NOK amounts.
func (p *Plugin) ParseFinancialValue(raw string) (int64, bool) {
	return country.ParseAmount(raw, amountFormat)
}

var looseEmail = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z]{2,}`)

// LookupTrusteeEmail searches the Norwegian lawyer register by name and
// returns the first mailto address on the result page, falling back to any
// address in the page text.
func (p *Plugin) LookupTrusteeEmail(ctx context.Context, name, _ string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	doc, err := p.fetcher.GetDocument(ctx, p.tilsynetBaseURL+"/register?q="+url.QueryEscape(name))
	if err != nil {
		return "", eris.Wrap(err, "no: search lawyer register")
	}
	if addrs := fetcher.MailtoAddresses(doc.Selection); len(addrs) > 0 {
		return addrs[0], nil
	}
	if m := looseEmail.FindString(doc.Text()); m != "" {
		return strings.ToLower(m), nil
	}
	return "", nil
}

var _ country.Plugin = (*Plugin)(nil)
