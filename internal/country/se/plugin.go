// Package se implements the Swedish plugin: filings from the tic.io
// bankruptcy listing and trustee contacts from the Swedish Bar Association
// directory.
package se

import (
	"time"

	"github.com/sells-group/bankruptcy-monitor/internal/aggregate"
	"github.com/sells-group/bankruptcy-monitor/internal/country"
	"github.com/sells-group/bankruptcy-monitor/internal/fetcher"
)

const (
	defaultTICBaseURL       = "https://tic.io"
	defaultSamfundetBaseURL = "https://www.advokatsamfundet.se"
	defaultMaxPages         = 10
	pageSize                = 100
)

var amountFormat = country.AmountFormat{Currency: "SEK", Decimal: '.', Thousands: ","}

var regions = []string{
	"Stockholm", "Goteborg", "Malmo", "Uppsala", "Linkoping", "Vasteras",
	"Orebro", "Norrkoping", "Helsingborg", "Jonkoping", "Umea", "Lund",
	"Sundsvall", "Gavle", "Karlstad", "Vaxjo", "Lulea", "Halmstad",
	"Kalmar", "Kristianstad", "Falun", "Skelleftea",
}

// Plugin is the Swedish country plugin.
type Plugin struct {
	aggregate.Set

	fetcher          fetcher.Fetcher
	ticBaseURL       string
	samfundetBaseURL string
	maxPages         int
	pageDelay        time.Duration

	directory *directory
}

// Option configures the plugin.
type Option func(*Plugin)

// WithTICBaseURL overrides the tic.io origin.
func WithTICBaseURL(u string) Option {
	return func(p *Plugin) { p.ticBaseURL = u }
}

// WithSamfundetBaseURL overrides the Bar Association origin.
func WithSamfundetBaseURL(u string) Option {
	return func(p *Plugin) { p.samfundetBaseURL = u }
}

// WithMaxPages caps listing pagination.
func WithMaxPages(n int) Option {
	return func(p *Plugin) { p.maxPages = n }
}

// WithPageDelay sets the pause between listing pages.
func WithPageDelay(d time.Duration) Option {
	return func(p *Plugin) { p.pageDelay = d }
}

// WithMergeOptions sets the aggregator options used by Scrape.
func WithMergeOptions(o aggregate.Options) Option {
	return func(p *Plugin) { p.Options = o }
}

// New creates the Swedish plugin.
func New(f fetcher.Fetcher, opts ...Option) *Plugin {
	p := &Plugin{
		fetcher:          f,
		ticBaseURL:       defaultTICBaseURL,
		samfundetBaseURL: defaultSamfundetBaseURL,
		maxPages:         defaultMaxPages,
		pageDelay:        500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.Options.Country = p.Code()
	p.Sources = []country.Source{&ticSource{p: p}}
	p.directory = newDirectory(f, p.samfundetBaseURL)
	return p
}

// Code implements country.Plugin.
func (p *Plugin) Code() string { return "se" }

// Name implements country.Plugin.
func (p *Plugin) Name() string { return "Sweden" }

// Currency implements country.Plugin.
func (p *Plugin) Currency() string { return "SEK" }

// ClassificationTables implements country.Plugin.
func (p *Plugin) ClassificationTables() country.Tables { return country.DefaultTables() }

// DefaultRegions implements country.Plugin.
func (p *Plugin) DefaultRegions() []string { return append([]string(nil), regions...) }

// ParseFinancialValue parses "134 TSEK", "2,340 TSEK" and plain SEK amounts.
func (p *Plugin) ParseFinancialValue(raw string) (int64, bool) {
	return country.ParseAmount(raw, amountFormat)
}

var _ country.Plugin = (*Plugin)(nil)
