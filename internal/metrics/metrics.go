// Package metrics exposes prometheus collectors for the monitor pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bankruptcy_monitor"

// Metrics provides observability for scraping, contact resolution and
// outreach. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RecordsScraped *prometheus.CounterVec
	SourceFailures *prometheus.CounterVec
	RecordsNew     *prometheus.CounterVec
	RecordsScored  *prometheus.CounterVec
	ContactLookups *prometheus.CounterVec
	OutreachStaged *prometheus.CounterVec
	OutreachSends  *prometheus.CounterVec
	CountryRuns    *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordsScraped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_scraped_total",
			Help:      "Filing records yielded by each source",
		}, []string{"country", "source"}),

		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Sources whose contribution was discarded",
		}, []string{"country", "source"}),

		RecordsNew: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_new_total",
			Help:      "Records inserted for the first time",
		}, []string{"country"}),

		RecordsScored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_scored_total",
			Help:      "Scored records by tier",
		}, []string{"country", "tier"}),

		ContactLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contact_lookups_total",
			Help:      "Contact lookup attempts by strategy and result",
		}, []string{"strategy", "result"}), // result: "found", "miss", "error", "skipped"

		OutreachStaged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outreach_staged_total",
			Help:      "Outreach entries created in pending state",
		}, []string{"country"}),

		OutreachSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outreach_sends_total",
			Help:      "Send step outcomes",
		}, []string{"result"}), // result: "sent", "simulated", "failed", "blocked"

		CountryRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "country_runs_total",
			Help:      "Country pipeline runs by final status",
		}, []string{"country", "status"}),

		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "country_run_duration_seconds",
			Help:      "Wall time of a country pipeline run",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"country"}),
	}
}

// AddScraped records n records from source.
func (m *Metrics) AddScraped(country, source string, n int) {
	if m != nil {
		m.RecordsScraped.WithLabelValues(country, source).Add(float64(n))
	}
}

// IncSourceFailure records a discarded source.
func (m *Metrics) IncSourceFailure(country, source string) {
	if m != nil {
		m.SourceFailures.WithLabelValues(country, source).Inc()
	}
}

// AddNew records newly inserted records.
func (m *Metrics) AddNew(country string, n int) {
	if m != nil {
		m.RecordsNew.WithLabelValues(country).Add(float64(n))
	}
}

// IncScored records one scored record.
func (m *Metrics) IncScored(country, tier string) {
	if m != nil {
		if tier == "" {
			tier = "none"
		}
		m.RecordsScored.WithLabelValues(country, tier).Inc()
	}
}

// IncLookup records a contact lookup outcome.
func (m *Metrics) IncLookup(strategy, result string) {
	if m != nil {
		m.ContactLookups.WithLabelValues(strategy, result).Inc()
	}
}

// AddStaged records staged outreach entries.
func (m *Metrics) AddStaged(country string, n int) {
	if m != nil {
		m.OutreachStaged.WithLabelValues(country).Add(float64(n))
	}
}

// IncSend records a send outcome.
func (m *Metrics) IncSend(result string) {
	if m != nil {
		m.OutreachSends.WithLabelValues(result).Inc()
	}
}

// ObserveRun records a finished country run.
func (m *Metrics) ObserveRun(country, status string, d time.Duration) {
	if m != nil {
		m.CountryRuns.WithLabelValues(country, status).Inc()
		m.RunDuration.WithLabelValues(country).Observe(d.Seconds())
	}
}
