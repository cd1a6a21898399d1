// Package monitoring summarizes recent run health and posts alerts to a
// webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/store"
)

// CountryHealth is the per-country slice of a snapshot.
type CountryHealth struct {
	Runs        int       `json:"runs"`
	Failed      int       `json:"failed"`
	NoRecords   int       `json:"no_records"`
	FilteredOut int       `json:"filtered_out"`
	LastStatus  string    `json:"last_status"`
	LastRunAt   time.Time `json:"last_run_at"`
}

// Snapshot holds a point-in-time view of pipeline and outreach health.
type Snapshot struct {
	// Runs counts every run in the window; FinishedRuns excludes running.
	Runs         int     `json:"runs"`
	FinishedRuns int     `json:"finished_runs"`
	FailedRuns   int     `json:"failed_runs"`
	FailureRate  float64 `json:"failure_rate"`

	// FailedSends counts entries that moved to failed in the window.
	FailedSends int `json:"failed_sends"`
	// BlockedApproved counts approved entries whose recipient opted out.
	BlockedApproved int `json:"blocked_approved"`
	PendingOutreach int `json:"pending_outreach"`

	Countries map[string]CountryHealth `json:"countries"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers snapshots from the store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a collector over st.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// maxRuns bounds the run history read per snapshot.
const maxRuns = 10000

// Collect builds a snapshot over the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		Countries:     make(map[string]CountryHealth),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, maxRuns)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.Runs++
		ch := snap.Countries[r.Country]
		ch.Runs++
		if r.StartedAt.After(ch.LastRunAt) {
			ch.LastRunAt = r.StartedAt
			ch.LastStatus = string(r.Status)
		}
		switch r.Status {
		case model.RunStatusRunning:
		case model.RunStatusFailed:
			snap.FinishedRuns++
			snap.FailedRuns++
			ch.Failed++
		case model.RunStatusNoRecords:
			snap.FinishedRuns++
			ch.NoRecords++
		case model.RunStatusFilteredOut:
			snap.FinishedRuns++
			ch.FilteredOut++
		default:
			snap.FinishedRuns++
		}
		snap.Countries[r.Country] = ch
	}
	if snap.FinishedRuns > 0 {
		snap.FailureRate = float64(snap.FailedRuns) / float64(snap.FinishedRuns)
	}

	failed, err := c.store.ListOutreach(ctx, store.OutreachQuery{Status: model.OutreachFailed, Limit: maxRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list failed outreach")
	}
	for _, e := range failed {
		if !e.UpdatedAt.Before(cutoff) {
			snap.FailedSends++
		}
	}

	approved, err := c.store.ListOutreach(ctx, store.OutreachQuery{Status: model.OutreachApproved, Limit: maxRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list approved outreach")
	}
	for _, e := range approved {
		opted, err := c.store.IsOptedOut(ctx, e.Recipient)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: check opt-out")
		}
		if opted {
			snap.BlockedApproved++
		}
	}

	pending, err := c.store.ListOutreach(ctx, store.OutreachQuery{Status: model.OutreachPending, Limit: maxRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list pending outreach")
	}
	snap.PendingOutreach = len(pending)

	return snap, nil
}
