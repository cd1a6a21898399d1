// Package store persists filing records, outreach entries, opt-outs and
// scrape runs. The uniqueness of filing identities is enforced by the
// database, not by callers.
package store

import (
	"context"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a compare-and-swap update lost: the row
	// exists but is no longer in the expected state.
	ErrConflict = eris.New("store: conflict")
)

// RecordQuery filters ListRecords. Zero values are ignored.
type RecordQuery struct {
	Country string     `json:"country,omitempty"`
	Tier    model.Tier `json:"tier,omitempty"`
	Year    int        `json:"year,omitempty"`
	Month   int        `json:"month,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

// OutreachQuery filters ListOutreach. Zero values are ignored.
type OutreachQuery struct {
	Status     model.OutreachStatus `json:"status,omitempty"`
	Country    string               `json:"country,omitempty"`
	ProviderID string               `json:"provider_id,omitempty"`
	Limit      int                  `json:"limit,omitempty"`
}

// OutreachUpdate carries the fields a transition writes alongside the new
// status. Empty strings leave the column unchanged, except LastError which
// is always written.
type OutreachUpdate struct {
	Subject    string
	Body       string
	ProviderID string
	LastError  string
	Simulated  bool
}

// Store defines the persistence interface for the monitor.
type Store interface {
	// Filing records
	KnownKeys(ctx context.Context, country string) (model.KeySet, error)
	FilterNew(ctx context.Context, recs []model.FilingRecord) ([]model.FilingRecord, error)
	InsertNew(ctx context.Context, recs []model.FilingRecord) (int, error)
	Upsert(ctx context.Context, rec model.FilingRecord) error
	UpdateScore(ctx context.Context, rec model.FilingRecord) error
	AttachContact(ctx context.Context, rec model.FilingRecord, email string) error
	ListRecords(ctx context.Context, q RecordQuery) ([]model.FilingRecord, error)

	// Outreach
	StageOutreach(ctx context.Context, e model.OutreachEntry) (bool, error)
	GetOutreach(ctx context.Context, id string) (*model.OutreachEntry, error)
	ListOutreach(ctx context.Context, q OutreachQuery) ([]model.OutreachEntry, error)
	TransitionOutreach(ctx context.Context, id string, from, to model.OutreachStatus, mut OutreachUpdate) error

	// Opt-out
	AddOptOut(ctx context.Context, email, reason string) error
	IsOptedOut(ctx context.Context, email string) (bool, error)
	ListOptOuts(ctx context.Context) ([]model.OptOut, error)

	// Scrape runs
	StartRun(ctx context.Context, run *model.ScrapeRun) error
	FinishRun(ctx context.Context, run *model.ScrapeRun) error
	ListRuns(ctx context.Context, limit int) ([]model.ScrapeRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// filterNew drops records whose filing is already persisted under any
// contact, and repeats within recs. known loads the persisted filing keys
// of one country.
func filterNew(ctx context.Context, recs []model.FilingRecord, known func(context.Context, string) (model.KeySet, error)) ([]model.FilingRecord, error) {
	byCountry := make(map[string]model.KeySet)
	seen := make(model.KeySet)
	out := make([]model.FilingRecord, 0, len(recs))
	for _, r := range recs {
		keys, ok := byCountry[r.Country]
		if !ok {
			var err error
			keys, err = known(ctx, r.Country)
			if err != nil {
				return nil, err
			}
			byCountry[r.Country] = keys
		}
		k := r.FilingKey()
		if keys.Has(k) || seen.Has(k) {
			continue
		}
		seen.Add(k)
		out = append(out, r)
	}
	return out, nil
}

func prepareEntry(e *model.OutreachEntry) {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = model.OutreachPending
	}
	e.Recipient = normalizeEmail(e.Recipient)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
}

func prepareRun(run *model.ScrapeRun) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Country = strings.ToLower(run.Country)
}

func finishRun(run *model.ScrapeRun) {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	if run.Status == "" || run.Status == model.RunStatusRunning {
		run.Status = model.RunStatusOK
	}
}

func finishRunQuery(sb sq.StatementBuilderType, run *model.ScrapeRun) (string, []any, error) {
	q, args, err := sb.Update(runsTable).
		Set("status", string(run.Status)).
		Set("scraped", run.Scraped).
		Set("new_records", run.New).
		Set("scored", run.Scored).
		Set("contacts", run.Contacts).
		Set("staged", run.Staged).
		Set("reported", run.Reported).
		Set("error", nullString(run.Error)).
		Set("finished_at", run.FinishedAt).
		Where(sq.Eq{"id": run.ID}).
		ToSql()
	return q, args, eris.Wrap(err, "store: build run finish")
}
