// Package pipeline runs the monthly bankruptcy sweep for each configured
// country: scrape, dedup, persist, score, resolve contacts, stage outreach
// and report.
package pipeline

import (
	"context"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bankruptcy-monitor/internal/config"
	"github.com/sells-group/bankruptcy-monitor/internal/contact"
	"github.com/sells-group/bankruptcy-monitor/internal/country"
	"github.com/sells-group/bankruptcy-monitor/internal/filter"
	"github.com/sells-group/bankruptcy-monitor/internal/metrics"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/outreach"
	"github.com/sells-group/bankruptcy-monitor/internal/report"
	"github.com/sells-group/bankruptcy-monitor/internal/scoring"
	"github.com/sells-group/bankruptcy-monitor/internal/store"
)

// monthRecordLimit caps the records loaded for one country and month.
const monthRecordLimit = 100_000

// Notifier is told about every country run that fails.
type Notifier interface {
	CountryFailed(ctx context.Context, country, runID string, cause error)
}

// Deps are the collaborators of a Pipeline. Registry and Store are
// required; a nil Contacts, Stager, Reasoner, Reporter or Notifier skips
// that step.
type Deps struct {
	Registry  *country.Registry
	Store     store.Store
	Contacts  *contact.Resolver
	Stager    *outreach.Stager
	Reasoner  scoring.Reasoner
	Overrides map[string]config.TableOverride
	Filter    filter.Criteria
	Reporter  report.Writer
	Metrics   *metrics.Metrics
	Notifier  Notifier
}

// Pipeline runs country sweeps.
type Pipeline struct {
	Deps
}

// New creates a Pipeline.
func New(d Deps) *Pipeline {
	return &Pipeline{Deps: d}
}

// CountryResult summarizes one country run.
type CountryResult struct {
	Country    string
	RunID      string
	Status     model.RunStatus
	Scraped    int
	New        int
	Scored     int
	Contacts   int
	Staged     int
	Reported   int
	ReportPath string
	Duration   time.Duration
	Err        error
}

// Run sweeps every country in codes, in order, for the target month. A
// failing country is recorded, alerted and skipped; the others still run.
func (p *Pipeline) Run(ctx context.Context, codes []string, year, month int) []CountryResult {
	log := zap.L().With(zap.String("component", "pipeline"), zap.Int("year", year), zap.Int("month", month))

	plugins := p.Registry.Select(codes)
	log.Info("pipeline: starting", zap.Int("countries", len(plugins)))

	results := make([]CountryResult, 0, len(plugins))
	for _, plugin := range plugins {
		if ctx.Err() != nil {
			log.Warn("pipeline: cancelled", zap.Error(ctx.Err()))
			break
		}
		res := p.runSafe(ctx, plugin, year, month)
		results = append(results, res)
	}

	log.Info("pipeline: finished", zap.Int("countries", len(results)))
	return results
}

// runSafe runs one country and converts panics into a failed result.
func (p *Pipeline) runSafe(ctx context.Context, plugin country.Plugin, year, month int) (res CountryResult) {
	code := plugin.Code()
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("country", code))
	start := time.Now()
	run := &model.ScrapeRun{Country: code, Year: year, Month: month}

	defer func() {
		if r := recover(); r != nil {
			res.Err = eris.Errorf("pipeline: panic in %s: %v", code, r)
			log.Error("pipeline: country panicked",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
		res.Country = code
		res.RunID = run.ID
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Status = model.RunStatusFailed
			p.finishFailed(ctx, run, res)
		}
		p.Metrics.ObserveRun(code, string(res.Status), res.Duration)
		log.Info("pipeline: country complete",
			zap.String("status", string(res.Status)),
			zap.Int("scraped", res.Scraped),
			zap.Int("new", res.New),
			zap.Int("scored", res.Scored),
			zap.Int("contacts", res.Contacts),
			zap.Int("staged", res.Staged),
			zap.Int("reported", res.Reported),
			zap.Duration("duration", res.Duration),
		)
	}()

	res, err := p.runCountry(ctx, plugin, run)
	res.Err = err
	return res
}

// finishFailed records the failure on the run row and alerts.
func (p *Pipeline) finishFailed(ctx context.Context, run *model.ScrapeRun, res CountryResult) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("country", run.Country))
	log.Error("pipeline: country failed", zap.Error(res.Err))

	// The run row may not exist when StartRun itself failed.
	if run.ID != "" {
		run.Status = model.RunStatusFailed
		run.Error = res.Err.Error()
		run.Scraped, run.New, run.Scored = res.Scraped, res.New, res.Scored
		run.Contacts, run.Staged, run.Reported = res.Contacts, res.Staged, res.Reported
		if err := p.Store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warn("pipeline: failed to record run failure", zap.Error(err))
		}
	}
	if p.Notifier != nil {
		p.Notifier.CountryFailed(context.WithoutCancel(ctx), run.Country, run.ID, res.Err)
	}
}

func (p *Pipeline) runCountry(ctx context.Context, plugin country.Plugin, run *model.ScrapeRun) (CountryResult, error) {
	code := plugin.Code()
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("country", code))
	var res CountryResult

	step := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		if err != nil {
			log.Error("pipeline: step failed",
				zap.String("step", name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			return err
		}
		log.Debug("pipeline: step complete",
			zap.String("step", name),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}

	if err := p.Store.StartRun(ctx, run); err != nil {
		return res, eris.Wrap(err, "pipeline: start run")
	}

	var known model.KeySet
	if err := step("known_keys", func() (err error) {
		known, err = p.Store.KnownKeys(ctx, code)
		return eris.Wrap(err, "pipeline: load known keys")
	}); err != nil {
		return res, err
	}

	var scraped []model.FilingRecord
	if err := step("scrape", func() (err error) {
		scraped, err = plugin.Scrape(ctx, run.Year, run.Month, known)
		return eris.Wrap(err, "pipeline: scrape")
	}); err != nil {
		return res, err
	}
	res.Scraped = len(scraped)

	var fresh []model.FilingRecord
	if len(scraped) > 0 {
		if err := step("persist", func() error {
			var err error
			fresh, err = p.Store.FilterNew(ctx, scraped)
			if err != nil {
				return eris.Wrap(err, "pipeline: filter new")
			}
			n, err := p.Store.InsertNew(ctx, fresh)
			if err != nil {
				return eris.Wrap(err, "pipeline: insert new")
			}
			res.New = n
			p.Metrics.AddNew(code, n)
			return nil
		}); err != nil {
			return res, err
		}
	}

	// Records an earlier run persisted but never finished are picked up
	// again alongside the fresh ones.
	var work []model.FilingRecord
	toScore := 0
	if err := step("resume", func() error {
		stored, err := p.Store.ListRecords(ctx, store.RecordQuery{
			Country: code, Year: run.Year, Month: run.Month, Limit: monthRecordLimit,
		})
		if err != nil {
			return eris.Wrap(err, "pipeline: list unfinished records")
		}
		work, toScore = workSet(fresh, stored)
		if resumed := len(work) - len(fresh); resumed > 0 {
			log.Info("pipeline: resuming stored records", zap.Int("records", resumed))
		}
		return nil
	}); err != nil {
		return res, err
	}

	if len(work) > 0 {
		if toScore > 0 {
			if err := step("score", func() error {
				n, err := p.score(ctx, plugin, work[:toScore])
				res.Scored = n
				return err
			}); err != nil {
				return res, err
			}
		}

		if err := step("contacts", func() error {
			n, err := p.resolveContacts(ctx, plugin, work)
			res.Contacts = n
			return err
		}); err != nil {
			return res, err
		}

		if p.Stager != nil {
			if err := step("stage", func() error {
				n, err := p.Stager.Stage(ctx, work)
				res.Staged = n
				return eris.Wrap(err, "pipeline: stage outreach")
			}); err != nil {
				return res, err
			}
		}
	}

	// Reports cover the whole month, so a rerun reproduces the same file.
	var monthRecs []model.FilingRecord
	if err := step("load_month", func() (err error) {
		monthRecs, err = p.Store.ListRecords(ctx, store.RecordQuery{
			Country: code, Year: run.Year, Month: run.Month, Limit: monthRecordLimit,
		})
		return eris.Wrap(err, "pipeline: list month records")
	}); err != nil {
		return res, err
	}

	reported := filter.Apply(monthRecs, p.Filter)
	report.SortByTier(reported)
	res.Reported = len(reported)

	switch {
	case res.Scraped == 0 && len(monthRecs) == 0:
		res.Status = model.RunStatusNoRecords
	case len(monthRecs) > 0 && len(reported) == 0:
		res.Status = model.RunStatusFilteredOut
		log.Warn("pipeline: " + model.RunStatusFilteredOut.Message())
	default:
		res.Status = model.RunStatusOK
	}

	if p.Reporter != nil {
		if err := step("report", func() error {
			path, err := p.Reporter.Write(ctx, report.Report{
				Country:     code,
				CountryName: plugin.Name(),
				Currency:    plugin.Currency(),
				Year:        run.Year,
				Month:       run.Month,
				Records:     reported,
				Status:      res.Status,
			})
			res.ReportPath = path
			return eris.Wrap(err, "pipeline: write report")
		}); err != nil {
			return res, err
		}
	}

	run.Status = res.Status
	run.Scraped, run.New, run.Scored = res.Scraped, res.New, res.Scored
	run.Contacts, run.Staged, run.Reported = res.Contacts, res.Staged, res.Reported
	if err := p.Store.FinishRun(ctx, run); err != nil {
		return res, eris.Wrap(err, "pipeline: finish run")
	}
	return res, nil
}

type recordKey struct {
	key   model.FilingKey
	email string
}

func keyOf(r model.FilingRecord) recordKey {
	return recordKey{key: r.FilingKey(), email: strings.ToLower(strings.TrimSpace(r.TrusteeEmail))}
}

// workSet returns the records this run still has to process: fresh ones
// first, then stored ones without a tier, then stored outreach candidates
// that may lack a contact or an outreach entry. The count is the length of
// the leading part that needs scoring. Staging skips filings that already
// have an entry.
func workSet(fresh, stored []model.FilingRecord) ([]model.FilingRecord, int) {
	seen := make(map[recordKey]bool, len(fresh))
	for _, r := range fresh {
		seen[keyOf(r)] = true
	}

	work := slices.Clone(fresh)
	var candidates []model.FilingRecord
	for _, r := range stored {
		if seen[keyOf(r)] {
			continue
		}
		switch {
		case r.Tier == model.TierNone && r.IndustryCode != "":
			work = append(work, r)
		case r.Tier.IsOutreachCandidate():
			candidates = append(candidates, r)
		}
	}
	return append(work, candidates...), len(work)
}

// score classifies recs in place, explains the scored ones and persists
// the result. It returns the number of records that received a tier.
func (p *Pipeline) score(ctx context.Context, plugin country.Plugin, recs []model.FilingRecord) (int, error) {
	engine := scoring.NewEngine(scoring.TablesFor(plugin, p.Overrides))
	engine.ApplyAll(recs)
	scoring.Annotate(ctx, p.Reasoner, recs)

	scored := 0
	for _, rec := range recs {
		if rec.Tier != model.TierNone {
			scored++
			p.Metrics.IncScored(rec.Country, string(rec.Tier))
		}
		if err := p.Store.UpdateScore(ctx, rec); err != nil {
			return scored, eris.Wrap(err, "pipeline: update score")
		}
	}
	return scored, nil
}

// resolveContacts looks up trustee addresses for the outreach tiers and
// persists every address found. It returns the number of records that
// received one.
func (p *Pipeline) resolveContacts(ctx context.Context, plugin country.Plugin, recs []model.FilingRecord) (int, error) {
	if p.Contacts == nil {
		return 0, nil
	}
	var targets []*model.FilingRecord
	for i := range recs {
		if recs[i].Tier.IsOutreachCandidate() && recs[i].TrusteeEmail == "" {
			targets = append(targets, &recs[i])
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	found := p.Contacts.Resolve(ctx, targets, plugin)
	for _, rec := range targets {
		if rec.TrusteeEmail == "" {
			continue
		}
		if err := p.Store.AttachContact(ctx, *rec, rec.TrusteeEmail); err != nil {
			return found, eris.Wrapf(err, "pipeline: attach contact %s", rec.IdentityNumber())
		}
	}
	return found, nil
}
