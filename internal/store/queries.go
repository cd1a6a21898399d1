package store

import (
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/bankruptcy-monitor/internal/db"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

const (
	recordsTable  = "filing_records"
	outreachTable = "outreach_log"
	optOutTable   = "opt_out"
	runsTable     = "scrape_runs"

	defaultListLimit = 500
)

var recordIdentity = []string{"country", "org_number", "filing_date", "trustee_email"}

var recordColumns = []string{
	"country", "org_number", "filing_date", "trustee_email",
	"company_name", "court", "industry_code", "industry_name",
	"trustee_name", "trustee_firm", "trustee_address",
	"employees", "net_sales", "total_assets", "region",
	"score", "tier", "asset_types", "score_reason", "source",
	"created_at", "updated_at",
}

var outreachColumns = []string{
	"id", "country", "org_number", "filing_date", "recipient",
	"company_name", "trustee_name", "subject", "body", "status",
	"simulated", "provider_id", "last_error",
	"created_at", "updated_at", "approved_at", "sent_at",
}

var runColumns = []string{
	"id", "country", "year", "month", "status",
	"scraped", "new_records", "scored", "contacts", "staged", "reported",
	"error", "started_at", "finished_at",
}

// insertNewConfig writes only rows whose identity is not yet taken.
var insertNewConfig = db.UpsertConfig{
	Table:        recordsTable,
	Columns:      recordColumns,
	ConflictKeys: recordIdentity,
	DoNothing:    true,
}

// upsertConfig overwrites columns the incoming record carries and keeps
// the rest.
var upsertConfig = db.UpsertConfig{
	Table:        recordsTable,
	Columns:      recordColumns,
	ConflictKeys: recordIdentity,
	UpdateCols:   append(slices.Clone(recordColumns[4:len(recordColumns)-2]), "updated_at"),
	KeepExisting: true,
}

// dialect captures what differs between the SQLite and Postgres stores:
// placeholder style, how dates are bound, and how they are selected.
type dialect struct {
	sb       sq.StatementBuilderType
	dateArg  func(time.Time) any
	dateExpr func(col string) string
}

func (d dialect) selectRecords() sq.SelectBuilder {
	return d.sb.Select(d.columns(recordColumns)...).From(recordsTable)
}

func (d dialect) selectOutreach() sq.SelectBuilder {
	return d.sb.Select(d.columns(outreachColumns)...).From(outreachTable)
}

func (d dialect) columns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		if c == "filing_date" {
			out[i] = d.dateExpr(c)
			continue
		}
		out[i] = c
	}
	return out
}

func (d dialect) insertRecord(rec model.FilingRecord, cfg db.UpsertConfig, now time.Time) (string, []any, error) {
	q, args, err := d.sb.Insert(recordsTable).
		Columns(recordColumns...).
		Values(recordValues(rec, d.dateArg, now)...).
		Suffix(db.ConflictClause(cfg)).
		ToSql()
	return q, args, eris.Wrap(err, "store: build record insert")
}

func (d dialect) listRecords(q RecordQuery) (string, []any, error) {
	b := d.selectRecords()
	if q.Country != "" {
		b = b.Where(sq.Eq{"country": strings.ToLower(q.Country)})
	}
	if q.Tier != model.TierNone {
		b = b.Where(sq.Eq{"tier": string(q.Tier)})
	}
	if q.Year > 0 && q.Month > 0 {
		first := model.Date(q.Year, q.Month, 1)
		b = b.Where(sq.GtOrEq{"filing_date": d.dateArg(first)}).
			Where(sq.Lt{"filing_date": d.dateArg(first.AddDate(0, 1, 0))})
	}
	sqlStr, args, err := b.OrderBy("filing_date DESC", "company_name").
		Limit(limitOrDefault(q.Limit)).
		ToSql()
	return sqlStr, args, eris.Wrap(err, "store: build record list")
}

func (d dialect) updateScore(rec model.FilingRecord, now time.Time) (string, []any, error) {
	key := rec.FilingKey()
	sqlStr, args, err := d.sb.Update(recordsTable).
		Set("score", nullInt(rec.Score)).
		Set("tier", nullString(string(rec.Tier))).
		Set("asset_types", nullString(rec.AssetTypes)).
		Set("score_reason", nullString(rec.ScoreReason)).
		Set("updated_at", now).
		Where(sq.Eq{"country": key.Country, "org_number": key.OrgNumber, "filing_date": d.dateArg(rec.FilingDate)}).
		ToSql()
	return sqlStr, args, eris.Wrap(err, "store: build score update")
}

func (d dialect) insertOutreach(e model.OutreachEntry) (string, []any, error) {
	sqlStr, args, err := d.sb.Insert(outreachTable).
		Columns(outreachColumns...).
		Values(
			e.ID, e.Country, e.OrgNumber, d.dateArg(e.FilingDate), e.Recipient,
			e.CompanyName, nullString(e.TrusteeName), e.Subject, e.Body, string(e.Status),
			e.Simulated, nullString(e.ProviderID), nullString(e.LastError),
			e.CreatedAt, e.UpdatedAt, e.ApprovedAt, e.SentAt,
		).
		Suffix(db.ConflictClause(db.UpsertConfig{
			Table:        outreachTable,
			Columns:      outreachColumns,
			ConflictKeys: []string{"country", "org_number", "filing_date", "recipient"},
			DoNothing:    true,
		})).
		ToSql()
	return sqlStr, args, eris.Wrap(err, "store: build outreach insert")
}

func (d dialect) listOutreach(q OutreachQuery) (string, []any, error) {
	b := d.selectOutreach()
	if q.Status != "" {
		b = b.Where(sq.Eq{"status": string(q.Status)})
	}
	if q.Country != "" {
		b = b.Where(sq.Eq{"country": strings.ToLower(q.Country)})
	}
	if q.ProviderID != "" {
		b = b.Where(sq.Eq{"provider_id": q.ProviderID})
	}
	sqlStr, args, err := b.OrderBy("created_at", "id").Limit(limitOrDefault(q.Limit)).ToSql()
	return sqlStr, args, eris.Wrap(err, "store: build outreach list")
}

// transition builds the compare-and-swap status update.
func (d dialect) transition(id string, from, to model.OutreachStatus, mut OutreachUpdate, now time.Time) (string, []any, error) {
	b := d.sb.Update(outreachTable).
		Set("status", string(to)).
		Set("updated_at", now).
		Set("last_error", nullString(mut.LastError))
	if mut.Subject != "" {
		b = b.Set("subject", mut.Subject)
	}
	if mut.Body != "" {
		b = b.Set("body", mut.Body)
	}
	switch to {
	case model.OutreachApproved:
		b = b.Set("approved_at", now)
	case model.OutreachSent:
		b = b.Set("sent_at", now).
			Set("simulated", mut.Simulated).
			Set("provider_id", nullString(mut.ProviderID))
	}
	sqlStr, args, err := b.Where(sq.Eq{"id": id, "status": string(from)}).ToSql()
	return sqlStr, args, eris.Wrap(err, "store: build outreach transition")
}

func (d dialect) listRuns(limit int) (string, []any, error) {
	sqlStr, args, err := d.sb.Select(runColumns...).From(runsTable).
		OrderBy("started_at DESC", "id").
		Limit(limitOrDefault(limit)).
		ToSql()
	return sqlStr, args, eris.Wrap(err, "store: build run list")
}

func limitOrDefault(n int) uint64 {
	if n <= 0 {
		return defaultListLimit
	}
	return uint64(n)
}

func recordValues(rec model.FilingRecord, dateArg func(time.Time) any, now time.Time) []any {
	key := rec.FilingKey()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	return []any{
		key.Country, key.OrgNumber, dateArg(rec.FilingDate), normalizeEmail(rec.TrusteeEmail),
		nullString(rec.CompanyName), nullString(rec.Court), nullString(rec.IndustryCode), nullString(rec.IndustryName),
		nullString(rec.TrusteeName), nullString(rec.TrusteeFirm), nullString(rec.TrusteeAddress),
		nullInt(rec.Employees), nullInt64(rec.NetSales), nullInt64(rec.TotalAssets), nullString(rec.Region),
		nullInt(rec.Score), nullString(string(rec.Tier)), nullString(rec.AssetTypes), nullString(rec.ScoreReason), nullString(rec.Source),
		created, now,
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (model.FilingRecord, error) {
	var (
		r                                       model.FilingRecord
		identity, date                          string
		name, court, code, industry             *string
		trustee, firm, address, region          *string
		tier, assets, reason, source            *string
		employees, netSales, totalAssets, score *int64
	)
	err := row.Scan(
		&r.Country, &identity, &date, &r.TrusteeEmail,
		&name, &court, &code, &industry,
		&trustee, &firm, &address,
		&employees, &netSales, &totalAssets, &region,
		&score, &tier, &assets, &reason, &source,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, eris.Wrap(err, "store: scan record")
	}

	r.OrgNumber, r.FallbackKey = model.OrgFromIdentity(identity)
	d, ok := model.ParseDate(date)
	if !ok {
		return r, eris.Errorf("store: scan record: bad filing date %q", date)
	}
	r.FilingDate = d
	r.CompanyName = deref(name)
	r.Court = deref(court)
	r.IndustryCode = deref(code)
	r.IndustryName = deref(industry)
	r.TrusteeName = deref(trustee)
	r.TrusteeFirm = deref(firm)
	r.TrusteeAddress = deref(address)
	r.Region = deref(region)
	r.Tier = model.Tier(deref(tier))
	r.AssetTypes = deref(assets)
	r.ScoreReason = deref(reason)
	r.Source = deref(source)
	r.NetSales = netSales
	r.TotalAssets = totalAssets
	if employees != nil {
		r.Employees = model.IntPtr(int(*employees))
	}
	if score != nil {
		r.Score = model.IntPtr(int(*score))
	}
	return r, nil
}

func scanOutreach(row scannable) (model.OutreachEntry, error) {
	var (
		e                             model.OutreachEntry
		date                          string
		status                        string
		trustee, providerID, lastErr *string
	)
	err := row.Scan(
		&e.ID, &e.Country, &e.OrgNumber, &date, &e.Recipient,
		&e.CompanyName, &trustee, &e.Subject, &e.Body, &status,
		&e.Simulated, &providerID, &lastErr,
		&e.CreatedAt, &e.UpdatedAt, &e.ApprovedAt, &e.SentAt,
	)
	if err != nil {
		return e, eris.Wrap(err, "store: scan outreach")
	}
	d, ok := model.ParseDate(date)
	if !ok {
		return e, eris.Errorf("store: scan outreach: bad filing date %q", date)
	}
	e.FilingDate = d
	e.Status = model.OutreachStatus(status)
	e.TrusteeName = deref(trustee)
	e.ProviderID = deref(providerID)
	e.LastError = deref(lastErr)
	return e, nil
}

func scanRun(row scannable) (model.ScrapeRun, error) {
	var (
		r      model.ScrapeRun
		status string
		errMsg *string
	)
	err := row.Scan(
		&r.ID, &r.Country, &r.Year, &r.Month, &status,
		&r.Scraped, &r.New, &r.Scored, &r.Contacts, &r.Staged, &r.Reported,
		&errMsg, &r.StartedAt, &r.FinishedAt,
	)
	if err != nil {
		return r, eris.Wrap(err, "store: scan run")
	}
	r.Status = model.RunStatus(status)
	r.Error = deref(errMsg)
	return r, nil
}

func runValues(run *model.ScrapeRun) []any {
	return []any{
		run.ID, run.Country, run.Year, run.Month, string(run.Status),
		run.Scraped, run.New, run.Scored, run.Contacts, run.Staged, run.Reported,
		nullString(run.Error), run.StartedAt, run.FinishedAt,
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
