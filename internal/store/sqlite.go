package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	d  dialect
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{
		db: db,
		d: dialect{
			sb:       sq.StatementBuilder.PlaceholderFormat(sq.Question),
			dateArg:  func(t time.Time) any { return t.Format(model.DateLayout) },
			dateExpr: func(col string) string { return col },
		},
	}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS filing_records (
	country         TEXT NOT NULL,
	org_number      TEXT NOT NULL,
	filing_date     TEXT NOT NULL,
	trustee_email   TEXT NOT NULL DEFAULT '',
	company_name    TEXT,
	court           TEXT,
	industry_code   TEXT,
	industry_name   TEXT,
	trustee_name    TEXT,
	trustee_firm    TEXT,
	trustee_address TEXT,
	employees       INTEGER,
	net_sales       INTEGER,
	total_assets    INTEGER,
	region          TEXT,
	score           INTEGER,
	tier            TEXT,
	asset_types     TEXT,
	score_reason    TEXT,
	source          TEXT,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	UNIQUE (country, org_number, filing_date, trustee_email)
);

CREATE TABLE IF NOT EXISTS outreach_log (
	id           TEXT PRIMARY KEY,
	country      TEXT NOT NULL,
	org_number   TEXT NOT NULL,
	filing_date  TEXT NOT NULL,
	recipient    TEXT NOT NULL,
	company_name TEXT NOT NULL,
	trustee_name TEXT,
	subject      TEXT NOT NULL,
	body         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending','approved','rejected','sent','failed','bounced')),
	simulated    INTEGER NOT NULL DEFAULT 0,
	provider_id  TEXT,
	last_error   TEXT,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	approved_at  DATETIME,
	sent_at      DATETIME,
	UNIQUE (country, org_number, filing_date, recipient)
);

CREATE TABLE IF NOT EXISTS opt_out (
	email      TEXT PRIMARY KEY,
	reason     TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id          TEXT PRIMARY KEY,
	country     TEXT NOT NULL,
	year        INTEGER NOT NULL,
	month       INTEGER NOT NULL,
	status      TEXT NOT NULL,
	scraped     INTEGER NOT NULL DEFAULT 0,
	new_records INTEGER NOT NULL DEFAULT 0,
	scored      INTEGER NOT NULL DEFAULT 0,
	contacts    INTEGER NOT NULL DEFAULT 0,
	staged      INTEGER NOT NULL DEFAULT 0,
	reported    INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_filing_records_country_date ON filing_records(country, filing_date);
CREATE INDEX IF NOT EXISTS idx_outreach_log_status ON outreach_log(status);
CREATE INDEX IF NOT EXISTS idx_outreach_log_provider_id ON outreach_log(provider_id);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) KnownKeys(ctx context.Context, country string) (model.KeySet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT org_number, filing_date FROM filing_records WHERE country = ?`,
		strings.ToLower(country),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: known keys %s", country)
	}
	defer rows.Close()

	keys := make(model.KeySet)
	for rows.Next() {
		k := model.FilingKey{Country: strings.ToLower(country)}
		if err := rows.Scan(&k.OrgNumber, &k.FilingDate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan known key")
		}
		keys.Add(k)
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: known keys iterate")
}

func (s *SQLiteStore) FilterNew(ctx context.Context, recs []model.FilingRecord) ([]model.FilingRecord, error) {
	return filterNew(ctx, recs, s.KnownKeys)
}

func (s *SQLiteStore) InsertNew(ctx context.Context, recs []model.FilingRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
	for _, rec := range recs {
		q, args, err := s.d.insertRecord(rec, insertNewConfig, now)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert record %s", rec.FilingKey().OrgNumber)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert")
	}
	return inserted, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec model.FilingRecord) error {
	q, args, err := s.d.insertRecord(rec, upsertConfig, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return eris.Wrapf(err, "sqlite: upsert record %s", rec.FilingKey().OrgNumber)
}

func (s *SQLiteStore) UpdateScore(ctx context.Context, rec model.FilingRecord) error {
	q, args, err := s.d.updateScore(rec, time.Now().UTC())
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update score %s", rec.FilingKey().OrgNumber)
	}
	return checkRowsAffected(res, "record", rec.FilingKey().OrgNumber)
}

func (s *SQLiteStore) AttachContact(ctx context.Context, rec model.FilingRecord, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	key := rec.FilingKey()

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM filing_records
		 WHERE country = ? AND org_number = ? AND filing_date = ? AND trustee_email = ?)`,
		key.Country, key.OrgNumber, key.FilingDate, email,
	).Scan(&exists)
	if err != nil {
		return eris.Wrapf(err, "sqlite: check contact %s", key.OrgNumber)
	}

	if !exists {
		res, err := s.db.ExecContext(ctx,
			`UPDATE filing_records SET trustee_email = ?, updated_at = ?
			 WHERE country = ? AND org_number = ? AND filing_date = ? AND trustee_email = ''`,
			email, time.Now().UTC(), key.Country, key.OrgNumber, key.FilingDate,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: attach contact %s", key.OrgNumber)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	}

	rec.TrusteeEmail = email
	return s.Upsert(ctx, rec)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, q RecordQuery) ([]model.FilingRecord, error) {
	query, args, err := s.d.listRecords(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var out []model.FilingRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) StageOutreach(ctx context.Context, e model.OutreachEntry) (bool, error) {
	prepareEntry(&e)
	q, args, err := s.d.insertOutreach(e)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: stage outreach %s", e.OrgNumber)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetOutreach(ctx context.Context, id string) (*model.OutreachEntry, error) {
	q, args, err := s.d.selectOutreach().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build outreach get")
	}
	e, err := scanOutreach(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get outreach %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) ListOutreach(ctx context.Context, q OutreachQuery) ([]model.OutreachEntry, error) {
	query, args, err := s.d.listOutreach(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outreach")
	}
	defer rows.Close()

	var out []model.OutreachEntry
	for rows.Next() {
		e, err := scanOutreach(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list outreach iterate")
}

func (s *SQLiteStore) TransitionOutreach(ctx context.Context, id string, from, to model.OutreachStatus, mut OutreachUpdate) error {
	if !model.CanTransition(from, to) {
		return eris.Wrapf(model.ErrIllegalTransition, "sqlite: transition %s -> %s", from, to)
	}
	q, args, err := s.d.transition(id, from, to, mut, time.Now().UTC())
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition outreach %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM outreach_log WHERE id = ?)`, id).Scan(&exists); err != nil {
		return eris.Wrapf(err, "sqlite: check outreach %s", id)
	}
	if !exists {
		return eris.Wrapf(ErrNotFound, "sqlite: transition outreach %s", id)
	}
	return eris.Wrapf(ErrConflict, "sqlite: outreach %s is not %s", id, from)
}

func (s *SQLiteStore) AddOptOut(ctx context.Context, email, reason string) error {
	email = normalizeEmail(email)
	if email == "" {
		return eris.New("sqlite: add opt-out: empty email")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO opt_out (email, reason, created_at) VALUES (?, ?, ?) ON CONFLICT (email) DO NOTHING`,
		email, nullString(reason), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: add opt-out %s", email)
}

func (s *SQLiteStore) IsOptedOut(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM opt_out WHERE email = ?)`, normalizeEmail(email),
	).Scan(&exists)
	return exists, eris.Wrap(err, "sqlite: check opt-out")
}

func (s *SQLiteStore) ListOptOuts(ctx context.Context) ([]model.OptOut, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, reason, created_at FROM opt_out ORDER BY email`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list opt-outs")
	}
	defer rows.Close()

	var out []model.OptOut
	for rows.Next() {
		var o model.OptOut
		var reason *string
		if err := rows.Scan(&o.Email, &reason, &o.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opt-out")
		}
		o.Reason = deref(reason)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list opt-outs iterate")
}

func (s *SQLiteStore) StartRun(ctx context.Context, run *model.ScrapeRun) error {
	prepareRun(run)
	q, args, err := s.d.sb.Insert(runsTable).Columns(runColumns...).Values(runValues(run)...).ToSql()
	if err != nil {
		return eris.Wrap(err, "sqlite: build run insert")
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return eris.Wrapf(err, "sqlite: start run %s", run.ID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.ScrapeRun) error {
	finishRun(run)
	q, args, err := finishRunQuery(s.d.sb, run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.ScrapeRun, error) {
	q, args, err := s.d.listRuns(limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ScrapeRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
