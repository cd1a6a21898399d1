package store

import (
	"context"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/bankruptcy-monitor/internal/db"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	d       dialect
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlKnownKeys  = `SELECT DISTINCT org_number, to_char(filing_date, 'YYYY-MM-DD') FROM filing_records WHERE country = $1`
	sqlIsOptedOut = `SELECT EXISTS (SELECT 1 FROM opt_out WHERE email = $1)`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"known_keys":   sqlKnownKeys,
	"is_opted_out": sqlIsOptedOut,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool), nil
}

func newPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		closeFn: pool.Close,
		d: dialect{
			sb:       sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
			dateArg:  func(t time.Time) any { return t },
			dateExpr: func(col string) string { return "to_char(" + col + ", 'YYYY-MM-DD') AS " + col },
		},
	}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS filing_records (
	country         TEXT NOT NULL,
	org_number      TEXT NOT NULL,
	filing_date     DATE NOT NULL,
	trustee_email   TEXT NOT NULL DEFAULT '',
	company_name    TEXT,
	court           TEXT,
	industry_code   TEXT,
	industry_name   TEXT,
	trustee_name    TEXT,
	trustee_firm    TEXT,
	trustee_address TEXT,
	employees       INTEGER,
	net_sales       BIGINT,
	total_assets    BIGINT,
	region          TEXT,
	score           INTEGER,
	tier            TEXT,
	asset_types     TEXT,
	score_reason    TEXT,
	source          TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (country, org_number, filing_date, trustee_email)
);

CREATE TABLE IF NOT EXISTS outreach_log (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	country      TEXT NOT NULL,
	org_number   TEXT NOT NULL,
	filing_date  DATE NOT NULL,
	recipient    TEXT NOT NULL,
	company_name TEXT NOT NULL,
	trustee_name TEXT,
	subject      TEXT NOT NULL,
	body         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending','approved','rejected','sent','failed','bounced')),
	simulated    BOOLEAN NOT NULL DEFAULT false,
	provider_id  TEXT,
	last_error   TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	approved_at  TIMESTAMPTZ,
	sent_at      TIMESTAMPTZ,
	UNIQUE (country, org_number, filing_date, recipient)
);

CREATE TABLE IF NOT EXISTS opt_out (
	email      TEXT PRIMARY KEY,
	reason     TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_filing_records_country_date ON filing_records(country, filing_date);
CREATE INDEX IF NOT EXISTS idx_outreach_log_status ON outreach_log(status);
CREATE INDEX IF NOT EXISTS idx_outreach_log_provider_id ON outreach_log(provider_id);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) KnownKeys(ctx context.Context, country string) (model.KeySet, error) {
	country = strings.ToLower(country)
	rows, err := s.pool.Query(ctx, sqlKnownKeys, country)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: known keys %s", country)
	}
	defer rows.Close()

	keys := make(model.KeySet)
	for rows.Next() {
		k := model.FilingKey{Country: country}
		if err := rows.Scan(&k.OrgNumber, &k.FilingDate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan known key")
		}
		keys.Add(k)
	}
	return keys, eris.Wrap(rows.Err(), "postgres: known keys iterate")
}

func (s *PostgresStore) FilterNew(ctx context.Context, recs []model.FilingRecord) ([]model.FilingRecord, error) {
	return filterNew(ctx, recs, s.KnownKeys)
}

// InsertNew stages the batch with COPY and inserts it with ON CONFLICT DO
// NOTHING in one transaction.
func (s *PostgresStore) InsertNew(ctx context.Context, recs []model.FilingRecord) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, recordValues(rec, s.d.dateArg, now))
	}
	n, err := db.BulkUpsert(ctx, s.pool, insertNewConfig, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert records")
	}
	return int(n), nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec model.FilingRecord) error {
	q, args, err := s.d.insertRecord(rec, upsertConfig, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, q, args...)
	return eris.Wrapf(err, "postgres: upsert record %s", rec.FilingKey().OrgNumber)
}

func (s *PostgresStore) UpdateScore(ctx context.Context, rec model.FilingRecord) error {
	q, args, err := s.d.updateScore(rec, time.Now().UTC())
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update score %s", rec.FilingKey().OrgNumber)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "record %s", rec.FilingKey().OrgNumber)
	}
	return nil
}

func (s *PostgresStore) AttachContact(ctx context.Context, rec model.FilingRecord, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	key := rec.FilingKey()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM filing_records
		 WHERE country = $1 AND org_number = $2 AND filing_date = $3 AND trustee_email = $4)`,
		key.Country, key.OrgNumber, rec.FilingDate, email,
	).Scan(&exists)
	if err != nil {
		return eris.Wrapf(err, "postgres: check contact %s", key.OrgNumber)
	}

	if !exists {
		tag, err := s.pool.Exec(ctx,
			`UPDATE filing_records SET trustee_email = $1, updated_at = $2
			 WHERE country = $3 AND org_number = $4 AND filing_date = $5 AND trustee_email = ''`,
			email, time.Now().UTC(), key.Country, key.OrgNumber, rec.FilingDate,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: attach contact %s", key.OrgNumber)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
	}

	rec.TrusteeEmail = email
	return s.Upsert(ctx, rec)
}

func (s *PostgresStore) ListRecords(ctx context.Context, q RecordQuery) ([]model.FilingRecord, error) {
	query, args, err := s.d.listRecords(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
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
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) StageOutreach(ctx context.Context, e model.OutreachEntry) (bool, error) {
	prepareEntry(&e)
	q, args, err := s.d.insertOutreach(e)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: stage outreach %s", e.OrgNumber)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetOutreach(ctx context.Context, id string) (*model.OutreachEntry, error) {
	q, args, err := s.d.selectOutreach().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build outreach get")
	}
	e, err := scanOutreach(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get outreach %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) ListOutreach(ctx context.Context, q OutreachQuery) ([]model.OutreachEntry, error) {
	query, args, err := s.d.listOutreach(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outreach")
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
	return out, eris.Wrap(rows.Err(), "postgres: list outreach iterate")
}

func (s *PostgresStore) TransitionOutreach(ctx context.Context, id string, from, to model.OutreachStatus, mut OutreachUpdate) error {
	if !model.CanTransition(from, to) {
		return eris.Wrapf(model.ErrIllegalTransition, "postgres: transition %s -> %s", from, to)
	}
	q, args, err := s.d.transition(id, from, to, mut, time.Now().UTC())
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition outreach %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM outreach_log WHERE id = $1)`, id).Scan(&exists); err != nil {
		return eris.Wrapf(err, "postgres: check outreach %s", id)
	}
	if !exists {
		return eris.Wrapf(ErrNotFound, "postgres: transition outreach %s", id)
	}
	return eris.Wrapf(ErrConflict, "postgres: outreach %s is not %s", id, from)
}

func (s *PostgresStore) AddOptOut(ctx context.Context, email, reason string) error {
	email = normalizeEmail(email)
	if email == "" {
		return eris.New("postgres: add opt-out: empty email")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO opt_out (email, reason, created_at) VALUES ($1, $2, $3) ON CONFLICT (email) DO NOTHING`,
		email, nullString(reason), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: add opt-out %s", email)
}

func (s *PostgresStore) IsOptedOut(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, sqlIsOptedOut, normalizeEmail(email)).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: check opt-out")
}

func (s *PostgresStore) ListOptOuts(ctx context.Context) ([]model.OptOut, error) {
	rows, err := s.pool.Query(ctx, `SELECT email, reason, created_at FROM opt_out ORDER BY email`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list opt-outs")
	}
	defer rows.Close()

	var out []model.OptOut
	for rows.Next() {
		var o model.OptOut
		var reason *string
		if err := rows.Scan(&o.Email, &reason, &o.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan opt-out")
		}
		o.Reason = deref(reason)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list opt-outs iterate")
}

func (s *PostgresStore) StartRun(ctx context.Context, run *model.ScrapeRun) error {
	prepareRun(run)
	q, args, err := s.d.sb.Insert(runsTable).Columns(runColumns...).Values(runValues(run)...).ToSql()
	if err != nil {
		return eris.Wrap(err, "postgres: build run insert")
	}
	_, err = s.pool.Exec(ctx, q, args...)
	return eris.Wrapf(err, "postgres: start run %s", run.ID)
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *model.ScrapeRun) error {
	finishRun(run)
	q, args, err := finishRunQuery(s.d.sb, run)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.ScrapeRun, error) {
	q, args, err := s.d.listRuns(limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
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
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

var _ Store = (*PostgresStore)(nil)
