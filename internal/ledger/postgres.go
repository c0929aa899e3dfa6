package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/db"
	"github.com/sells-group/contact-enrichment/internal/model"
)

// PostgresLedger implements Ledger using pgxpool.
type PostgresLedger struct {
	pool    db.Pool
	maxRuns int
	closeFn func()
}

// PostgresOption configures a PostgresLedger.
type PostgresOption func(*PostgresLedger)

// WithRetention overrides the keep-last-N run retention window.
func WithRetention(n int) PostgresOption {
	return func(l *PostgresLedger) {
		if n > 0 {
			l.maxRuns = n
		}
	}
}

// NewPostgres creates a PostgresLedger with a connection pool.
func NewPostgres(ctx context.Context, connString string, opts ...PostgresOption) (*PostgresLedger, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	l := &PostgresLedger{pool: pool, maxRuns: DefaultMaxRuns, closeFn: pool.Close}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	trigger       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	start_time    TIMESTAMPTZ NOT NULL DEFAULT now(),
	end_time      TIMESTAMPTZ,
	processed     INTEGER NOT NULL DEFAULT 0,
	enriched      INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	errors        INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	next_cursor   TEXT
);

-- At most one run may be running at any instant. The partial unique
-- index makes OpenRun's insert the single-flight arbiter instead of a
-- racy check-then-act.
CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_single_running ON runs (status) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_runs_start_time ON runs (start_time DESC);

CREATE TABLE IF NOT EXISTS run_contacts (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	contact_id     TEXT NOT NULL,
	email          TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	reason         TEXT,
	error_message  TEXT,
	fields_updated JSONB NOT NULL DEFAULT '[]',
	validation     JSONB,
	processed_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, contact_id)
);

CREATE INDEX IF NOT EXISTS idx_run_contacts_run_id ON run_contacts (run_id);

CREATE TABLE IF NOT EXISTS scheduler_settings (
	id               INTEGER PRIMARY KEY,
	enabled          BOOLEAN NOT NULL DEFAULT false,
	interval_minutes INTEGER NOT NULL DEFAULT 120,
	batch_size       INTEGER NOT NULL DEFAULT 50,
	last_run_at      TIMESTAMPTZ,
	next_run_at      TIMESTAMPTZ,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

INSERT INTO scheduler_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS stats_cache (
	id               INTEGER PRIMARY KEY,
	total_count      INTEGER NOT NULL,
	enriched_count   INTEGER NOT NULL,
	unenriched_count INTEGER NOT NULL,
	no_email_count   INTEGER NOT NULL DEFAULT 0,
	percent_complete DOUBLE PRECISION NOT NULL,
	list_id          TEXT,
	cached_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (l *PostgresLedger) Close() error {
	if l.closeFn != nil {
		l.closeFn()
	}
	return nil
}

func (l *PostgresLedger) OpenRun(ctx context.Context, trigger model.Trigger) (*model.Run, error) {
	now := time.Now().UTC()
	id := newRunID(now)

	_, err := l.pool.Exec(ctx,
		`INSERT INTO runs (id, trigger, status, start_time) VALUES ($1, $2, $3, $4)`,
		id, string(trigger), string(model.RunStatusRunning), now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrRunActive
		}
		return nil, eris.Wrap(err, "postgres: open run")
	}

	// Evict runs beyond the retention window. Best-effort: a failed
	// eviction must not fail the run that just opened.
	if _, err := l.pool.Exec(ctx,
		`DELETE FROM runs WHERE id IN (
			SELECT id FROM runs ORDER BY start_time DESC OFFSET $1
		)`,
		l.maxRuns,
	); err != nil {
		zap.L().Warn("ledger: run eviction failed", zap.Error(err))
	}

	return &model.Run{
		ID:        id,
		Trigger:   trigger,
		Status:    model.RunStatusRunning,
		StartTime: now,
	}, nil
}

func (l *PostgresLedger) RecordOutcome(ctx context.Context, runID string, outcome model.RecordOutcome) error {
	fieldsJSON, err := json.Marshal(outcome.FieldsUpdated)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}
	var validationJSON []byte
	if outcome.Validation != nil {
		validationJSON, err = json.Marshal(outcome.Validation)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal validation")
		}
	}

	ts := outcome.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	// Outcome insert and counter increment are one transaction so the
	// summary can never drift from the outcome list.
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin outcome tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO run_contacts
		 (id, run_id, contact_id, email, status, reason, error_message, fields_updated, validation, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.NewString(), runID, outcome.ContactID, outcome.Email, string(outcome.Status),
		nullString(outcome.Reason), nullString(outcome.ErrorMessage), fieldsJSON, validationJSON, ts,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert outcome for run %s", runID)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE runs SET
		   processed = processed + 1,
		   enriched  = enriched + CASE WHEN $1 = 'enriched' THEN 1 ELSE 0 END,
		   skipped   = skipped  + CASE WHEN $1 = 'skipped' THEN 1 ELSE 0 END,
		   errors    = errors   + CASE WHEN $1 = 'error' THEN 1 ELSE 0 END
		 WHERE id = $2`,
		string(outcome.Status), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment summary for run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "%s", runID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit outcome tx")
}

func (l *PostgresLedger) CloseRun(ctx context.Context, runID, nextCursor string) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE runs SET status = 'completed', end_time = $1, next_cursor = $2
		 WHERE id = $3 AND status = 'running'`,
		time.Now().UTC(), nullString(nextCursor), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: close run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotRunning
	}
	return nil
}

func (l *PostgresLedger) FailRun(ctx context.Context, runID, message string) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE runs SET status = 'failed', end_time = $1, error_message = $2
		 WHERE id = $3 AND status = 'running'`,
		time.Now().UTC(), message, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotRunning
	}
	return nil
}

const runColumns = `id, trigger, status, start_time, end_time, processed, enriched, skipped, errors, error_message, next_cursor`

func (l *PostgresLedger) CurrentRun(ctx context.Context) (*model.Run, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = 'running'
		 ORDER BY start_time DESC LIMIT 1`,
	)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: current run")
	}
	return r, nil
}

func (l *PostgresLedger) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrRunNotFound, "%s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	rows, err := l.pool.Query(ctx,
		`SELECT contact_id, email, status, reason, error_message, fields_updated, validation, processed_at
		 FROM run_contacts WHERE run_id = $1 ORDER BY processed_at ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get outcomes for run %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		oc, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		oc.RunID = runID
		r.Outcomes = append(r.Outcomes, *oc)
	}
	return r, eris.Wrap(rows.Err(), "postgres: iterate outcomes")
}

func (l *PostgresLedger) RecentRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY start_time DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (l *PostgresLedger) SchedulerSettings(ctx context.Context) (*model.SchedulerSettings, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT enabled, interval_minutes, batch_size, last_run_at, next_run_at, updated_at
		 FROM scheduler_settings WHERE id = 1`,
	)
	s, err := scanSettings(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: scheduler settings")
	}
	return s, nil
}

func (l *PostgresLedger) UpdateSchedulerSettings(ctx context.Context, update model.SchedulerUpdate) (*model.SchedulerSettings, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	// Enabling schedules the first run one interval out; disabling
	// clears the due time.
	var nextRunAt *time.Time
	if update.Enabled {
		t := time.Now().UTC().Add(time.Duration(update.IntervalMinutes) * time.Minute)
		nextRunAt = &t
	}

	row := l.pool.QueryRow(ctx,
		`UPDATE scheduler_settings SET
		   enabled = $1, interval_minutes = $2, batch_size = $3, next_run_at = $4, updated_at = now()
		 WHERE id = 1
		 RETURNING enabled, interval_minutes, batch_size, last_run_at, next_run_at, updated_at`,
		update.Enabled, update.IntervalMinutes, update.BatchSize, nextRunAt,
	)
	s, err := scanSettings(row)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: update scheduler settings")
	}
	return s, nil
}

func (l *PostgresLedger) DueSettings(ctx context.Context) (*model.SchedulerSettings, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT enabled, interval_minutes, batch_size, last_run_at, next_run_at, updated_at
		 FROM scheduler_settings
		 WHERE id = 1 AND enabled = true AND (next_run_at IS NULL OR next_run_at <= now())`,
	)
	s, err := scanSettings(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: due settings")
	}
	return s, nil
}

func (l *PostgresLedger) MarkRunStarting(ctx context.Context) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE scheduler_settings SET
		   last_run_at = now(),
		   next_run_at = now() + (interval_minutes * interval '1 minute'),
		   updated_at = now()
		 WHERE id = 1`,
	)
	return eris.Wrap(err, "postgres: mark run starting")
}

func (l *PostgresLedger) CachedStats(ctx context.Context) (*model.StatsSnapshot, error) {
	var snap model.StatsSnapshot
	var listID *string
	err := l.pool.QueryRow(ctx,
		`SELECT total_count, enriched_count, unenriched_count, no_email_count, percent_complete, list_id, cached_at
		 FROM stats_cache WHERE id = 1`,
	).Scan(&snap.TotalCount, &snap.EnrichedCount, &snap.UnenrichedCount, &snap.NoEmailCount,
		&snap.PercentDone, &listID, &snap.CachedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: cached stats")
	}
	if listID != nil {
		snap.ListID = *listID
	}
	return &snap, nil
}

func (l *PostgresLedger) CacheStats(ctx context.Context, stats model.EnrichmentStats) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO stats_cache (id, total_count, enriched_count, unenriched_count, no_email_count, percent_complete, list_id, cached_at)
		 VALUES (1, $1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (id) DO UPDATE SET
		   total_count = $1, enriched_count = $2, unenriched_count = $3,
		   no_email_count = $4, percent_complete = $5, list_id = $6, cached_at = now()`,
		stats.TotalCount, stats.EnrichedCount, stats.UnenrichedCount, stats.NoEmailCount,
		stats.PercentComplete(), nullString(stats.ListID),
	)
	return eris.Wrap(err, "postgres: cache stats")
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var endTime *time.Time
	var errMsg, nextCursor *string

	err := row.Scan(&r.ID, &r.Trigger, &r.Status, &r.StartTime, &endTime,
		&r.Summary.Processed, &r.Summary.Enriched, &r.Summary.Skipped, &r.Summary.Errors,
		&errMsg, &nextCursor)
	if err != nil {
		return nil, err
	}
	r.EndTime = endTime
	if errMsg != nil {
		r.ErrorMessage = *errMsg
	}
	if nextCursor != nil {
		r.NextCursor = *nextCursor
	}
	return &r, nil
}

func scanOutcome(row scannable) (*model.RecordOutcome, error) {
	var oc model.RecordOutcome
	var reason, errMsg *string
	var fieldsJSON, validationJSON []byte

	err := row.Scan(&oc.ContactID, &oc.Email, &oc.Status, &reason, &errMsg,
		&fieldsJSON, &validationJSON, &oc.Timestamp)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: scan outcome")
	}
	if reason != nil {
		oc.Reason = *reason
	}
	if errMsg != nil {
		oc.ErrorMessage = *errMsg
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &oc.FieldsUpdated); err != nil {
			return nil, eris.Wrap(err, "ledger: unmarshal fields")
		}
	}
	if len(validationJSON) > 0 {
		oc.Validation = &model.Validation{}
		if err := json.Unmarshal(validationJSON, oc.Validation); err != nil {
			return nil, eris.Wrap(err, "ledger: unmarshal validation")
		}
	}
	return &oc, nil
}

func scanSettings(row scannable) (*model.SchedulerSettings, error) {
	var s model.SchedulerSettings
	err := row.Scan(&s.Enabled, &s.IntervalMinutes, &s.BatchSize, &s.LastRunAt, &s.NextRunAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
