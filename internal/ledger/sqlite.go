package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite, for local
// and development use.
type SQLiteLedger struct {
	db      *sql.DB
	maxRuns int
}

// SQLiteOption configures a SQLiteLedger.
type SQLiteOption func(*SQLiteLedger)

// WithSQLiteRetention overrides the keep-last-N run retention window.
func WithSQLiteRetention(n int) SQLiteOption {
	return func(l *SQLiteLedger) {
		if n > 0 {
			l.maxRuns = n
		}
	}
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts ...SQLiteOption) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	l := &SQLiteLedger{db: db, maxRuns: DefaultMaxRuns}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	trigger       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	start_time    DATETIME NOT NULL DEFAULT (datetime('now')),
	end_time      DATETIME,
	processed     INTEGER NOT NULL DEFAULT 0,
	enriched      INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	errors        INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	next_cursor   TEXT
);

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
	fields_updated TEXT NOT NULL DEFAULT '[]',
	validation     TEXT,
	processed_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (run_id, contact_id)
);

CREATE INDEX IF NOT EXISTS idx_run_contacts_run_id ON run_contacts (run_id);

CREATE TABLE IF NOT EXISTS scheduler_settings (
	id               INTEGER PRIMARY KEY,
	enabled          INTEGER NOT NULL DEFAULT 0,
	interval_minutes INTEGER NOT NULL DEFAULT 120,
	batch_size       INTEGER NOT NULL DEFAULT 50,
	last_run_at      DATETIME,
	next_run_at      DATETIME,
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

INSERT OR IGNORE INTO scheduler_settings (id) VALUES (1);

CREATE TABLE IF NOT EXISTS stats_cache (
	id               INTEGER PRIMARY KEY,
	total_count      INTEGER NOT NULL,
	enriched_count   INTEGER NOT NULL,
	unenriched_count INTEGER NOT NULL,
	no_email_count   INTEGER NOT NULL DEFAULT 0,
	percent_complete REAL NOT NULL,
	list_id          TEXT,
	cached_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (l *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) OpenRun(ctx context.Context, trigger model.Trigger) (*model.Run, error) {
	now := time.Now().UTC()
	id := newRunID(now)

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, trigger, status, start_time) VALUES (?, ?, ?, datetime('now'))`,
		id, string(trigger), string(model.RunStatusRunning),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrRunActive
		}
		return nil, eris.Wrap(err, "sqlite: open run")
	}

	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id IN (
			SELECT id FROM runs ORDER BY start_time DESC, rowid DESC LIMIT -1 OFFSET ?
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

func (l *SQLiteLedger) RecordOutcome(ctx context.Context, runID string, outcome model.RecordOutcome) error {
	fieldsJSON, err := json.Marshal(outcome.FieldsUpdated)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}
	var validationJSON []byte
	if outcome.Validation != nil {
		validationJSON, err = json.Marshal(outcome.Validation)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal validation")
		}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin outcome tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_contacts
		 (id, run_id, contact_id, email, status, reason, error_message, fields_updated, validation, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		uuid.NewString(), runID, outcome.ContactID, outcome.Email, string(outcome.Status),
		nullString(outcome.Reason), nullString(outcome.ErrorMessage), string(fieldsJSON), nullBytes(validationJSON),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert outcome for run %s", runID)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET
		   processed = processed + 1,
		   enriched  = enriched + (CASE WHEN ? = 'enriched' THEN 1 ELSE 0 END),
		   skipped   = skipped  + (CASE WHEN ? = 'skipped' THEN 1 ELSE 0 END),
		   errors    = errors   + (CASE WHEN ? = 'error' THEN 1 ELSE 0 END)
		 WHERE id = ?`,
		string(outcome.Status), string(outcome.Status), string(outcome.Status), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment summary for run %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrRunNotFound, "%s", runID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit outcome tx")
}

func (l *SQLiteLedger) CloseRun(ctx context.Context, runID, nextCursor string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = 'completed', end_time = datetime('now'), next_cursor = ?
		 WHERE id = ? AND status = 'running'`,
		nullString(nextCursor), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: close run %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotRunning
	}
	return nil
}

func (l *SQLiteLedger) FailRun(ctx context.Context, runID, message string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = 'failed', end_time = datetime('now'), error_message = ?
		 WHERE id = ? AND status = 'running'`,
		message, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotRunning
	}
	return nil
}

func (l *SQLiteLedger) CurrentRun(ctx context.Context) (*model.Run, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = 'running'
		 ORDER BY start_time DESC LIMIT 1`,
	)
	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: current run")
	}
	return r, nil
}

func (l *SQLiteLedger) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, eris.Wrapf(ErrRunNotFound, "%s", runID)
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT contact_id, email, status, reason, error_message, fields_updated, validation, processed_at
		 FROM run_contacts WHERE run_id = ? ORDER BY rowid ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get outcomes for run %s", runID)
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
	return r, eris.Wrap(rows.Err(), "sqlite: iterate outcomes")
}

func (l *SQLiteLedger) RecentRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY start_time DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (l *SQLiteLedger) SchedulerSettings(ctx context.Context) (*model.SchedulerSettings, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT enabled, interval_minutes, batch_size, last_run_at, next_run_at, updated_at
		 FROM scheduler_settings WHERE id = 1`,
	)
	s, err := scanSettings(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: scheduler settings")
	}
	return s, nil
}

func (l *SQLiteLedger) UpdateSchedulerSettings(ctx context.Context, update model.SchedulerUpdate) (*model.SchedulerSettings, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	nextExpr := "NULL"
	if update.Enabled {
		nextExpr = "datetime('now', '+' || ? || ' minutes')"
	}

	query := `UPDATE scheduler_settings SET
	   enabled = ?, interval_minutes = ?, batch_size = ?,
	   next_run_at = ` + nextExpr + `, updated_at = datetime('now')
	 WHERE id = 1`

	args := []any{update.Enabled, update.IntervalMinutes, update.BatchSize}
	if update.Enabled {
		args = append(args, update.IntervalMinutes)
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: update scheduler settings")
	}
	return l.SchedulerSettings(ctx)
}

func (l *SQLiteLedger) DueSettings(ctx context.Context) (*model.SchedulerSettings, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT enabled, interval_minutes, batch_size, last_run_at, next_run_at, updated_at
		 FROM scheduler_settings
		 WHERE id = 1 AND enabled = 1 AND (next_run_at IS NULL OR next_run_at <= datetime('now'))`,
	)
	s, err := scanSettings(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: due settings")
	}
	return s, nil
}

func (l *SQLiteLedger) MarkRunStarting(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE scheduler_settings SET
		   last_run_at = datetime('now'),
		   next_run_at = datetime('now', '+' || interval_minutes || ' minutes'),
		   updated_at = datetime('now')
		 WHERE id = 1`,
	)
	return eris.Wrap(err, "sqlite: mark run starting")
}

func (l *SQLiteLedger) CachedStats(ctx context.Context) (*model.StatsSnapshot, error) {
	var snap model.StatsSnapshot
	var listID sql.NullString
	err := l.db.QueryRowContext(ctx,
		`SELECT total_count, enriched_count, unenriched_count, no_email_count, percent_complete, list_id, cached_at
		 FROM stats_cache WHERE id = 1`,
	).Scan(&snap.TotalCount, &snap.EnrichedCount, &snap.UnenrichedCount, &snap.NoEmailCount,
		&snap.PercentDone, &listID, &snap.CachedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: cached stats")
	}
	snap.ListID = listID.String
	return &snap, nil
}

func (l *SQLiteLedger) CacheStats(ctx context.Context, stats model.EnrichmentStats) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO stats_cache (id, total_count, enriched_count, unenriched_count, no_email_count, percent_complete, list_id, cached_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT (id) DO UPDATE SET
		   total_count = excluded.total_count,
		   enriched_count = excluded.enriched_count,
		   unenriched_count = excluded.unenriched_count,
		   no_email_count = excluded.no_email_count,
		   percent_complete = excluded.percent_complete,
		   list_id = excluded.list_id,
		   cached_at = datetime('now')`,
		stats.TotalCount, stats.EnrichedCount, stats.UnenrichedCount, stats.NoEmailCount,
		stats.PercentComplete(), nullString(stats.ListID),
	)
	return eris.Wrap(err, "sqlite: cache stats")
}

func nullBytes(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}
