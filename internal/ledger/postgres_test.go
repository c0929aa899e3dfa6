package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// newMockPostgresLedger creates a PostgresLedger backed by pgxmock for unit testing.
func newMockPostgresLedger(t *testing.T) (*PostgresLedger, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	l := &PostgresLedger{pool: mock, maxRuns: DefaultMaxRuns}
	return l, mock
}

func TestPostgresLedger_OpenRun(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "manual", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM runs`).
		WithArgs(DefaultMaxRuns).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	run, err := l.OpenRun(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.Regexp(t, `^run_\d+_[0-9a-f-]{8}$`, run.ID)
	assert.Equal(t, model.TriggerManual, run.Trigger)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_OpenRun_Conflict(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "scheduled", "running", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	_, err := l.OpenRun(context.Background(), model.TriggerScheduled)
	require.ErrorIs(t, err, ErrRunActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_OpenRun_EvictionFailureIgnored(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "manual", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM runs`).
		WithArgs(DefaultMaxRuns).
		WillReturnError(assert.AnError)

	run, err := l.OpenRun(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_RecordOutcome(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO run_contacts`).
		WithArgs(pgxmock.AnyArg(), "run-1", "contact-1", "jane@acme.com", "enriched",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE runs SET`).
		WithArgs("enriched", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := l.RecordOutcome(context.Background(), "run-1", model.RecordOutcome{
		ContactID:     "contact-1",
		Email:         "jane@acme.com",
		Status:        model.OutcomeEnriched,
		FieldsUpdated: []string{"jobtitle", "phone"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_RecordOutcome_UnknownRun(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO run_contacts`).
		WithArgs(pgxmock.AnyArg(), "missing-run", "contact-1", "", "skipped",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE runs SET`).
		WithArgs("skipped", "missing-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := l.RecordOutcome(context.Background(), "missing-run", model.RecordOutcome{
		ContactID: "contact-1",
		Status:    model.OutcomeSkipped,
		Reason:    model.ReasonNoEmail,
	})
	require.ErrorIs(t, err, ErrRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_CloseRun_NotRunning(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectExec(`UPDATE runs SET status = 'completed'`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "run-done").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := l.CloseRun(context.Background(), "run-done", "")
	require.ErrorIs(t, err, ErrNotRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_FailRun_NotRunning(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectExec(`UPDATE runs SET status = 'failed'`).
		WithArgs(pgxmock.AnyArg(), "boom", "run-done").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := l.FailRun(context.Background(), "run-done", "boom")
	require.ErrorIs(t, err, ErrNotRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_CurrentRun_None(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectQuery(`FROM runs WHERE status = 'running'`).
		WillReturnError(pgx.ErrNoRows)

	run, err := l.CurrentRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_GetRun_NotFound(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectQuery(`FROM runs WHERE id`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := l.GetRun(context.Background(), "nonexistent")
	require.ErrorIs(t, err, ErrRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_GetRun_WithOutcomes(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	started := time.Now().UTC().Add(-time.Minute)
	ended := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE id`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "trigger", "status", "start_time", "end_time",
			"processed", "enriched", "skipped", "errors", "error_message", "next_cursor",
		}).AddRow(
			"run-1", model.TriggerScheduled, model.RunStatusCompleted, started, &ended,
			2, 1, 1, 0, (*string)(nil), (*string)(nil),
		))
	mock.ExpectQuery(`FROM run_contacts WHERE run_id`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"contact_id", "email", "status", "reason", "error_message",
			"fields_updated", "validation", "processed_at",
		}).AddRow(
			"c1", "jane@acme.com", model.OutcomeEnriched, (*string)(nil), (*string)(nil),
			[]byte(`["jobtitle"]`), []byte(`{"status":"MATCH"}`), started,
		).AddRow(
			"c2", "", model.OutcomeSkipped, strPtr(model.ReasonNoEmail), (*string)(nil),
			[]byte(`[]`), []byte(nil), ended,
		))

	run, err := l.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.True(t, run.Summary.Consistent())
	require.Len(t, run.Outcomes, 2)
	assert.Equal(t, []string{"jobtitle"}, run.Outcomes[0].FieldsUpdated)
	require.NotNil(t, run.Outcomes[0].Validation)
	assert.Equal(t, model.ValidationMatch, run.Outcomes[0].Validation.Status)
	assert.Equal(t, model.ReasonNoEmail, run.Outcomes[1].Reason)
	assert.Nil(t, run.Outcomes[1].Validation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_UpdateSchedulerSettings_Invalid(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	_, err := l.UpdateSchedulerSettings(context.Background(), model.SchedulerUpdate{
		Enabled:         true,
		IntervalMinutes: 5, // below the minimum
		BatchSize:       10,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval_minutes")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_UpdateSchedulerSettings(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	now := time.Now().UTC()
	next := now.Add(30 * time.Minute)
	mock.ExpectQuery(`UPDATE scheduler_settings SET`).
		WithArgs(true, 30, 25, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"enabled", "interval_minutes", "batch_size", "last_run_at", "next_run_at", "updated_at",
		}).AddRow(true, 30, 25, (*time.Time)(nil), &next, now))

	s, err := l.UpdateSchedulerSettings(context.Background(), model.SchedulerUpdate{
		Enabled:         true,
		IntervalMinutes: 30,
		BatchSize:       25,
	})
	require.NoError(t, err)
	assert.True(t, s.Enabled)
	assert.Equal(t, 30, s.IntervalMinutes)
	require.NotNil(t, s.NextRunAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_DueSettings_NotDue(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectQuery(`FROM scheduler_settings`).
		WillReturnError(pgx.ErrNoRows)

	s, err := l.DueSettings(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_CacheStats_Upsert(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs(200, 50, 150, 10, 25.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := l.CacheStats(context.Background(), model.EnrichmentStats{
		TotalCount:      200,
		EnrichedCount:   50,
		UnenrichedCount: 150,
		NoEmailCount:    10,
		ListID:          "151",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }
