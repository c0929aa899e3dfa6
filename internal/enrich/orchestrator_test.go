package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-enrichment/internal/ledger"
	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/internal/scheduler"
	"github.com/sells-group/contact-enrichment/pkg/hubspot"
	"github.com/sells-group/contact-enrichment/pkg/zoominfo"
)

type runnerFixture struct {
	runner    *Runner
	store     *mockLedger
	crm       *mockCRM
	provider  *mockProvider
	validator *mockValidator
	audit     *mockAudit
}

func newRunnerFixture() *runnerFixture {
	f := &runnerFixture{
		store:     new(mockLedger),
		crm:       new(mockCRM),
		provider:  new(mockProvider),
		validator: new(mockValidator),
		audit:     new(mockAudit),
	}
	f.runner = NewRunner(
		f.store,
		scheduler.NewGate(f.store),
		NewScanner(f.crm),
		NewProcessor(f.crm, f.provider, f.validator, f.audit),
		NewStats(f.crm, f.store, "151"),
		Options{ListID: "151", DefaultBatchSize: 10, RecordDelay: 0},
	)
	return f
}

func (f *runnerFixture) expectOpenRun(id string) {
	f.store.On("CurrentRun", mock.Anything).Return(nil, nil)
	f.store.On("OpenRun", mock.Anything, mock.Anything).Return(&model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		StartTime: time.Now().UTC(),
	}, nil)
}

func (f *runnerFixture) expectStatsRefresh() {
	f.crm.On("ListStats", mock.Anything, "151").
		Return(&hubspot.ListStats{TotalCount: 10, EnrichedCount: 5, UnenrichedCount: 5}, nil)
	f.store.On("CacheStats", mock.Anything, mock.Anything).Return(nil)
}

// Mirrors the canonical three-contact batch: one without a matching
// key, one with no provider match, one that enriches cleanly.
func TestRun_EndToEnd(t *testing.T) {
	f := newRunnerFixture()
	f.expectOpenRun("run-1")

	f.crm.On("ListMemberships", mock.Anything, "151", scanPageSize, "").
		Return(&hubspot.MembershipPage{ContactIDs: []string{"A", "B", "C"}}, nil)
	f.crm.On("BatchGetContacts", mock.Anything, []string{"A", "B", "C"}).
		Return([]hubspot.Contact{
			contact("A", "", ""),
			contact("B", "b@x.com", ""),
			contact("C", "c@x.com", ""),
		}, nil)

	// B: zero candidates, gets marked attempted.
	f.provider.On("SearchContact", mock.Anything, "b@x.com").Return([]zoominfo.Candidate{}, nil)
	f.crm.On("UpdateContact", mock.Anything, "B", markerUpdate()).Return(nil)

	// C: full enrichment with a validated LinkedIn profile.
	f.provider.On("SearchContact", mock.Anything, "c@x.com").
		Return([]zoominfo.Candidate{{PersonID: "9", CompanyID: "42"}}, nil)
	f.provider.On("EnrichContact", mock.Anything, mock.Anything).
		Return(&zoominfo.EnrichResult{Person: &zoominfo.Person{
			FirstName:   "Carol",
			JobTitle:    "CTO",
			LinkedInURL: "https://linkedin.com/in/carol",
		}}, nil)
	f.validator.On("Validate", mock.Anything, mock.Anything).
		Return(model.Validation{Status: model.ValidationMatch, Notes: "Confirmed"})
	f.crm.On("UpdateContact", mock.Anything, "C", mock.Anything).Return(nil)
	f.audit.On("AppendRow", mock.Anything, mock.Anything).Return(nil)

	f.store.On("RecordOutcome", mock.Anything, "run-1", mock.Anything).Return(nil).Times(3)
	f.store.On("CloseRun", mock.Anything, "run-1", "").Return(nil)
	f.expectStatsRefresh()

	result, err := f.runner.Run(context.Background(), model.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, model.RunSummary{Processed: 3, Enriched: 1, Skipped: 2, Errors: 0}, result.Summary)
	assert.True(t, result.Summary.Consistent())
	f.store.AssertExpectations(t)
}

func TestRun_ScheduledNotDue(t *testing.T) {
	f := newRunnerFixture()
	f.store.On("DueSettings", mock.Anything).Return(nil, nil)

	result, err := f.runner.Run(context.Background(), model.TriggerScheduled)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	f.store.AssertNotCalled(t, "OpenRun")
}

func TestRun_ScheduledDue_AnchorsTimingAndUsesConfiguredBatch(t *testing.T) {
	f := newRunnerFixture()
	f.store.On("DueSettings", mock.Anything).Return(&model.SchedulerSettings{
		Enabled:         true,
		IntervalMinutes: 60,
		BatchSize:       3,
	}, nil)
	f.store.On("MarkRunStarting", mock.Anything).Return(nil)
	f.expectOpenRun("run-2")

	// Scheduler batch size (3) caps the scan, not the manual default (10).
	f.crm.On("ListMemberships", mock.Anything, "151", scanPageSize, "").
		Return(&hubspot.MembershipPage{ContactIDs: []string{"1", "2", "3", "4"}}, nil)
	f.crm.On("BatchGetContacts", mock.Anything, []string{"1", "2", "3", "4"}).
		Return([]hubspot.Contact{
			contact("1", "", ""),
			contact("2", "", ""),
			contact("3", "", ""),
			contact("4", "", ""),
		}, nil)
	f.store.On("RecordOutcome", mock.Anything, "run-2", mock.Anything).Return(nil).Times(3)
	f.store.On("CloseRun", mock.Anything, "run-2", "").Return(nil)
	f.expectStatsRefresh()

	result, err := f.runner.Run(context.Background(), model.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Summary.Processed)
	f.store.AssertCalled(t, "MarkRunStarting", mock.Anything)
}

func TestRun_ConflictWhenRunActive(t *testing.T) {
	f := newRunnerFixture()
	f.store.On("CurrentRun", mock.Anything).Return(&model.Run{
		ID:     "run-live",
		Status: model.RunStatusRunning,
	}, nil)

	_, err := f.runner.Run(context.Background(), model.TriggerManual)
	require.ErrorIs(t, err, ledger.ErrRunActive)
	f.store.AssertNotCalled(t, "OpenRun")
}

func TestRun_ConflictFromOpenRun(t *testing.T) {
	f := newRunnerFixture()
	// The check passes but another invocation wins the insert.
	f.store.On("CurrentRun", mock.Anything).Return(nil, nil)
	f.store.On("OpenRun", mock.Anything, mock.Anything).Return(nil, ledger.ErrRunActive)

	_, err := f.runner.Run(context.Background(), model.TriggerManual)
	require.ErrorIs(t, err, ledger.ErrRunActive)
	f.store.AssertNotCalled(t, "FailRun")
}

func TestRun_NothingToDo(t *testing.T) {
	f := newRunnerFixture()
	f.expectOpenRun("run-3")
	f.crm.On("ListMemberships", mock.Anything, "151", scanPageSize, "").
		Return(&hubspot.MembershipPage{}, nil)
	f.store.On("CloseRun", mock.Anything, "run-3", "").Return(nil)
	f.expectStatsRefresh()

	result, err := f.runner.Run(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.Zero(t, result.Summary.Processed)
	assert.Equal(t, "no eligible contacts", result.Message)
	f.store.AssertCalled(t, "CloseRun", mock.Anything, "run-3", "")
}

func TestRun_LimitExceededHaltsBatch(t *testing.T) {
	f := newRunnerFixture()
	f.expectOpenRun("run-4")

	f.crm.On("ListMemberships", mock.Anything, "151", scanPageSize, "").
		Return(&hubspot.MembershipPage{ContactIDs: []string{"1", "2", "3"}}, nil)
	f.crm.On("BatchGetContacts", mock.Anything, []string{"1", "2", "3"}).
		Return([]hubspot.Contact{
			contact("1", "a@x.com", ""),
			contact("2", "b@x.com", ""),
			contact("3", "c@x.com", ""),
		}, nil)

	f.provider.On("SearchContact", mock.Anything, "a@x.com").
		Return([]zoominfo.Candidate{{PersonID: "8", CompanyID: "41"}}, nil)
	f.provider.On("EnrichContact", mock.Anything, mock.MatchedBy(func(req zoominfo.EnrichRequest) bool {
		return req.EmailAddress == "a@x.com"
	})).Return(&zoominfo.EnrichResult{Person: &zoominfo.Person{JobTitle: "CTO"}}, nil)
	f.validator.On("Validate", mock.Anything, mock.Anything).
		Return(model.Validation{Status: model.ValidationSkipped})
	f.crm.On("UpdateContact", mock.Anything, "1", mock.Anything).Return(nil)
	f.audit.On("AppendRow", mock.Anything, mock.Anything).Return(nil)

	// Record 2 exhausts the quota; record 3 must never be touched.
	f.provider.On("SearchContact", mock.Anything, "b@x.com").
		Return([]zoominfo.Candidate{{PersonID: "9", CompanyID: "42"}}, nil)
	f.provider.On("EnrichContact", mock.Anything, mock.MatchedBy(func(req zoominfo.EnrichRequest) bool {
		return req.EmailAddress == "b@x.com"
	})).Return(&zoominfo.EnrichResult{LimitExceeded: true}, nil)

	f.store.On("RecordOutcome", mock.Anything, "run-4", mock.Anything).Return(nil).Times(2)
	f.store.On("CloseRun", mock.Anything, "run-4", "").Return(nil)
	f.expectStatsRefresh()

	result, err := f.runner.Run(context.Background(), model.TriggerManual)
	require.NoError(t, err)

	// Quota exhaustion closes the run normally.
	assert.Equal(t, model.RunSummary{Processed: 2, Enriched: 1, Skipped: 0, Errors: 1}, result.Summary)
	f.provider.AssertNotCalled(t, "SearchContact", mock.Anything, "c@x.com")
	f.store.AssertExpectations(t)
}

func TestRun_ScannerFailureFailsRun(t *testing.T) {
	f := newRunnerFixture()
	f.expectOpenRun("run-5")
	f.crm.On("ListMemberships", mock.Anything, "151", scanPageSize, "").
		Return(nil, assert.AnError)
	f.store.On("FailRun", mock.Anything, "run-5", mock.Anything).Return(nil)

	_, err := f.runner.Run(context.Background(), model.TriggerManual)
	require.Error(t, err)
	f.store.AssertCalled(t, "FailRun", mock.Anything, "run-5", mock.Anything)
}

func TestRun_OutcomeRecordFailureDoesNotAbort(t *testing.T) {
	f := newRunnerFixture()
	f.expectOpenRun("run-6")
	f.crm.On("ListMemberships", mock.Anything, "151", scanPageSize, "").
		Return(&hubspot.MembershipPage{ContactIDs: []string{"1"}}, nil)
	f.crm.On("BatchGetContacts", mock.Anything, []string{"1"}).
		Return([]hubspot.Contact{contact("1", "", "")}, nil)
	f.store.On("RecordOutcome", mock.Anything, "run-6", mock.Anything).Return(assert.AnError)
	f.store.On("CloseRun", mock.Anything, "run-6", "").Return(nil)
	f.expectStatsRefresh()

	result, err := f.runner.Run(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.Processed)
}

func TestRun_StoppedExternally(t *testing.T) {
	f := newRunnerFixture()
	f.expectOpenRun("run-7")
	f.crm.On("ListMemberships", mock.Anything, "151", scanPageSize, "").
		Return(&hubspot.MembershipPage{ContactIDs: []string{"1"}}, nil)
	f.crm.On("BatchGetContacts", mock.Anything, []string{"1"}).
		Return([]hubspot.Contact{contact("1", "", "")}, nil)
	f.store.On("RecordOutcome", mock.Anything, "run-7", mock.Anything).Return(nil)
	// An operator stop already moved the run to failed.
	f.store.On("CloseRun", mock.Anything, "run-7", "").Return(ledger.ErrNotRunning)
	f.expectStatsRefresh()

	result, err := f.runner.Run(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, "run stopped externally", result.Message)
}

func TestRun_StatsRefreshFailureSwallowed(t *testing.T) {
	f := newRunnerFixture()
	f.expectOpenRun("run-8")
	f.crm.On("ListMemberships", mock.Anything, "151", scanPageSize, "").
		Return(&hubspot.MembershipPage{}, nil)
	f.store.On("CloseRun", mock.Anything, "run-8", "").Return(nil)
	f.crm.On("ListStats", mock.Anything, "151").Return(nil, assert.AnError)

	_, err := f.runner.Run(context.Background(), model.TriggerManual)
	require.NoError(t, err)
}
