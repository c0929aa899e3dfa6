package enrich

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/internal/validate"
	"github.com/sells-group/contact-enrichment/pkg/hubspot"
	"github.com/sells-group/contact-enrichment/pkg/sheets"
	"github.com/sells-group/contact-enrichment/pkg/zoominfo"
)

// --- HubSpot mock ---

type mockCRM struct {
	mock.Mock
}

func (m *mockCRM) ListMemberships(ctx context.Context, listID string, limit int, after string) (*hubspot.MembershipPage, error) {
	args := m.Called(ctx, listID, limit, after)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hubspot.MembershipPage), args.Error(1)
}

func (m *mockCRM) BatchGetContacts(ctx context.Context, ids []string) ([]hubspot.Contact, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]hubspot.Contact), args.Error(1)
}

func (m *mockCRM) UpdateContact(ctx context.Context, id string, properties map[string]string) error {
	args := m.Called(ctx, id, properties)
	return args.Error(0)
}

func (m *mockCRM) ListStats(ctx context.Context, listID string) (*hubspot.ListStats, error) {
	args := m.Called(ctx, listID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hubspot.ListStats), args.Error(1)
}

// --- ZoomInfo mock ---

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) SearchContact(ctx context.Context, email string) ([]zoominfo.Candidate, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]zoominfo.Candidate), args.Error(1)
}

func (m *mockProvider) EnrichContact(ctx context.Context, req zoominfo.EnrichRequest) (*zoominfo.EnrichResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*zoominfo.EnrichResult), args.Error(1)
}

// --- Validator mock ---

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *mockValidator) Validate(ctx context.Context, p validate.Profile) model.Validation {
	args := m.Called(ctx, p)
	return args.Get(0).(model.Validation)
}

// --- Audit mock ---

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *mockAudit) AppendRow(ctx context.Context, row sheets.Row) error {
	args := m.Called(ctx, row)
	return args.Error(0)
}

// --- Ledger mock ---

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) OpenRun(ctx context.Context, trigger model.Trigger) (*model.Run, error) {
	args := m.Called(ctx, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockLedger) RecordOutcome(ctx context.Context, runID string, outcome model.RecordOutcome) error {
	args := m.Called(ctx, runID, outcome)
	return args.Error(0)
}

func (m *mockLedger) CloseRun(ctx context.Context, runID, nextCursor string) error {
	args := m.Called(ctx, runID, nextCursor)
	return args.Error(0)
}

func (m *mockLedger) FailRun(ctx context.Context, runID, message string) error {
	args := m.Called(ctx, runID, message)
	return args.Error(0)
}

func (m *mockLedger) CurrentRun(ctx context.Context) (*model.Run, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockLedger) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockLedger) RecentRuns(ctx context.Context, limit int) ([]model.Run, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockLedger) SchedulerSettings(ctx context.Context) (*model.SchedulerSettings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SchedulerSettings), args.Error(1)
}

func (m *mockLedger) UpdateSchedulerSettings(ctx context.Context, update model.SchedulerUpdate) (*model.SchedulerSettings, error) {
	args := m.Called(ctx, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SchedulerSettings), args.Error(1)
}

func (m *mockLedger) DueSettings(ctx context.Context) (*model.SchedulerSettings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SchedulerSettings), args.Error(1)
}

func (m *mockLedger) MarkRunStarting(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockLedger) CachedStats(ctx context.Context) (*model.StatsSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StatsSnapshot), args.Error(1)
}

func (m *mockLedger) CacheStats(ctx context.Context, stats model.EnrichmentStats) error {
	return m.Called(ctx, stats).Error(0)
}

func (m *mockLedger) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockLedger) Close() error {
	return m.Called().Error(0)
}
