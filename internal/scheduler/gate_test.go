package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-enrichment/internal/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) DueSettings(ctx context.Context) (*model.SchedulerSettings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SchedulerSettings), args.Error(1)
}

func (m *mockStore) MarkRunStarting(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestGate_ShouldRunNow_Due(t *testing.T) {
	store := new(mockStore)
	next := time.Now().UTC().Add(-time.Minute)
	store.On("DueSettings", mock.Anything).Return(&model.SchedulerSettings{
		Enabled:         true,
		IntervalMinutes: 60,
		BatchSize:       10,
		NextRunAt:       &next,
	}, nil)

	g := NewGate(store)
	settings := g.ShouldRunNow(context.Background())
	require.NotNil(t, settings)
	assert.Equal(t, 10, settings.BatchSize)
	store.AssertExpectations(t)
}

func TestGate_ShouldRunNow_NotDue(t *testing.T) {
	store := new(mockStore)
	store.On("DueSettings", mock.Anything).Return(nil, nil)

	g := NewGate(store)
	assert.Nil(t, g.ShouldRunNow(context.Background()))
	store.AssertExpectations(t)
}

func TestGate_ShouldRunNow_StoreErrorFailsOpen(t *testing.T) {
	store := new(mockStore)
	store.On("DueSettings", mock.Anything).Return(nil, assert.AnError)

	g := NewGate(store)
	assert.Nil(t, g.ShouldRunNow(context.Background()))
	store.AssertExpectations(t)
}

func TestGate_MarkRunStarting(t *testing.T) {
	store := new(mockStore)
	store.On("MarkRunStarting", mock.Anything).Return(nil)

	g := NewGate(store)
	require.NoError(t, g.MarkRunStarting(context.Background()))
	store.AssertExpectations(t)
}

func TestGate_MarkRunStarting_Error(t *testing.T) {
	store := new(mockStore)
	store.On("MarkRunStarting", mock.Anything).Return(assert.AnError)

	g := NewGate(store)
	err := g.MarkRunStarting(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark run starting")
	store.AssertExpectations(t)
}
