// Package ledger persists run history, per-contact outcomes, scheduler
// settings, and cached progress stats. It is the single source of truth
// for "is a run active".
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// Sentinel errors surfaced by ledger implementations.
var (
	// ErrRunActive is returned by OpenRun when another run is still running.
	ErrRunActive = eris.New("ledger: a run is already active")
	// ErrNotRunning is returned when closing or failing a run that is
	// missing or already terminal.
	ErrNotRunning = eris.New("ledger: run not found or already terminal")
	// ErrRunNotFound is returned by GetRun for unknown run ids.
	ErrRunNotFound = eris.New("ledger: run not found")
)

// DefaultMaxRuns is the retention window: runs beyond the N most recent
// are evicted (outcomes cascade) when a new run opens.
const DefaultMaxRuns = 100

// Ledger defines the persistence operations for the enrichment run log.
type Ledger interface {
	// Runs
	OpenRun(ctx context.Context, trigger model.Trigger) (*model.Run, error)
	RecordOutcome(ctx context.Context, runID string, outcome model.RecordOutcome) error
	CloseRun(ctx context.Context, runID, nextCursor string) error
	FailRun(ctx context.Context, runID, message string) error
	CurrentRun(ctx context.Context) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	RecentRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Scheduler settings (singleton row)
	SchedulerSettings(ctx context.Context) (*model.SchedulerSettings, error)
	UpdateSchedulerSettings(ctx context.Context, update model.SchedulerUpdate) (*model.SchedulerSettings, error)
	DueSettings(ctx context.Context) (*model.SchedulerSettings, error)
	MarkRunStarting(ctx context.Context) error

	// Stats cache (singleton row)
	CachedStats(ctx context.Context) (*model.StatsSnapshot, error)
	CacheStats(ctx context.Context, stats model.EnrichmentStats) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// newRunID generates a globally-unique run identifier. The timestamp
// prefix keeps ids sortable; the random suffix guarantees uniqueness
// under concurrent starts.
func newRunID(now time.Time) string {
	return fmt.Sprintf("run_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}
