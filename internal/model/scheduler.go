package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Scheduler bounds. Interval is capped at 24 hours; batch size at the
// CRM batch-read limit.
const (
	MinIntervalMinutes = 15
	MaxIntervalMinutes = 1440
	MinBatchSize       = 1
	MaxBatchSize       = 100
)

// SchedulerSettings is the singleton scheduler configuration row.
// NextRunAt is always LastRunAt + IntervalMinutes once a run has been
// admitted; nil before the first run.
type SchedulerSettings struct {
	Enabled         bool       `json:"enabled"`
	IntervalMinutes int        `json:"interval_minutes"`
	BatchSize       int        `json:"batch_size"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SchedulerUpdate is an operator-submitted settings change.
type SchedulerUpdate struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"interval_minutes"`
	BatchSize       int  `json:"batch_size"`
}

// Validate checks the update against the allowed bounds. The prior
// settings are left untouched when validation fails.
func (u SchedulerUpdate) Validate() error {
	if u.IntervalMinutes < MinIntervalMinutes || u.IntervalMinutes > MaxIntervalMinutes {
		return eris.Errorf("interval_minutes must be between %d and %d", MinIntervalMinutes, MaxIntervalMinutes)
	}
	if u.BatchSize < MinBatchSize || u.BatchSize > MaxBatchSize {
		return eris.Errorf("batch_size must be between %d and %d", MinBatchSize, MaxBatchSize)
	}
	return nil
}

// EnrichmentStats is a fresh progress count scanned from the CRM list.
type EnrichmentStats struct {
	TotalCount      int    `json:"total_count"`
	EnrichedCount   int    `json:"enriched_count"`
	UnenrichedCount int    `json:"unenriched_count"`
	NoEmailCount    int    `json:"no_email_count,omitempty"`
	ListID          string `json:"list_id"`
}

// PercentComplete returns enrichment progress as a percentage.
func (s EnrichmentStats) PercentComplete() float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return float64(s.EnrichedCount) / float64(s.TotalCount) * 100
}

// StatsSnapshot is the cached copy of EnrichmentStats with its age.
// Consumers tolerate staleness; the cache is refreshed best-effort
// after each run.
type StatsSnapshot struct {
	EnrichmentStats
	PercentDone float64   `json:"percent_complete"`
	CachedAt    time.Time `json:"cached_at"`
}
