package model

import (
	"time"
)

// Trigger identifies how a run was started.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// RunStatus represents the lifecycle state of an enrichment run.
// Runs start as running and end as completed or failed; terminal
// states never transition again.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// OutcomeStatus classifies the result of processing one contact.
type OutcomeStatus string

const (
	OutcomeEnriched OutcomeStatus = "enriched"
	OutcomeSkipped  OutcomeStatus = "skipped"
	OutcomeError    OutcomeStatus = "error"
)

// Skip and error reason codes recorded on outcomes.
const (
	ReasonAlreadyEnriched = "already_enriched"
	ReasonNoEmail         = "no_email"
	ReasonNoMatch         = "no_zoominfo_match"
	ReasonNoCompanyID     = "no_company_id"
	ReasonLimitExceeded   = "limit_exceeded"
)

// RunSummary holds the incremental counters for a run. Counters are
// only ever incremented, one contact at a time, so a crash mid-batch
// leaves them consistent with the outcomes recorded so far.
type RunSummary struct {
	Processed int `json:"processed"`
	Enriched  int `json:"enriched"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Add increments the counter matching the given outcome status,
// along with the processed total.
func (s *RunSummary) Add(status OutcomeStatus) {
	s.Processed++
	switch status {
	case OutcomeEnriched:
		s.Enriched++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Errors++
	}
}

// Consistent reports whether the per-status counters sum to the
// processed total.
func (s RunSummary) Consistent() bool {
	return s.Enriched+s.Skipped+s.Errors == s.Processed
}

// Run represents one execution of the batch enrichment workflow.
type Run struct {
	ID           string          `json:"id"`
	Trigger      Trigger         `json:"trigger"`
	Status       RunStatus       `json:"status"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	Summary      RunSummary      `json:"summary"`
	ErrorMessage string          `json:"error_message,omitempty"`
	NextCursor   string          `json:"next_cursor,omitempty"`
	Outcomes     []RecordOutcome `json:"contacts,omitempty"`
}

// Duration returns the elapsed run time, or zero if still running.
func (r Run) Duration() time.Duration {
	if r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// ValidationStatus is the verdict of the LinkedIn profile check.
type ValidationStatus string

const (
	ValidationMatch    ValidationStatus = "MATCH"
	ValidationMismatch ValidationStatus = "MISMATCH"
	ValidationSkipped  ValidationStatus = "SKIPPED"
	ValidationUnknown  ValidationStatus = "UNKNOWN"
)

// Validation holds the LinkedIn validation verdict for an enriched contact.
type Validation struct {
	Status ValidationStatus `json:"status"`
	Notes  string           `json:"notes,omitempty"`
}

// RecordOutcome is the result of processing a single contact within a run.
// Outcomes are append-only; exactly one exists per (run, contact) pair.
type RecordOutcome struct {
	RunID         string        `json:"run_id,omitempty"`
	ContactID     string        `json:"id"`
	Email         string        `json:"email"`
	Status        OutcomeStatus `json:"status"`
	Reason        string        `json:"reason,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	FieldsUpdated []string      `json:"fields_updated,omitempty"`
	Validation    *Validation   `json:"validation,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}
