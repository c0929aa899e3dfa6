package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/ledger"
	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/internal/scheduler"
)

// Options holds the orchestrator's static configuration.
type Options struct {
	// ListID is the CRM list to enrich.
	ListID string
	// DefaultBatchSize applies to manual runs; scheduled runs use the
	// scheduler's configured batch size.
	DefaultBatchSize int
	// RecordDelay is the pacing pause between consecutive records.
	RecordDelay time.Duration
}

// Result is the structured summary every invocation returns.
type Result struct {
	RunID      string           `json:"run_id,omitempty"`
	Skipped    bool             `json:"skipped,omitempty"`
	Summary    model.RunSummary `json:"summary"`
	NextCursor string           `json:"next_cursor,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// Runner drives one enrichment invocation end to end.
type Runner struct {
	store     ledger.Ledger
	gate      *scheduler.Gate
	source    BatchSource
	processor RecordProcessor
	stats     *Stats
	opts      Options
}

func NewRunner(store ledger.Ledger, gate *scheduler.Gate, source BatchSource, processor RecordProcessor, stats *Stats, opts Options) *Runner {
	return &Runner{
		store:     store,
		gate:      gate,
		source:    source,
		processor: processor,
		stats:     stats,
		opts:      opts,
	}
}

// Run executes one invocation. A scheduled trigger that is not due
// returns a skipped Result without opening a run. A run already in
// flight returns ledger.ErrRunActive so callers can report the conflict
// distinctly from a failure.
func (r *Runner) Run(ctx context.Context, trigger model.Trigger) (*Result, error) {
	batchSize := r.opts.DefaultBatchSize

	if trigger == model.TriggerScheduled {
		settings := r.gate.ShouldRunNow(ctx)
		if settings == nil {
			zap.L().Info("orchestrator: schedule not due, skipping")
			return &Result{Skipped: true, Message: "schedule not due"}, nil
		}
		batchSize = settings.BatchSize
		// Anchor the next due time before any work so the cadence does
		// not drift with run duration.
		if err := r.gate.MarkRunStarting(ctx); err != nil {
			zap.L().Warn("orchestrator: could not persist schedule timing", zap.Error(err))
		}
	}

	current, err := r.store.CurrentRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: check current run")
	}
	if current != nil {
		zap.L().Warn("orchestrator: run already active", zap.String("run_id", current.ID))
		return nil, ledger.ErrRunActive
	}

	run, err := r.store.OpenRun(ctx, trigger)
	if err != nil {
		if errors.Is(err, ledger.ErrRunActive) {
			return nil, err
		}
		return nil, eris.Wrap(err, "orchestrator: open run")
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("trigger", string(trigger)))
	log.Info("orchestrator: run started", zap.Int("batch_size", batchSize))

	result, err := r.execute(ctx, run.ID, batchSize)
	if err != nil {
		// The invocation still reports a structured failure; the run row
		// carries the message.
		if failErr := r.store.FailRun(ctx, run.ID, err.Error()); failErr != nil && !errors.Is(failErr, ledger.ErrNotRunning) {
			log.Error("orchestrator: could not mark run failed", zap.Error(failErr))
		}
		log.Error("orchestrator: run failed", zap.Error(err))
		return nil, err
	}

	result.RunID = run.ID
	log.Info("orchestrator: run finished",
		zap.Int("processed", result.Summary.Processed),
		zap.Int("enriched", result.Summary.Enriched),
		zap.Int("skipped", result.Summary.Skipped),
		zap.Int("errors", result.Summary.Errors),
	)

	if _, err := r.stats.Refresh(ctx); err != nil {
		log.Warn("orchestrator: stats refresh failed", zap.Error(err))
	}
	return result, nil
}

func (r *Runner) execute(ctx context.Context, runID string, batchSize int) (*Result, error) {
	contacts, nextCursor, err := r.source.GetBatch(ctx, r.opts.ListID, batchSize, "")
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: fetch batch")
	}

	result := &Result{NextCursor: nextCursor}

	if len(contacts) == 0 {
		if err := r.closeRun(ctx, runID, nextCursor, result); err != nil {
			return nil, err
		}
		result.Message = "no eligible contacts"
		return result, nil
	}

	for i, contact := range contacts {
		outcome := r.processor.Process(ctx, contact)
		result.Summary.Add(outcome.Status)

		if err := r.store.RecordOutcome(ctx, runID, outcome); err != nil {
			zap.L().Warn("orchestrator: outcome not recorded",
				zap.String("run_id", runID),
				zap.String("contact_id", outcome.ContactID),
				zap.Error(err))
		}

		if outcome.Reason == model.ReasonLimitExceeded {
			zap.L().Warn("orchestrator: halting batch, provider limit exceeded",
				zap.String("run_id", runID),
				zap.Int("remaining", len(contacts)-i-1))
			break
		}

		if i < len(contacts)-1 && r.opts.RecordDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, eris.Wrap(ctx.Err(), "orchestrator: cancelled between records")
			case <-time.After(r.opts.RecordDelay):
			}
		}
	}

	if err := r.closeRun(ctx, runID, nextCursor, result); err != nil {
		return nil, err
	}
	return result, nil
}

// closeRun completes the run. A run stopped by an operator mid-flight
// is already terminal; that is reported in the result, not as an error.
func (r *Runner) closeRun(ctx context.Context, runID, nextCursor string, result *Result) error {
	err := r.store.CloseRun(ctx, runID, nextCursor)
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrNotRunning) {
		zap.L().Warn("orchestrator: run was stopped externally", zap.String("run_id", runID))
		result.Message = "run stopped externally"
		return nil
	}
	return eris.Wrap(err, "orchestrator: close run")
}
