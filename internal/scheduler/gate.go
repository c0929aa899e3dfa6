// Package scheduler decides whether a cron-triggered invocation should
// run now, based on the persisted scheduler settings.
package scheduler

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// Store is the slice of the ledger the gate consults.
type Store interface {
	DueSettings(ctx context.Context) (*model.SchedulerSettings, error)
	MarkRunStarting(ctx context.Context) error
}

// Gate admits or skips scheduled invocations.
type Gate struct {
	store Store
}

func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// ShouldRunNow returns the active settings when the schedule is enabled
// and due, nil when the invocation should be skipped. A persistence
// failure also returns nil: cron invocations degrade to no-ops rather
// than crashing the handler.
func (g *Gate) ShouldRunNow(ctx context.Context) *model.SchedulerSettings {
	settings, err := g.store.DueSettings(ctx)
	if err != nil {
		zap.L().Warn("scheduler: due check failed, skipping invocation", zap.Error(err))
		return nil
	}
	return settings
}

// MarkRunStarting anchors the next due time to the moment the run is
// admitted, not to its completion, so long runs cannot dilate the
// cadence. Call it before any enrichment work begins.
func (g *Gate) MarkRunStarting(ctx context.Context) error {
	if err := g.store.MarkRunStarting(ctx); err != nil {
		return eris.Wrap(err, "scheduler: mark run starting")
	}
	return nil
}
