package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/contact-enrichment/internal/ledger"
	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/pkg/hubspot"
)

// Stats serves enrichment-progress snapshots. Reads come from the
// ledger's cache; a refresh walks the whole CRM list, so concurrent
// refresh requests are collapsed into one flight.
type Stats struct {
	crm    hubspot.Client
	store  ledger.Ledger
	listID string
	group  singleflight.Group
}

func NewStats(crm hubspot.Client, store ledger.Ledger, listID string) *Stats {
	return &Stats{crm: crm, store: store, listID: listID}
}

// Get returns the cached snapshot, refreshing first when forced or when
// no snapshot exists yet.
func (s *Stats) Get(ctx context.Context, force bool) (*model.StatsSnapshot, error) {
	if !force {
		snap, err := s.store.CachedStats(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "stats: read cache")
		}
		if snap != nil {
			return snap, nil
		}
	}
	return s.Refresh(ctx)
}

// Refresh recounts the list and rewrites the cache.
func (s *Stats) Refresh(ctx context.Context) (*model.StatsSnapshot, error) {
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		listStats, err := s.crm.ListStats(ctx, s.listID)
		if err != nil {
			return nil, eris.Wrap(err, "stats: count list")
		}

		fresh := model.EnrichmentStats{
			TotalCount:      listStats.TotalCount,
			EnrichedCount:   listStats.EnrichedCount,
			UnenrichedCount: listStats.UnenrichedCount,
			NoEmailCount:    listStats.NoEmailCount,
			ListID:          s.listID,
		}
		if err := s.store.CacheStats(ctx, fresh); err != nil {
			return nil, eris.Wrap(err, "stats: write cache")
		}
		return &model.StatsSnapshot{
			EnrichmentStats: fresh,
			PercentDone:     fresh.PercentComplete(),
			CachedAt:        time.Now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.StatsSnapshot), nil
}
