package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-enrichment/internal/enrich"
	"github.com/sells-group/contact-enrichment/internal/ledger"
	"github.com/sells-group/contact-enrichment/internal/scheduler"
	"github.com/sells-group/contact-enrichment/internal/validate"
	"github.com/sells-group/contact-enrichment/pkg/anthropic"
	"github.com/sells-group/contact-enrichment/pkg/hubspot"
	"github.com/sells-group/contact-enrichment/pkg/sheets"
	"github.com/sells-group/contact-enrichment/pkg/zoominfo"
)

// env bundles the ledger and collaborators shared by the commands.
type env struct {
	Store  ledger.Ledger
	Runner *enrich.Runner
	Stats  *enrich.Stats
}

func (e *env) Close() {
	_ = e.Store.Close()
}

// initLedger opens and migrates the configured run ledger.
func initLedger(ctx context.Context) (ledger.Ledger, error) {
	var (
		st  ledger.Ledger
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = ledger.NewPostgres(ctx, cfg.Store.DatabaseURL, ledger.WithRetention(cfg.Store.MaxRuns))
	case "sqlite":
		st, err = ledger.NewSQLite(cfg.Store.SQLitePath, ledger.WithSQLiteRetention(cfg.Store.MaxRuns))
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "init ledger")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate ledger")
	}
	return st, nil
}

// initEnv constructs the full enrichment environment for commands that
// execute runs or serve the dashboard.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initLedger(ctx)
	if err != nil {
		return nil, err
	}

	crm := hubspot.NewClient(cfg.HubSpot.Token, hubspot.WithBaseURL(cfg.HubSpot.BaseURL))
	provider := zoominfo.NewClient(ctx, zoominfo.Credentials{
		AccessToken:  cfg.ZoomInfo.AccessToken,
		RefreshToken: cfg.ZoomInfo.RefreshToken,
		ClientID:     cfg.ZoomInfo.ClientID,
		ClientSecret: cfg.ZoomInfo.ClientSecret,
		TokenURL:     cfg.ZoomInfo.TokenURL,
	}, zoominfo.WithBaseURL(cfg.ZoomInfo.BaseURL))

	// Validation and audit are both optional; unconfigured they no-op.
	var lm anthropic.Client
	if cfg.Anthropic.Key != "" {
		lm = anthropic.NewClient(cfg.Anthropic.Key)
	}
	validator := validate.New(lm, cfg.Anthropic.Model)
	audit := sheets.NewClient(ctx, sheets.Config{
		SpreadsheetID: cfg.Sheets.SpreadsheetID,
		SheetName:     cfg.Sheets.SheetName,
		ClientEmail:   cfg.Sheets.ClientEmail,
		PrivateKey:    cfg.Sheets.PrivateKey,
	})

	stats := enrich.NewStats(crm, st, cfg.HubSpot.ListID)
	runner := enrich.NewRunner(
		st,
		scheduler.NewGate(st),
		enrich.NewScanner(crm),
		enrich.NewProcessor(crm, provider, validator, audit),
		stats,
		enrich.Options{
			ListID:           cfg.HubSpot.ListID,
			DefaultBatchSize: cfg.Enrich.BatchSize,
			RecordDelay:      cfg.Enrich.RecordDelay(),
		},
	)

	return &env{Store: st, Runner: runner, Stats: stats}, nil
}
