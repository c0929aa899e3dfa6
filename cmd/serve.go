package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/enrich"
	"github.com/sells-group/contact-enrichment/internal/ledger"
	"github.com/sells-group/contact-enrichment/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		deps := apiDeps{
			Store:             e.Store,
			Runner:            e.Runner,
			Stats:             e.Stats,
			DashboardPassword: cfg.Server.DashboardPassword,
			CronSecret:        cfg.Server.CronSecret,
		}

		// Optional in-process ticker so deployments without an external
		// cron still get scheduled runs. The gate makes extra ticks cheap.
		if cfg.Server.EmbedScheduler {
			ticker := cron.New()
			_, err := ticker.AddFunc("@every 1m", func() {
				result, err := e.Runner.Run(ctx, model.TriggerScheduled)
				switch {
				case errors.Is(err, ledger.ErrRunActive):
				case err != nil:
					zap.L().Error("embedded scheduler run failed", zap.Error(err))
				case !result.Skipped:
					zap.L().Info("embedded scheduler run complete", zap.String("run_id", result.RunID))
				}
			})
			if err != nil {
				return eris.Wrap(err, "embedded scheduler")
			}
			ticker.Start()
			defer ticker.Stop()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// apiDeps carries everything the HTTP handlers need.
type apiDeps struct {
	Store             ledger.Ledger
	Runner            *enrich.Runner
	Stats             *enrich.Stats
	DashboardPassword string
	CronSecret        string
}

// newRouter builds the dashboard API. All /api routes except the cron
// hook require the dashboard password header; the cron hook has its own
// bearer secret.
func newRouter(d apiDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Dashboard-Password", "Authorization"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/cron", d.cronAuth(d.handleCron))

	r.Group(func(r chi.Router) {
		r.Use(d.dashboardAuth)

		r.Get("/api/runs", d.handleListRuns)
		r.Get("/api/runs/{id}", d.handleGetRun)
		r.Post("/api/runs/stop", d.handleStopRun)
		r.Post("/api/trigger", d.handleTrigger)
		r.Get("/api/scheduler", d.handleGetScheduler)
		r.Put("/api/scheduler", d.handlePutScheduler)
		r.Get("/api/stats", d.handleStats)
	})

	return r
}

func (d apiDeps) dashboardAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Dashboard-Password") != d.DashboardPassword {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d apiDeps) cronAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if d.CronSecret == "" || token != d.CronSecret {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (d apiDeps) handleCron(w http.ResponseWriter, r *http.Request) {
	result, err := d.Runner.Run(r.Context(), model.TriggerScheduled)
	if err != nil {
		if errors.Is(err, ledger.ErrRunActive) {
			writeError(w, http.StatusConflict, "a run is already in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d apiDeps) handleTrigger(w http.ResponseWriter, r *http.Request) {
	result, err := d.Runner.Run(r.Context(), model.TriggerManual)
	if err != nil {
		if errors.Is(err, ledger.ErrRunActive) {
			writeError(w, http.StatusConflict, "a run is already in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d apiDeps) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	runs, err := d.Store.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (d apiDeps) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := d.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ledger.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (d apiDeps) handleStopRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body means "stop current"
	}

	runID := req.RunID
	if runID == "" {
		current, err := d.Store.CurrentRun(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if current == nil {
			writeError(w, http.StatusNotFound, "no run in progress")
			return
		}
		runID = current.ID
	}

	if err := d.Store.FailRun(r.Context(), runID, "stopped by operator"); err != nil {
		if errors.Is(err, ledger.ErrNotRunning) {
			writeError(w, http.StatusConflict, "run is not running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "run_id": runID})
}

func (d apiDeps) handleGetScheduler(w http.ResponseWriter, r *http.Request) {
	settings, err := d.Store.SchedulerSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (d apiDeps) handlePutScheduler(w http.ResponseWriter, r *http.Request) {
	var update model.SchedulerUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := update.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	settings, err := d.Store.UpdateSchedulerSettings(r.Context(), update)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (d apiDeps) handleStats(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "full"
	snap, err := d.Stats.Get(r.Context(), force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The dashboard renders progress alongside run state, so both ride
	// in one payload.
	lastRuns, err := d.Store.RecentRuns(r.Context(), 1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	current, err := d.Store.CurrentRun(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload := map[string]any{"stats": snap, "current_run": current}
	if len(lastRuns) > 0 {
		payload["last_run"] = lastRuns[0]
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
