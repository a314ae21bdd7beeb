package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/scan"
	"github.com/sells-group/athlete-monitor/internal/scheduler"
	"github.com/sells-group/athlete-monitor/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initMonitor(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		a := &api{ctx: ctx, store: env.Store, scans: env.Coordinator}
		if cfg.Scheduler.Enabled {
			sched := env.newScheduler()
			a.sched = sched
			go func() {
				if err := sched.Run(ctx); err != nil {
					zap.L().Error("scheduler failed", zap.Error(err))
				}
			}()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(a, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("scheduler", cfg.Scheduler.Enabled))
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

// scanService is the slice of the coordinator the API drives.
type scanService interface {
	Progress() scan.Progress
	SourceStates() map[string]string
	Start(in model.SubjectInput, trigger model.Trigger) (func(context.Context) (*scan.ScanResult, error), error)
}

type statusSource interface {
	Status() scheduler.Status
}

// api serves the HTTP surface. Scans started over HTTP run on ctx, not on
// the request context, so they outlive the 202 response.
type api struct {
	ctx   context.Context
	store store.Store
	scans scanService
	sched statusSource // nil when the scheduler is disabled
}

func newRouter(a *api, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.status)
		r.Post("/scans", a.startScan)
		r.Get("/subjects", a.listSubjects)
		r.Get("/subjects/{id}/report", a.subjectReport)
		r.Get("/subjects/{id}/alerts", a.subjectAlerts)
		r.Post("/alerts/{id}/read", a.markAlertRead)
		r.Delete("/alerts/{id}", a.dismissAlert)
	})
	return r
}

func (a *api) status(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"scan":    a.scans.Progress(),
		"sources": a.scans.SourceStates(),
	}
	if a.sched != nil {
		body["scheduler"] = a.sched.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *api) startScan(w http.ResponseWriter, r *http.Request) {
	var in model.SubjectInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	run, err := a.scans.Start(in, model.TriggerManual)
	if errors.Is(err, scan.ErrScanInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		zap.L().Error("api scan start failed", zap.String("subject", in.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start scan")
		return
	}

	go func() {
		res, err := run(a.ctx)
		if err != nil {
			zap.L().Error("api scan failed", zap.String("subject", in.Name), zap.Error(err))
			return
		}
		zap.L().Info("api scan complete",
			zap.String("subject", in.Name),
			zap.String("run_id", res.RunID),
			zap.Float64("image_index", res.ImageIndex.Score),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"subject": in.Name,
	})
}

func (a *api) listSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := a.store.ListSubjects(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (a *api) subjectReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subj, err := a.store.GetSubject(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	report, err := a.store.GetLatestReport(ctx, subj.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	intel, err := a.store.GetLastIntelligenceReport(ctx, subj.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	wk, err := a.store.GetLatestWeeklyReport(ctx, subj.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject":      subj,
		"report":       report,
		"intelligence": intel,
		"weekly":       wk,
	})
}

func (a *api) subjectAlerts(w http.ResponseWriter, r *http.Request) {
	filter := model.AlertFilter{
		SubjectID:        chi.URLParam(r, "id"),
		UnreadOnly:       r.URL.Query().Get("unread") == "true",
		IncludeDismissed: r.URL.Query().Get("dismissed") == "true",
		Limit:            50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	alerts, err := a.store.ListAlerts(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (a *api) markAlertRead(w http.ResponseWriter, r *http.Request) {
	if err := a.store.MarkAlertRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (a *api) dismissAlert(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DismissAlert(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("api store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
