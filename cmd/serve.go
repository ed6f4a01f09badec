package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfmetrics/rank-cli/internal/model"
	"github.com/shelfmetrics/rank-cli/internal/monitoring"
	"github.com/shelfmetrics/rank-cli/internal/pipeline"
	"github.com/shelfmetrics/rank-cli/internal/resilience"
	"github.com/shelfmetrics/rank-cli/internal/store"
)

var servePort int

// serveQueueDepth bounds how many accepted checks can wait for a worker.
const serveQueueDepth = 64

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the rank-check HTTP API",
	Long:  "Accepts rank checks over HTTP, scans them on background workers, and exposes run history, snapshots, and scan-health metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScan(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		// Background workers drain the check queue.
		queue := make(chan *model.Run, serveQueueDepth)
		workers := cfg.Batch.MaxConcurrentScans
		if workers < 1 {
			workers = 1
		}
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				serveWorker(ctx, env, queue)
			}()
		}

		// Scan-health checks run alongside the API.
		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		mux := buildMux(env, queue, cfg.Server.APIKey)
		port := resolvePort(servePort, cfg.Server.Port)

		err = startServer(ctx, mux, port)
		stop()
		wg.Wait()
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// serveWorker executes queued runs until ctx is cancelled. Each run gets its
// own session deadline; outcomes are persisted by the runner.
func serveWorker(ctx context.Context, env *scanEnv, queue <-chan *model.Run) {
	for {
		select {
		case <-ctx.Done():
			return
		case run := <-queue:
			log := zap.L().With(zap.String("run_id", run.ID))

			scanCtx, cancel := sessionTimeout(ctx)
			resp := env.Runner.ExecuteRun(scanCtx, run)
			cancel()

			if resp.Success {
				log.Info("scan complete",
					zap.Bool("found", resp.Data.Found()),
					zap.Int("pages_scanned", resp.Data.ScannedPages),
				)
			} else {
				log.Warn("scan failed", zap.String("code", string(resp.Error.Code)))
			}
		}
	}
}

// buildMux assembles the API router. A non-empty apiKey gates everything
// under /v1 behind bearer auth; /healthz stays open for probes.
func buildMux(env *scanEnv, queue chan<- *model.Run, apiKey string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		if apiKey != "" {
			r.Use(bearerAuth(apiKey))
		}
		r.Post("/checks", handleCreateCheck(env, queue))
		r.Get("/checks/{id}", handleGetCheck(env))
		r.Get("/runs", handleListRuns(env))
		r.Get("/snapshots", handleListSnapshots(env))
		r.Get("/metrics", handleMetrics(monitoring.NewCollector(env.Store)))
	})

	return r
}

// bearerAuth rejects requests that do not carry the expected bearer token.
func bearerAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+key {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkRequest is the POST /v1/checks body.
type checkRequest struct {
	Identifier   string `json:"identifier"`
	ASIN         string `json:"asin"` // accepted alias for identifier
	Keyword      string `json:"keyword"`
	OrganicOnly  bool   `json:"organic_only"`
	PromotedOnly bool   `json:"promoted_only"`
	Location     string `json:"location"`
}

func handleCreateCheck(env *scanEnv, queue chan<- *model.Run) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body checkRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Identifier == "" {
			body.Identifier = body.ASIN
		}
		if body.OrganicOnly && body.PromotedOnly {
			writeError(w, http.StatusBadRequest, "organic_only and promoted_only are mutually exclusive")
			return
		}

		req := model.Request{
			Identifier:     body.Identifier,
			Keyword:        body.Keyword,
			CheckOrganic:   !body.PromotedOnly,
			CheckPromoted:  !body.OrganicOnly,
			EnableLocation: body.Location != "",
			LocationHint:   body.Location,
		}
		if err := pipeline.NormalizeRequest(&req); err != nil {
			writeError(w, http.StatusBadRequest, resilience.AsFault(err).Error())
			return
		}

		run, err := env.Store.CreateRun(r.Context(), req)
		if err != nil {
			zap.L().Error("create run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "create run failed")
			return
		}

		select {
		case queue <- run:
		default:
			info := model.ErrorInfo{Code: model.ErrUnknown, Message: "scan queue full"}
			if ferr := env.Store.FailRun(r.Context(), run.ID, info, 0); ferr != nil {
				zap.L().Warn("fail run after full queue", zap.Error(ferr))
			}
			writeError(w, http.StatusServiceUnavailable, "scan queue is full, retry later")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id": run.ID,
			"status": string(run.Status),
		})
	}
}

func handleGetCheck(env *scanEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		run, err := env.Store.GetRun(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			zap.L().Error("get run failed", zap.String("run_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "get run failed")
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleListRuns(env *scanEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := store.RunFilter{
			Status:     model.RunStatus(q.Get("status")),
			Identifier: q.Get("identifier"),
			Keyword:    q.Get("keyword"),
			Limit:      queryInt(q.Get("limit"), 50),
			Offset:     queryInt(q.Get("offset"), 0),
		}
		if filter.Limit > 500 {
			filter.Limit = 500
		}
		if raw := q.Get("since"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "since must be RFC 3339")
				return
			}
			filter.CreatedAfter = t
		}

		runs, err := env.Store.ListRuns(r.Context(), filter)
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count": len(runs),
			"runs":  runs,
		})
	}
}

func handleListSnapshots(env *scanEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		identifier := q.Get("identifier")
		if identifier == "" {
			writeError(w, http.StatusBadRequest, "identifier is required")
			return
		}
		days := queryInt(q.Get("days"), 30)
		since := time.Now().UTC().AddDate(0, 0, -days)

		snaps, err := env.Store.ListSnapshots(r.Context(), identifier, since)
		if err != nil {
			zap.L().Error("list snapshots failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list snapshots failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":     len(snaps),
			"snapshots": snaps,
		})
	}
}

func handleMetrics(collector *monitoring.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours := queryInt(r.URL.Query().Get("hours"), 24)
		if hours < 1 {
			hours = 1
		}
		if hours > 168 {
			hours = 168
		}

		snap, err := collector.Collect(r.Context(), hours)
		if err != nil {
			zap.L().Error("collect metrics failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "collect metrics failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt parses a query parameter as an int, falling back on def.
func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// resolvePort prefers the flag value, then config.
func resolvePort(flag, cfgPort int) int {
	if flag != 0 {
		return flag
	}
	return cfgPort
}

// startServer runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}
