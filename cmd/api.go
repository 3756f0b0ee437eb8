package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/crossref-cli/internal/cache"
	"github.com/sells-group/crossref-cli/internal/catalog"
	"github.com/sells-group/crossref-cli/internal/model"
	"github.com/sells-group/crossref-cli/internal/monitoring"
	"github.com/sells-group/crossref-cli/internal/resilience"
	"github.com/sells-group/crossref-cli/internal/scheduler"
)

const maxRequestBytes = 10 << 20

// api serves single resolutions, batch jobs and cache maintenance over HTTP.
type api struct {
	resolver scheduler.Resolver
	catalog  catalog.Provider
	jobs     *scheduler.Scheduler
	cache    cache.Store
	guard    *resilience.Guard
	metrics  *monitoring.Collector
	lookback int
}

type submitJobRequest struct {
	Priority string                   `json:"priority"`
	Records  []model.CompetitorRecord `json:"records"`
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/resolve", a.resolve)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", a.submitJob)
			r.Get("/", a.listJobs)
			r.Get("/stats", a.jobStats)
			r.Get("/{id}", a.getJob)
			r.Delete("/{id}", a.cancelJob)
		})
		r.Get("/cache/stats", a.cacheStats)
		r.Post("/cache/sweep", a.cacheSweep)
		r.Get("/metrics", a.metricsSnapshot)
	})
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	breakers := map[string]string{}
	if a.guard != nil {
		for name, st := range a.guard.States() {
			breakers[name] = st.String()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "breakers": breakers})
}

func (a *api) resolve(w http.ResponseWriter, r *http.Request) {
	var comp model.CompetitorRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&comp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if comp.SKU == "" && comp.Model == "" {
		writeError(w, http.StatusBadRequest, "sku or model is required")
		return
	}

	records, err := a.catalog.Catalog(r.Context())
	if err != nil {
		zap.L().Error("api: load catalog", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}

	res, err := a.resolver.Resolve(r.Context(), comp, records)
	if err != nil {
		zap.L().Warn("api: resolve", zap.String("sku", comp.SKU), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "resolution interrupted")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	priority, err := scheduler.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, "priority must be low, normal or high")
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records are required")
		return
	}

	id, err := a.jobs.Submit(req.Records, priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": string(scheduler.StatusPending)})
}

func (a *api) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.jobs.Jobs())
}

func (a *api) jobStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.jobs.Stats())
}

func (a *api) getJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.jobs.Job(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := a.jobs.Job(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !a.jobs.Cancel(id) {
		writeError(w, http.StatusConflict, "job already "+string(snap.Status))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelling"})
}

func (a *api) cacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.cache.Stats(r.Context())
	if err != nil {
		zap.L().Error("api: cache stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache stats failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) cacheSweep(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	n, err := a.cache.Sweep(r.Context())
	if err != nil {
		zap.L().Error("api: cache sweep", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n, "elapsed_ms": time.Since(start).Milliseconds()})
}

func (a *api) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	if a.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	snap, err := a.metrics.Collect(r.Context(), a.lookback)
	if err != nil {
		zap.L().Error("api: collect metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "metrics collection failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
