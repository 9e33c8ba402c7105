// Package admin serves the diagnostics API of the offline cache worker.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/internal/metrics"
)

// Worker is the part of the worker the admin API needs.
type Worker interface {
	Status() offlinecache.Status
	Generations() ([]string, error)
	Keys(generation string) ([]string, error)
	Update(ctx context.Context) (offlinecache.PrecacheReport, error)
}

// Router serves the admin API. Routes are relative to wherever it is mounted:
//   - GET  /status - worker state and current generation
//   - GET  /generations - stored generations with the worker's prefix
//   - GET  /generations/{name}/keys - entry keys of a generation
//   - POST /update - refresh the precache manifest in the background
//   - GET  /metrics - Prometheus metrics, if enabled
type Router struct {
	chi.Router
	worker  Worker
	updates sync.WaitGroup
	// bounds a background update
	updateTimeout time.Duration
}

type Options struct {
	Metrics       bool
	UpdateTimeout time.Duration
}

func NewRouter(worker Worker, opts Options) *Router {
	a := &Router{
		Router:        chi.NewRouter(),
		worker:        worker,
		updateTimeout: opts.UpdateTimeout,
	}
	if a.updateTimeout == 0 {
		a.updateTimeout = time.Minute
	}

	a.Use(middleware.RequestID)
	a.Use(requestLogger)
	a.Use(middleware.Recoverer)

	a.Get("/status", a.status)
	a.Get("/generations", a.generations)
	a.Get("/generations/{name}/keys", a.keys)
	a.Post("/update", a.update)
	if opts.Metrics {
		a.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	return a
}

// Wait blocks until background updates are done.
func (a *Router) Wait() {
	a.updates.Wait()
}

func (a *Router) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.worker.Status())
}

func (a *Router) generations(w http.ResponseWriter, r *http.Request) {
	names, err := a.worker.Generations()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"generations": names})
}

func (a *Router) keys(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	keys, err := a.worker.Keys(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"generation": name, "keys": keys})
}

// update runs in the background, the request context ends with the response.
func (a *Router) update(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	a.updates.Add(1)
	go func() {
		defer a.updates.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.updateTimeout)
		defer cancel()
		report, err := a.worker.Update(ctx)
		if err != nil {
			log.Error().Err(err).Str("requestId", reqID).Msg("Update failed")
			return
		}
		log.Info().Str("requestId", reqID).Strs("stored", report.Stored).Strs("failed", report.Failed).Msg("Update done")
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "updating"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Admin request")
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Could not encode admin response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
