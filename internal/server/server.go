// Package server exposes the control surface over HTTP: run lifecycle,
// enrichment cycles and record queries. The CLI remains the primary
// interface; this surface exists for dashboards and schedulers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/glarus-data/instrument-cli/internal/crawler"
	"github.com/glarus-data/instrument-cli/internal/enrich"
	"github.com/glarus-data/instrument-cli/internal/model"
	"github.com/glarus-data/instrument-cli/internal/store"
)

// Server wires the control surface handlers to their collaborators.
type Server struct {
	Store    store.Store
	Crawler  *crawler.Crawler
	Enricher *enrich.Driver

	// DefaultPrefixes seeds crawls started without explicit prefixes.
	DefaultPrefixes []string

	// DefaultBatchSize applies to enrichment cycles without an explicit
	// batch size.
	DefaultBatchSize int

	// crawlCtx parents the background crawl goroutines so they outlive
	// the originating request but not the server.
	crawlCtx context.Context
}

// Router builds the chi mux.
func (s *Server) Router() *chi.Mux {
	if s.crawlCtx == nil {
		s.crawlCtx = context.Background()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleStartRun)
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Post("/{id}/pause", s.transitionHandler(model.RunStatusPaused))
		r.Post("/{id}/resume", s.transitionHandler(model.RunStatusRunning))
		r.Post("/{id}/cancel", s.transitionHandler(model.RunStatusCancelled))
	})

	r.Route("/enrich", func(r chi.Router) {
		r.Post("/cycle", s.handleEnrichCycle)
		r.Post("/reset", s.handleEnrichReset)
	})

	r.Get("/instruments", s.handleListInstruments)

	return r
}

// Serve runs the control surface until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context, port int) error {
	s.crawlCtx = ctx

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string   `json:"name"`
		Prefixes []string `json:"prefixes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		req.Name = "crawl-" + time.Now().UTC().Format("20060102-150405")
	}
	prefixes := req.Prefixes
	if len(prefixes) == 0 {
		prefixes = s.DefaultPrefixes
	}

	run, err := s.Store.CreateRun(r.Context(), req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go func() {
		if err := s.Crawler.Run(s.crawlCtx, run.ID, prefixes); err != nil {
			zap.L().Error("crawl run failed",
				zap.String("run_id", run.ID),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	runs, err := s.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// transitionHandler returns a handler that moves a run to the target
// status, mapping state machine violations to 409.
func (s *Server) transitionHandler(target model.RunStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := s.Store.UpdateRunStatus(r.Context(), id, target)
		switch {
		case err == nil:
		case eris.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "run not found")
			return
		case eris.Is(err, store.ErrInvalidTransition), eris.Is(err, store.ErrConflict):
			writeError(w, http.StatusConflict, err.Error())
			return
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		run, err := s.Store.GetRun(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func (s *Server) handleEnrichCycle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchSize int `json:"batch_size"`
	}
	// An empty body is fine: defaults apply.
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.BatchSize <= 0 {
		req.BatchSize = s.DefaultBatchSize
	}

	result, err := s.Enricher.RunCycle(r.Context(), req.BatchSize)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEnrichReset(w http.ResponseWriter, r *http.Request) {
	if err := s.Enricher.ResetCheckpoint(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.InstrumentFilter{
		Issuer:      q.Get("issuer"),
		ProductType: q.Get("product_type"),
		ISIN:        q.Get("isin"),
		Limit:       queryInt(r, "limit", 0),
		Offset:      queryInt(r, "offset", 0),
	}

	items, err := s.Store.ListInstruments(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.Store.CountInstruments(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"items": items,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
