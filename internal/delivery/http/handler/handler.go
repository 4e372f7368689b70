package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/affiliate-ingest/internal/delivery/http/response"
	"github.com/user/affiliate-ingest/internal/entity"
	"github.com/user/affiliate-ingest/internal/repository"
	"github.com/user/affiliate-ingest/internal/usecase"
)

const (
	defaultResultLimit = 10
	maxResultLimit     = 100
	healthTimeout      = 2 * time.Second
)

// Check reports on one backing service for the health endpoint.
type Check func(ctx context.Context) error

type Handler struct {
	orch     usecase.Orchestrator
	registry repository.SourceRegistry
	results  repository.ResultStore
	checks   map[string]Check
	logger   *zap.Logger
	now      func() time.Time

	// background runs started with ?async=true
	bg      context.Context
	stopBg  context.CancelFunc
	mu      sync.Mutex
	closing bool
	running sync.WaitGroup
}

func NewHandler(
	orch usecase.Orchestrator,
	registry repository.SourceRegistry,
	results repository.ResultStore,
	checks map[string]Check,
	logger *zap.Logger,
) *Handler {
	bg, stop := context.WithCancel(context.Background())
	return &Handler{
		orch:     orch,
		registry: registry,
		results:  results,
		checks:   checks,
		logger:   logger,
		now:      time.Now,
		bg:       bg,
		stopBg:   stop,
	}
}

// Shutdown stops accepting background runs and waits for the ones in
// flight. When ctx expires first the remaining runs are cancelled and
// ctx's error is returned.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.stopBg()
		return nil
	case <-ctx.Done():
		h.stopBg()
		return ctx.Err()
	}
}

// background starts fn detached from the request. It reports false once
// Shutdown has begun.
func (h *Handler) background(fn func(ctx context.Context)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.running.Add(1)
	go func() {
		defer h.running.Done()
		fn(h.bg)
	}()
	return true
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := map[string]string{"status": "ok"}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status[name] = "unhealthy"
			healthy = false
			h.logger.Error("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		status[name] = "healthy"
	}
	if !healthy {
		status["status"] = "degraded"
		h.writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleListSources(w http.ResponseWriter, r *http.Request) {
	sources := h.registry.All()
	out := make([]response.SourceResponse, 0, len(sources))
	for _, src := range sources {
		out = append(out, response.NewSourceResponse(src))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// HandleIngestAll runs every source. With ?async=true the runs continue in
// the background and the request returns immediately.
func (h *Handler) HandleIngestAll(w http.ResponseWriter, r *http.Request) {
	if async(r) {
		ids := make([]string, 0)
		for _, src := range h.registry.All() {
			ids = append(ids, src.ID)
		}
		if !h.background(func(ctx context.Context) { h.orch.RunAll(ctx) }) {
			h.writeJSONError(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		h.writeJSON(w, http.StatusAccepted, response.AcceptedResponse{
			Message:  "ingestion started",
			Sources:  ids,
			Accepted: h.now(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, response.IngestResponse{Results: h.orch.RunAll(r.Context())})
}

// HandleIngestSource runs one source.
func (h *Handler) HandleIngestSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.registry.Get(id); !ok {
		h.writeJSONError(w, "source not found", http.StatusNotFound)
		return
	}

	if async(r) {
		if !h.background(func(ctx context.Context) { h.orch.FetchAndIngest(ctx, id) }) {
			h.writeJSONError(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		h.writeJSON(w, http.StatusAccepted, response.AcceptedResponse{
			Message:  "ingestion started",
			Sources:  []string{id},
			Accepted: h.now(),
		})
		return
	}

	result := h.orch.FetchAndIngest(r.Context(), id)
	code := http.StatusOK
	if result.ErrorType == entity.ErrorType(entity.ErrAttemptInProgress) {
		code = http.StatusConflict
	}
	h.writeJSON(w, code, response.IngestResponse{Results: []entity.IngestionResult{result}})
}

func (h *Handler) HandleListResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.registry.Get(id); !ok {
		h.writeJSONError(w, "source not found", http.StatusNotFound)
		return
	}

	limit := defaultResultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxResultLimit)
	}

	results, err := h.results.Recent(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("failed to read results", zap.String("source", id), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []entity.IngestionResult{}
	}
	h.writeJSON(w, http.StatusOK, response.ResultsResponse{SourceID: id, Results: results})
}

func async(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	return v
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
