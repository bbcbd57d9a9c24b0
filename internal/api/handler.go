package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Read-side cache keys. Every key is dropped when a run mutates the
// underlying records.
const (
	cacheKeyEntities = "entities"
	cacheKeyClusters = "clusters"
	cacheKeyAlerts   = "alerts"
	cacheKeyMetrics  = "metrics"

	cacheTTL = 5 * time.Minute
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	pipeline *pipeline.Service
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, svc *pipeline.Service, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		pipeline: svc,
		version:  version,
	}
}

// RunRequest is the request body for POST /generate, POST /train, and
// POST /runs.
type RunRequest struct {
	Action string `json:"action,omitempty"` // POST /runs only
	Mode   string `json:"mode"`
	Seed   *int64 `json:"seed,omitempty"`
}

func (h *Handler) decodeRunRequest(r *http.Request, defaultSeed int64) (RunRequest, error) {
	req := RunRequest{Mode: domain.ModeDemo}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.New("invalid JSON request body")
		}
	}
	if req.Mode == "" {
		req.Mode = domain.ModeDemo
	}
	if req.Mode != domain.ModeDemo && req.Mode != domain.ModeFull {
		return req, errors.New("mode must be \"demo\" or \"full\"")
	}
	if req.Seed == nil {
		req.Seed = &defaultSeed
	}
	return req, nil
}

// Generate handles POST /generate: build a synthetic dataset and replace
// the stored one.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRunRequest(r, time.Now().UnixNano())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	summary, err := h.pipeline.Generate(r.Context(), req.Mode, *req.Seed)
	if err != nil {
		slog.Error("dataset generation failed", "mode", req.Mode, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "dataset generation failed",
		})
		return
	}

	h.invalidateReadCache(r)
	writeJSON(w, http.StatusOK, summary)
}

// Train handles POST /train: run the full scoring pass synchronously.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRunRequest(r, time.Now().UnixNano())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	summary, err := h.pipeline.Train(r.Context(), req.Mode, *req.Seed)
	if err != nil {
		if errors.Is(err, domain.ErrNoData) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": domain.ErrNoData.Error(),
			})
			return
		}
		slog.Error("training run failed", "mode", req.Mode, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "training run failed",
		})
		return
	}

	h.invalidateReadCache(r)
	writeJSON(w, http.StatusOK, summary)
}

// EnqueueRun handles POST /runs: publish a run request for the async
// worker and return immediately.
func (h *Handler) EnqueueRun(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRunRequest(r, time.Now().UnixNano())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Action != worker.ActionGenerate && req.Action != worker.ActionTrain {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "action must be \"generate\" or \"train\"",
		})
		return
	}
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	payload, _ := json.Marshal(worker.RunRequest{
		Action: req.Action,
		Mode:   req.Mode,
		Seed:   *req.Seed,
	})
	if err := h.bus.Publish(r.Context(), domain.TopicRunRequested, payload); err != nil {
		slog.Error("failed to enqueue run", "action", req.Action, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to enqueue run",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"action": req.Action,
		"mode":   req.Mode,
	})
}

// ActiveRun handles GET /runs/active.
func (h *Handler) ActiveRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.repo.ActiveModelRun(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no active model run",
			})
			return
		}
		slog.Error("failed to load active run", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load active run",
		})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListEntities handles GET /entities.
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	if h.serveCached(w, r, cacheKeyEntities) {
		return
	}

	entities, err := h.repo.ListEntities(r.Context())
	if err != nil {
		slog.Error("failed to list entities", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list entities",
		})
		return
	}

	h.writeAndCache(w, r, cacheKeyEntities, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

// GetEntity handles GET /entities/{id}.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entity, err := h.repo.GetEntity(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "entity not found",
			})
			return
		}
		slog.Error("failed to get entity", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get entity",
		})
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, err := h.repo.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListClusters handles GET /clusters, ordered by score descending.
func (h *Handler) ListClusters(w http.ResponseWriter, r *http.Request) {
	if h.serveCached(w, r, cacheKeyClusters) {
		return
	}

	clusters, err := h.repo.ListClusters(r.Context())
	if err != nil {
		slog.Error("failed to list clusters", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list clusters",
		})
		return
	}

	h.writeAndCache(w, r, cacheKeyClusters, map[string]any{
		"clusters": clusters,
		"count":    len(clusters),
	})
}

// ListAlerts handles GET /alerts, ordered by score descending.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.serveCached(w, r, cacheKeyAlerts) {
		return
	}

	alerts, err := h.repo.ListAlerts(r.Context())
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	h.writeAndCache(w, r, cacheKeyAlerts, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.loadAlert(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// GetAlertNarrative handles GET /alerts/{id}/narrative.
func (h *Handler) GetAlertNarrative(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.loadAlert(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"alertId":   alert.ID,
		"entityId":  alert.EntityID,
		"narrative": alert.Narrative,
	})
}

func (h *Handler) loadAlert(w http.ResponseWriter, r *http.Request) (*domain.Alert, bool) {
	id := chi.URLParam(r, "id")
	alert, err := h.repo.GetAlert(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return nil, false
		}
		slog.Error("failed to get alert", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get alert",
		})
		return nil, false
	}
	return alert, true
}

// GetMetrics handles GET /metrics: the active run's model comparison.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.serveCached(w, r, cacheKeyMetrics) {
		return
	}

	run, err := h.repo.ActiveModelRun(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no active model run; train a model first",
			})
			return
		}
		slog.Error("failed to load metrics", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load metrics",
		})
		return
	}

	h.writeAndCache(w, r, cacheKeyMetrics, map[string]any{
		"runId":     run.ID,
		"mode":      run.Mode,
		"createdAt": run.CreatedAt,
		"metrics":   run.Metrics,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// serveCached writes a cached response body when one is present.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string) bool {
	if h.cache == nil {
		return false
	}
	body, err := h.cache.Get(r.Context(), key)
	if err != nil || body == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
	return true
}

// writeAndCache serializes once, caching the exact bytes served.
func (h *Handler) writeAndCache(w http.ResponseWriter, r *http.Request, key string, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode response",
		})
		return
	}
	if h.cache != nil {
		if err := h.cache.Set(r.Context(), key, body, cacheTTL); err != nil {
			slog.Warn("failed to cache response", "key", key, "error", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (h *Handler) invalidateReadCache(r *http.Request) {
	if h.cache == nil {
		return
	}
	for _, key := range []string{cacheKeyEntities, cacheKeyClusters, cacheKeyAlerts, cacheKeyMetrics} {
		if err := h.cache.Delete(r.Context(), key); err != nil {
			slog.Warn("failed to invalidate cache", "key", key, "error", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
