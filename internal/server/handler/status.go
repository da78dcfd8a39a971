package handler

import (
	"log/slog"
	"net/http"

	"github.com/hexlane/dexarb/internal/domain"
	"github.com/hexlane/dexarb/internal/orchestrator"
)

// StatusHandler serves engine counters, cache freshness, endpoint health
// and the breaker reset hook.
type StatusHandler struct {
	cache     domain.PoolCache
	stats     *orchestrator.Stats
	endpoints func() []domain.Endpoint
	breaker   interface{ Reset() }
	logger    *slog.Logger
}

// NewStatusHandler wires the status surfaces. endpoints and breaker may be
// nil in monitor mode.
func NewStatusHandler(cache domain.PoolCache, stats *orchestrator.Stats, endpoints func() []domain.Endpoint, breaker interface{ Reset() }, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		cache:     cache,
		stats:     stats,
		endpoints: endpoints,
		breaker:   breaker,
		logger:    logger.With(slog.String("handler", "status")),
	}
}

// CacheStatus reports entry counts and freshness per namespace.
// GET /api/cache/status
func (h *StatusHandler) CacheStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.cache.Status(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "cache status failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cache status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": statuses})
}

// EngineStats reports the orchestrator counters.
// GET /api/stats
func (h *StatusHandler) EngineStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

type endpointView struct {
	URL                 string  `json:"url"`
	Priority            int     `json:"priority"`
	HealthScore         float64 `json:"health_score"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

// Endpoints reports RPC endpoint health scores.
// GET /api/endpoints
func (h *StatusHandler) Endpoints(w http.ResponseWriter, r *http.Request) {
	if h.endpoints == nil {
		writeJSON(w, http.StatusOK, map[string]any{"endpoints": []endpointView{}})
		return
	}
	eps := h.endpoints()
	views := make([]endpointView, 0, len(eps))
	for _, ep := range eps {
		views = append(views, endpointView{
			URL:                 ep.URL,
			Priority:            ep.Priority,
			HealthScore:         ep.HealthScore,
			ConsecutiveFailures: ep.ConsecutiveFailures,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": views})
}

// ResetBreaker closes the circuit breaker by operator request.
// POST /api/breaker/reset
func (h *StatusHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	if h.breaker == nil {
		writeError(w, http.StatusConflict, "no breaker in this mode")
		return
	}
	h.breaker.Reset()
	h.logger.InfoContext(r.Context(), "circuit breaker reset by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
