package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/lostfound/internal/health"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	checkers []health.Named
	timeout  time.Duration
	now      func() time.Time
}

// HealthHandlersConfig configures the health check handlers. A nil checker
// marks a store that runs in memory.
type HealthHandlersConfig struct {
	DBChecker    health.Checker
	RedisChecker health.Checker
	Timeout      time.Duration
}

// NewHealthHandlers creates the probe handlers.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	return &HealthHandlers{
		checkers: []health.Named{
			{Name: "database", Checker: config.DBChecker},
			{Name: "redis", Checker: config.RedisChecker},
		},
		timeout: config.Timeout,
		now:     time.Now,
	}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health. The process is alive if it can respond.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /health/ready and returns 503 when a configured store
// does not answer.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	res := health.CheckAll(r.Context(), h.timeout, h.checkers)
	for name, err := range res.Errors {
		slog.WarnContext(r.Context(), "readiness check failed", "check", name, "error", err)
	}

	status, code := "healthy", http.StatusOK
	if !res.Healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, HealthResponse{
		Status:    status,
		Checks:    res.Checks,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}
