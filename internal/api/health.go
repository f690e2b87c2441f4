package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 5 * time.Second

// HealthChecker is implemented by dependencies that can report readiness,
// such as the catalogue client and the redis cache.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	checks  map[string]HealthChecker
	started time.Time
	logger  *zap.Logger
}

func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  make(map[string]HealthChecker),
		started: time.Now(),
		logger:  logger,
	}
}

func (h *HealthHandler) Register(name string, checker HealthChecker) {
	h.checks[name] = checker
}

type componentHealth struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"}, h.logger)
}

// Readiness runs every registered check in parallel and reports 503 when any
// of them fails.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]componentHealth, len(h.checks))
		g       errgroup.Group
	)
	for name, checker := range h.checks {
		g.Go(func() error {
			ch := checkComponent(ctx, checker)
			mu.Lock()
			results[name] = ch
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status, overall := http.StatusOK, "healthy"
	for name, ch := range results {
		if ch.Status != "healthy" {
			status, overall = http.StatusServiceUnavailable, "degraded"
			h.logger.Warn("readiness check failed", zap.String("component", name), zap.String("error", ch.Error))
		}
	}

	writeJSON(w, status, map[string]any{
		"status":     overall,
		"components": results,
		"uptime":     time.Since(h.started).Round(time.Second).String(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}, h.logger)
}

func checkComponent(ctx context.Context, c HealthChecker) componentHealth {
	start := time.Now()
	err := c.HealthCheck(ctx)
	ch := componentHealth{Status: "healthy", Latency: time.Since(start).String()}
	if err != nil {
		ch.Status = "unhealthy"
		ch.Error = err.Error()
	}
	return ch
}
