package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

// HealthHandler serves GET /healthz by running every registered probe.
type HealthHandler struct {
	mu      sync.RWMutex
	probes  map[string]Probe
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthHandler creates a HealthHandler. Each probe gets timeout.
func NewHealthHandler(timeout time.Duration, logger *zap.Logger) *HealthHandler {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &HealthHandler{probes: make(map[string]Probe), timeout: timeout, logger: logger}
}

// AddProbe registers a named dependency probe.
func (h *HealthHandler) AddProbe(name string, p Probe) {
	h.mu.Lock()
	h.probes[name] = p
	h.mu.Unlock()
}

// Healthz handles GET /healthz. It answers 503 when any probe fails.
func (h *HealthHandler) Healthz(c *gin.Context) {
	h.mu.RLock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		h.mu.RLock()
		probe := h.probes[name]
		h.mu.RUnlock()

		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		err := probe(ctx)
		cancel()
		if err != nil {
			healthy = false
			checks[name] = err.Error()
			h.logger.Warn("health probe failed", zap.String("probe", name), zap.Error(err))
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}
