package handler

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Pinger is anything whose reachability matters for readiness.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	logger *log.Logger
	checks map[string]Pinger
}

func NewHealthHandler(logger *log.Logger, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{logger: logger, checks: checks}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	code := http.StatusOK
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			h.logger.Printf("Health check %s failed: %v", name, err)
			status[name] = "down"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(h.logger, w, code, map[string]any{"status": http.StatusText(code), "checks": status})
}
