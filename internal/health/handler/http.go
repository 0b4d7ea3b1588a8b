// Package handler serves health probes for Kubernetes, load balancers, and CI.
package handler

import (
	"context"
	"net/http"
	"time"

	"telemetry-ingest-plane/internal/server/httpapi"
)

// Pinger reports whether one backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

const checkTimeout = 2 * time.Second

// Handler answers liveness and readiness probes. Liveness is unconditional;
// readiness pings every registered dependency.
type Handler struct {
	deps map[string]Pinger
}

// New returns a Handler checking the named dependencies on readiness.
func New(deps map[string]Pinger) *Handler {
	return &Handler{deps: deps}
}

// Live handles GET /health/live.
func (h *Handler) Live() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Ready handles GET /health/ready. Any failing dependency turns the response
// into a 503 naming which checks failed.
func (h *Handler) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		checks := make(map[string]string, len(h.deps))
		healthy := true
		for name, dep := range h.deps {
			if err := dep.Ping(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
				continue
			}
			checks[name] = "ok"
		}

		code := http.StatusOK
		status := "ok"
		if !healthy {
			code = http.StatusServiceUnavailable
			status = "degraded"
		}
		httpapi.WriteJSON(w, code, map[string]any{"status": status, "checks": checks})
	}
}
