package http

import (
	"net/http"
	"time"

	"github.com/rideops/console/pkg/httpx"
)

func (r *Router) registerSystem() {
	r.handle("GET /livez", r.handleLivez)
	r.handle("GET /readyz", r.handleReadyz)
}

func (r *Router) handleLivez(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        r.buildVersion,
		"uptime_seconds": int(time.Since(r.startTime).Seconds()),
	})
}

func (r *Router) handleReadyz(w http.ResponseWriter, req *http.Request) {
	if r.Readiness != nil {
		if err := r.Readiness(req.Context()); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
			})
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
