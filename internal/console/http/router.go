// Package http exposes the session coordinator to the admin and partner
// portals. Every response uses the {data, error} envelope; handlers never
// panic or throw across this boundary.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rideops/console/internal/console/session"
	"github.com/rideops/console/pkg/httpx"
	"github.com/rideops/console/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	Coordinator *session.Coordinator

	// Readiness reports whether backing storage is reachable. Nil means
	// always ready.
	Readiness func(context.Context) error
}

func NewRouter(buildVersion string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSession()
	r.registerProfile()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// handle registers a route with per-route middleware applied inside the
// global chain.
func (r *Router) handle(pattern string, h http.HandlerFunc, mws ...httpx.Middleware) {
	r.Mux.Handle(pattern, httpx.Chain(h, mws...))
}
