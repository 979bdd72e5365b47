package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rideops/console/pkg/idx"
)

// HTTPMiddleware logs each request and attaches a request-scoped logger to
// the request context. A request id is taken from X-Request-ID when the
// caller supplies one, otherwise generated.
func HTTPMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = idx.New().String()
			}

			logger := base.With(
				"req_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
			)

			next.ServeHTTP(sw, r.WithContext(WithContext(r.Context(), logger)))

			logger.Info("http_request",
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter

	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
