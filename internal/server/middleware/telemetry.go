package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"warehouse-service/backend/internal/metrics"
)

// skipPaths are not logged or counted.
var skipPaths = map[string]bool{"/metrics": true, "/healthz": true}

// Observe logs each request and records it in m under its chi route pattern, so path
// parameters do not explode label cardinality.
func Observe(m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if skipPaths[r.URL.Path] {
				return
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			m.ObserveHTTP(r.Method, route, status, elapsed)
			logger.Info("request",
				"method", r.Method,
				"route", route,
				"status", status,
				"duration", elapsed.String(),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}
