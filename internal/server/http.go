package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	healthhandler "warehouse-service/backend/internal/health/handler"
	"warehouse-service/backend/internal/metrics"
	"warehouse-service/backend/internal/server/middleware"
	sessionhandler "warehouse-service/backend/internal/session/handler"
	"warehouse-service/backend/internal/session/service"
)

// HTTPDeps holds the dependencies of the HTTP API.
type HTTPDeps struct {
	Sessions *sessionhandler.Handler
	Issuer   *service.Issuer
	Guard    *service.Guard
	Cookies  middleware.Cookies
	// Health serves /healthz. If nil, the route is not mounted.
	Health *healthhandler.Server
	// Metrics serves /metrics and records request metrics. May be nil.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewRouter returns the HTTP API router.
func NewRouter(deps HTTPDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.ClientIPContext)
	r.Use(middleware.Observe(deps.Metrics, logger))

	if deps.Health != nil {
		r.Method(http.MethodGet, "/healthz", deps.Health)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	gate := middleware.SessionGate(deps.Issuer, deps.Guard, deps.Cookies, logger)
	r.Route("/v1/sessions", func(r chi.Router) {
		deps.Sessions.Routes(r, gate)
	})
	return r
}
