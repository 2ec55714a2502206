package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"warehouse-service/backend/internal/server/middleware"
)

// ServiceName is the gRPC health service name reported alongside the overall "" status.
const ServiceName = "warehouse.sessions.v1.SessionService"

const checkTimeout = 2 * time.Second

// Pinger is used for readiness (e.g. the session repository).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker is used for readiness (e.g. the OPA conflict evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server reports readiness over HTTP (/healthz) and the standard gRPC health protocol.
// Either dependency may be nil, in which case its check is skipped.
type Server struct {
	pinger Pinger
	policy PolicyChecker
	grpc   *health.Server
	logger *slog.Logger
}

// NewServer returns a health Server.
func NewServer(pinger Pinger, policy PolicyChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pinger: pinger,
		policy: policy,
		grpc:   health.NewServer(),
		logger: logger.With("component", "health"),
	}
}

// Report is the result of one readiness check. Checks maps each dependency to "ok" or its error.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool { return r.Status == "ok" }

// Check runs the database and policy checks.
func (s *Server) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	rep := Report{Status: "ok", Checks: map[string]string{}}
	record := func(name string, err error) {
		if err != nil {
			rep.Status = "unavailable"
			rep.Checks[name] = err.Error()
			return
		}
		rep.Checks[name] = "ok"
	}
	if s.pinger != nil {
		record("database", s.pinger.Ping(ctx))
	}
	if s.policy != nil {
		record("policy", s.policy.HealthCheck(ctx))
	}
	return rep
}

// ServeHTTP serves the readiness report: 200 when healthy, 503 otherwise.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := s.Check(r.Context())
	status := http.StatusOK
	if !rep.Healthy() {
		status = http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, status, rep)
}

// Register registers the gRPC health service.
func (s *Server) Register(reg grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(reg, s.grpc)
}

// Refresh runs Check once and publishes the result as the gRPC serving status.
func (s *Server) Refresh(ctx context.Context) Report {
	rep := s.Check(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if !rep.Healthy() {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("readiness check failed", "checks", rep.Checks)
	}
	s.grpc.SetServingStatus("", st)
	s.grpc.SetServingStatus(ServiceName, st)
	return rep
}

// Run refreshes the gRPC serving status every interval until ctx is cancelled, then marks
// every service NOT_SERVING.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			s.grpc.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
