package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	healthhandler "warehouse-service/backend/internal/health/handler"
)

// Deps holds optional service dependencies for the gRPC server.
type Deps struct {
	// Health serves grpc.health.v1.Health. If nil, no services are registered.
	Health *healthhandler.Server
}

// NewGRPCServer returns a gRPC server instrumented with the OTel stats handler.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	return grpc.NewServer(opts...)
}

// RegisterServices registers the gRPC services with the given server.
//
// Service → handler mapping:
//   - grpc.health.v1.Health → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Health != nil {
		deps.Health.Register(s)
	}
}
