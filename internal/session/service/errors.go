package service

import (
	"errors"

	"go.opentelemetry.io/otel"

	"warehouse-service/backend/internal/session/repository"
)

var tracer = otel.Tracer("warehouse-service/backend/internal/session/service")

// Sentinel errors for the session services; the HTTP handler maps them to status codes.
var (
	ErrInvalidUsername    = errors.New("username is required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDriverNotFound     = errors.New("driver not found")
	ErrUnauthorized       = errors.New("session is not authorized")
	ErrInvalidTakeover    = errors.New("a session cannot take over itself")
	// ErrClaimContended is returned when the claim kept losing races without a stable holder to report.
	ErrClaimContended = errors.New("manifest claim contended; retry")
	// ErrTakeoverDenied aliases the repository error so callers need not import the store.
	ErrTakeoverDenied = repository.ErrTakeoverDenied
)
