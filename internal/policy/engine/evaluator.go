package engine

import (
	"context"

	"warehouse-service/backend/internal/session/domain"
)

// ConflictEvaluator classifies a manifest claim against the session currently holding the resource.
type ConflictEvaluator interface {
	// Classify returns the conflict type for caller against holder. It never fails; engines that
	// cannot evaluate fall back to domain.ClassifyConflict.
	Classify(ctx context.Context, holder *domain.Session, caller domain.Caller) domain.ConflictType
	// HealthCheck reports whether the engine can evaluate policies.
	HealthCheck(ctx context.Context) error
}

// NativeEvaluator applies domain.ClassifyConflict directly.
type NativeEvaluator struct{}

func (NativeEvaluator) Classify(_ context.Context, holder *domain.Session, caller domain.Caller) domain.ConflictType {
	return domain.ClassifyConflict(holder, caller)
}

func (NativeEvaluator) HealthCheck(context.Context) error { return nil }
