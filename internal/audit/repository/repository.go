package repository

import (
	"context"

	"warehouse-service/backend/internal/audit/domain"
)

// Repository defines persistence for audit log entries.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.AuditLog, error)
	// ListRecent returns the newest entries first, optionally filtered by username.
	ListRecent(ctx context.Context, username string, limit int) ([]*domain.AuditLog, error)
	Create(ctx context.Context, a *domain.AuditLog) error
}
