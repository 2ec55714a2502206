package repository

import (
	"context"

	"warehouse-service/backend/internal/driver/domain"
)

// Repository defines persistence for drivers.
type Repository interface {
	// GetByUsername matches case-insensitively. Returns (nil, nil) when no driver exists.
	GetByUsername(ctx context.Context, username string) (*domain.Driver, error)
	// Upsert creates the driver or replaces its password hash, powerunit and active flag.
	Upsert(ctx context.Context, d *domain.Driver) error
}
