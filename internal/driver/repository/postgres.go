package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"warehouse-service/backend/internal/driver/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a driver repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByUsername returns the driver with the given username, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.Driver, error) {
	var (
		d         domain.Driver
		powerUnit sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT username, password_hash, powerunit, active, created_at
		FROM drivers
		WHERE lower(username) = lower($1)`, domain.NormalizeUsername(username),
	).Scan(&d.Username, &d.PasswordHash, &powerUnit, &d.Active, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.PowerUnit = powerUnit.String
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

// Upsert inserts the driver or updates the existing row with the same username.
func (r *PostgresRepository) Upsert(ctx context.Context, d *domain.Driver) error {
	if err := d.Validate(); err != nil {
		return err
	}
	powerUnit := sql.NullString{String: d.PowerUnit, Valid: d.PowerUnit != ""}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO drivers (username, password_hash, powerunit, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			powerunit = EXCLUDED.powerunit,
			active = EXCLUDED.active`,
		domain.NormalizeUsername(d.Username), d.PasswordHash, powerUnit, d.Active, createdAt.UTC())
	return err
}
