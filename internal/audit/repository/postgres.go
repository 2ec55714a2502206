package repository

import (
	"context"
	"database/sql"
	"errors"

	"warehouse-service/backend/internal/audit/domain"
)

const auditColumns = `id, username, session_id, action, resource, ip, metadata, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the audit log for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	a, err := scanAuditLog(r.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// ListRecent returns up to limit entries, newest first. An empty username lists all users.
func (r *PostgresRepository) ListRecent(ctx context.Context, username string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+auditColumns+` FROM audit_logs
		WHERE $1 = '' OR lower(username) = lower($1)
		ORDER BY created_at DESC
		LIMIT $2`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create persists the audit log to the database. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	user := sql.NullString{String: a.Username, Valid: a.Username != ""}
	sid := sql.NullInt64{Int64: a.SessionID, Valid: a.SessionID != 0}
	meta := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, username, session_id, action, resource, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, user, sid, a.Action, a.Resource, a.IP, meta, a.CreatedAt.UTC())
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAuditLog(row scanner) (*domain.AuditLog, error) {
	var (
		a    domain.AuditLog
		user sql.NullString
		sid  sql.NullInt64
		ip   sql.NullString
		meta sql.NullString
	)
	if err := row.Scan(&a.ID, &user, &sid, &a.Action, &a.Resource, &ip, &meta, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Username = user.String
	a.SessionID = sid.Int64
	a.IP = ip.String
	a.Metadata = meta.String
	return &a, nil
}
