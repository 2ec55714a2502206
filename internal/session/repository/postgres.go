package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"warehouse-service/backend/internal/session/domain"
)

const sessionColumns = `id, username, accesstoken, refreshtoken, expirytime, logintime, lastactivity, powerunit, mfstdate`

// pgUniqueViolation is SQLSTATE unique_violation; raised by sessions_resource_uniq on a lost claim race.
const pgUniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Create inserts the session and returns the assigned id.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (username, accesstoken, refreshtoken, expirytime, logintime, lastactivity, powerunit, mfstdate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		s.Username, s.AccessTokenHash, s.RefreshTokenHash,
		s.ExpiryTime.UTC(), s.LoginTime.UTC(), s.LastActivity.UTC(),
		strPtrToNull(s.PowerUnit), strPtrToNull(s.ManifestDate),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.Session, error) {
	return scanOne(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// GetByCredentials returns the session whose username and token digests all match, or nil.
func (r *PostgresRepository) GetByCredentials(ctx context.Context, username, accessTokenHash, refreshTokenHash string) (*domain.Session, error) {
	return scanOne(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE username = $1 AND accesstoken = $2 AND refreshtoken = $3
		LIMIT 1`, username, accessTokenHash, refreshTokenHash))
}

// List returns every session ordered by id.
func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateTokens replaces the token pair and expiry for id. Returns ErrSessionNotFound if no row was updated.
func (r *PostgresRepository) UpdateTokens(ctx context.Context, id int64, username, accessTokenHash, refreshTokenHash string, expiry, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			username = $2,
			accesstoken = $3,
			refreshtoken = $4,
			expirytime = $5,
			lastactivity = GREATEST(lastactivity, $6)
		WHERE id = $1`,
		id, username, accessTokenHash, refreshTokenHash, expiry.UTC(), at.UTC())
	if err != nil {
		return fmt.Errorf("update session tokens: %w", err)
	}
	return requireAffected(res)
}

// TouchByID sets last activity to at unless it is already later.
func (r *PostgresRepository) TouchByID(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET lastactivity = GREATEST(lastactivity, $2) WHERE id = $1`, id, at.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// TouchByCredentials sets last activity on the row matching username and access digest.
func (r *PostgresRepository) TouchByCredentials(ctx context.Context, username, accessTokenHash string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET lastactivity = GREATEST(lastactivity, $3) WHERE username = $1 AND accesstoken = $2`,
		username, accessTokenHash, at.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FindConflict returns the first other session holding the resource, or nil.
func (r *PostgresRepository) FindConflict(ctx context.Context, res domain.Resource, excludingID int64) (*domain.Session, error) {
	n := res.Normalize()
	return scanOne(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE upper(trim(powerunit)) = $1 AND upper(trim(mfstdate)) = $2 AND id <> $3
		ORDER BY id
		LIMIT 1`, n.PowerUnit, n.ManifestDate, excludingID))
}

// Claim sets the resource on the caller's row in a single guarded statement.
// The NOT EXISTS guard handles the common case; sessions_resource_uniq turns a concurrent
// double claim into a unique violation, reported as ErrResourceHeld.
func (r *PostgresRepository) Claim(ctx context.Context, p ClaimParams) error {
	return claim(ctx, r.db, p)
}

// TakeOver deletes victimID and claims the resource for p.SessionID in one transaction.
// The victim row is locked first; ErrTakeoverDenied is returned if it belongs to another user.
// A victim that has already disappeared is not an error.
func (r *PostgresRepository) TakeOver(ctx context.Context, p ClaimParams, username string, victimID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT username FROM sessions WHERE id = $1 FOR UPDATE`, victimID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("lock victim session: %w", err)
	default:
		if !equalFoldTrim(owner, username) {
			return ErrTakeoverDenied
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, victimID); err != nil {
			return fmt.Errorf("delete victim session: %w", err)
		}
	}
	if err := claim(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseResource clears powerunit and manifest date on id.
func (r *PostgresRepository) ReleaseResource(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET powerunit = NULL, mfstdate = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release session resource: %w", err)
	}
	return requireAffected(res)
}

// Delete removes the session row. Returns false if it did not exist.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteByResource deletes username's sessions holding the resource.
func (r *PostgresRepository) DeleteByResource(ctx context.Context, username string, res domain.Resource) (int64, error) {
	n := res.Normalize()
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE lower(username) = lower($1) AND upper(trim(powerunit)) = $2 AND upper(trim(mfstdate)) = $3`,
		username, n.PowerUnit, n.ManifestDate)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteExpired removes sessions past absolute expiry or idle since before idleCutoff.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now, idleCutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expirytime <= $1 OR lastactivity < $2`, now.UTC(), idleCutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping verifies the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func claim(ctx context.Context, q querier, p ClaimParams) error {
	n := p.Resource.Normalize()
	var expiry sql.NullTime
	if !p.ExpiryTime.IsZero() {
		expiry = sql.NullTime{Time: p.ExpiryTime.UTC(), Valid: true}
	}
	res, err := q.ExecContext(ctx, `
		UPDATE sessions SET
			powerunit = $2,
			mfstdate = $3,
			refreshtoken = COALESCE(NULLIF($4, ''), refreshtoken),
			expirytime = COALESCE($5, expirytime),
			lastactivity = GREATEST(lastactivity, $6)
		WHERE id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM sessions o
			WHERE o.id <> $1 AND upper(trim(o.powerunit)) = $2 AND upper(trim(o.mfstdate)) = $3
		  )`,
		p.SessionID, n.PowerUnit, n.ManifestDate, p.RefreshTokenHash, expiry, p.At.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrResourceHeld
		}
		return fmt.Errorf("claim resource: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, p.SessionID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrSessionNotFound
	}
	return ErrResourceHeld
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*domain.Session, error) {
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s         domain.Session
		powerUnit sql.NullString
		mfstDate  sql.NullString
	)
	if err := row.Scan(
		&s.ID, &s.Username, &s.AccessTokenHash, &s.RefreshTokenHash,
		&s.ExpiryTime, &s.LoginTime, &s.LastActivity, &powerUnit, &mfstDate,
	); err != nil {
		return nil, err
	}
	s.PowerUnit = nullToStrPtr(powerUnit)
	s.ManifestDate = nullToStrPtr(mfstDate)
	s.ExpiryTime = s.ExpiryTime.UTC()
	s.LoginTime = s.LoginTime.UTC()
	s.LastActivity = s.LastActivity.UTC()
	return &s, nil
}

func strPtrToNull(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullToStrPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}
