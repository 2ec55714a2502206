package repository

import (
	"context"
	"errors"
	"time"

	"warehouse-service/backend/internal/session/domain"
)

var (
	// ErrSessionNotFound is returned by mutations that require an existing session row.
	ErrSessionNotFound = errors.New("session not found")
	// ErrResourceHeld is returned when a claim loses to another session already holding the resource.
	ErrResourceHeld = errors.New("resource is held by another session")
	// ErrTakeoverDenied is returned when a takeover targets a session owned by another principal.
	ErrTakeoverDenied = errors.New("session belongs to another user")
)

// ClaimParams describes the write performed on the caller's own row when it claims a resource.
// A zero ExpiryTime keeps the stored expiry.
type ClaimParams struct {
	SessionID        int64
	Resource         domain.Resource
	RefreshTokenHash string
	ExpiryTime       time.Time
	At               time.Time
}

// Repository is the session store: the single source of truth for who holds what.
// Lookups return (nil, nil) when no row matches; only database failures are errors.
type Repository interface {
	// Create inserts s and returns the assigned id.
	Create(ctx context.Context, s *domain.Session) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Session, error)
	// GetByCredentials returns the row matching username and both token digests exactly.
	GetByCredentials(ctx context.Context, username, accessTokenHash, refreshTokenHash string) (*domain.Session, error)
	List(ctx context.Context) ([]*domain.Session, error)
	// UpdateTokens replaces the token pair and expiry of an existing row. Returns ErrSessionNotFound if absent.
	UpdateTokens(ctx context.Context, id int64, username, accessTokenHash, refreshTokenHash string, expiry, at time.Time) error
	// TouchByID moves last_activity forward to at; it never moves it backwards.
	TouchByID(ctx context.Context, id int64, at time.Time) (bool, error)
	TouchByCredentials(ctx context.Context, username, accessTokenHash string, at time.Time) (bool, error)
	// FindConflict returns the first row other than excludingID holding r.
	FindConflict(ctx context.Context, r domain.Resource, excludingID int64) (*domain.Session, error)
	// Claim atomically sets the resource on the caller's row unless another row holds it.
	// Returns ErrResourceHeld or ErrSessionNotFound.
	Claim(ctx context.Context, p ClaimParams) error
	// TakeOver deletes victimID (which must belong to username) and claims in one transaction.
	TakeOver(ctx context.Context, p ClaimParams, username string, victimID int64) error
	ReleaseResource(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) (bool, error)
	// DeleteByResource deletes username's rows holding r and returns how many were removed.
	DeleteByResource(ctx context.Context, username string, r domain.Resource) (int64, error)
	// DeleteExpired removes rows with expiry_time <= now or last_activity < idleCutoff.
	DeleteExpired(ctx context.Context, now, idleCutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}
