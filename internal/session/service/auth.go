package service

import (
	"context"
	"fmt"

	auditdomain "warehouse-service/backend/internal/audit/domain"
	driverdomain "warehouse-service/backend/internal/driver/domain"
	"warehouse-service/backend/internal/security"
	"warehouse-service/backend/internal/session/repository"
	telemetrydomain "warehouse-service/backend/internal/telemetry/domain"
)

// DriverRepo is the minimal driver repository needed by the auth service.
type DriverRepo interface {
	GetByUsername(ctx context.Context, username string) (*driverdomain.Driver, error)
}

// AuthService implements password login, development login and logout on top of Issuer and Coordinator.
type AuthService struct {
	drivers     DriverRepo
	hasher      *security.Hasher
	issuer      *Issuer
	coordinator *Coordinator
	opts        Options
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(drivers DriverRepo, hasher *security.Hasher, issuer *Issuer, coordinator *Coordinator, opts Options) *AuthService {
	return &AuthService{
		drivers:     drivers,
		hasher:      hasher,
		issuer:      issuer,
		coordinator: coordinator,
		opts:        opts.withDefaults("session_auth"),
	}
}

// Login checks username/password against the driver table and opens a new session.
func (s *AuthService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	username = driverdomain.NormalizeUsername(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	d, err := s.drivers.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if d == nil {
		_ = s.hasher.CompareUnknown([]byte(password))
		s.opts.audit(ctx, username, 0, auditdomain.ActionLoginFailure, auditdomain.ResourceSession, "unknown driver")
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(d.PasswordHash, []byte(password)); err != nil || !d.Active {
		s.opts.audit(ctx, d.Username, 0, auditdomain.ActionLoginFailure, auditdomain.ResourceSession, "")
		return nil, ErrInvalidCredentials
	}
	return s.open(ctx, d.Username)
}

// DevLogin opens a session for a known driver without a password, or rotates sessionID's pair when it
// is non-zero and the row belongs to that driver. Only the development server exposes it.
func (s *AuthService) DevLogin(ctx context.Context, username string, sessionID int64) (*TokenPair, error) {
	username = driverdomain.NormalizeUsername(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}
	d, err := s.drivers.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDriverNotFound
	}
	if sessionID == 0 {
		return s.open(ctx, d.Username)
	}
	row, err := s.issuer.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if row == nil {
		return nil, repository.ErrSessionNotFound
	}
	if !samePrincipal(d.Username, row.Username) {
		return nil, ErrUnauthorized
	}
	return s.issuer.Issue(ctx, row.Username, sessionID)
}

func (s *AuthService) open(ctx context.Context, username string) (*TokenPair, error) {
	pair, err := s.issuer.Issue(ctx, username, 0)
	if err != nil {
		return nil, err
	}
	s.opts.audit(ctx, pair.Username, pair.SessionID, auditdomain.ActionLogin, auditdomain.ResourceSession, "")
	s.opts.emit(ctx, &telemetrydomain.SessionEvent{
		EventType: telemetrydomain.EventLogin,
		Username:  pair.Username,
		SessionID: pair.SessionID,
	})
	return pair, nil
}

// Logout deletes the caller's session row. Logging out a session that is already gone is not an error.
func (s *AuthService) Logout(ctx context.Context, username string, sessionID int64) error {
	deleted, err := s.coordinator.Delete(ctx, sessionID)
	if err != nil {
		return err
	}
	if deleted {
		s.opts.audit(ctx, username, sessionID, auditdomain.ActionLogout, auditdomain.ResourceSession, "")
		s.opts.emit(ctx, &telemetrydomain.SessionEvent{
			EventType: telemetrydomain.EventLogout,
			Username:  username,
			SessionID: sessionID,
		})
	}
	return nil
}
