package service

import (
	"context"
	"fmt"

	"warehouse-service/backend/internal/security"
	"warehouse-service/backend/internal/session/domain"
	"warehouse-service/backend/internal/session/repository"
)

// Guard gates privileged requests on the session store. Token signatures alone are not enough:
// the presented pair must still be the pair stored on a live row, so deleting a row revokes it at once.
type Guard struct {
	repo repository.Repository
	opts Options
}

func NewGuard(repo repository.Repository, opts Options) *Guard {
	return &Guard{repo: repo, opts: opts.withDefaults("session_guard")}
}

// Authorize returns the session whose username and token digests all match, after stamping its
// last activity. Returns ErrUnauthorized when either token is missing or no row matches.
func (g *Guard) Authorize(ctx context.Context, username, access, refresh string) (*domain.Session, error) {
	if username == "" || access == "" || refresh == "" {
		return nil, ErrUnauthorized
	}
	s, err := g.repo.GetByCredentials(ctx, username, security.HashToken(access), security.HashToken(refresh))
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return nil, ErrUnauthorized
	}
	now := g.opts.Now().UTC()
	if !s.ExpiryTime.After(now) {
		return nil, ErrUnauthorized
	}
	ok, err := g.repo.TouchByID(ctx, s.ID, now)
	if err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	if !ok {
		// Deleted between the read and the touch.
		return nil, ErrUnauthorized
	}
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
	return s, nil
}
