package middleware

import (
	"context"

	"warehouse-service/backend/internal/session/domain"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// Identity is the authorized caller of a gated request. AccessToken and RefreshToken are the pair
// that passed the guard, which is the rotated pair when the gate refreshed it.
type Identity struct {
	Username     string
	SessionID    int64
	AccessToken  string
	RefreshToken string
	Session      *domain.Session
}

// WithIdentity returns a context carrying id. Handlers read it via GetIdentity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the identity set by SessionGate and true if set; otherwise nil, false.
func GetIdentity(ctx context.Context) (*Identity, bool) {
	v, ok := ctx.Value(identityKey).(*Identity)
	return v, ok && v != nil
}
