package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"warehouse-service/backend/internal/session/service"
)

// SessionGate authorizes every request against the session store before calling next.
// The principal comes from the verified access token; an expired access token is rotated with
// the refresh token and the new pair is written back as cookies. The guard then requires a live
// row matching the principal and the pair. Failures are 401 with no partial effect.
func SessionGate(issuer *service.Issuer, guard *service.Guard, cookies Cookies, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			creds := CredentialsFrom(r)
			if creds.Access == "" || creds.Refresh == "" {
				WriteError(w, http.StatusUnauthorized, "missing session tokens")
				return
			}

			out, err := issuer.Validate(ctx, creds.Access, creds.Refresh, creds.Username, true)
			if err != nil {
				logger.Error("session gate: token validation failed", "error", err)
				WriteError(w, http.StatusInternalServerError, "internal error")
				return
			}
			access, refresh := creds.Access, creds.Refresh
			switch out.Kind {
			case service.OutcomeInvalid:
				WriteError(w, http.StatusUnauthorized, out.Reason)
				return
			case service.OutcomeRefreshed:
				access, refresh = out.Pair.AccessToken, out.Pair.RefreshToken
			}

			s, err := guard.Authorize(ctx, out.Principal, access, refresh)
			if errors.Is(err, service.ErrUnauthorized) {
				WriteError(w, http.StatusUnauthorized, "session is no longer active")
				return
			}
			if err != nil {
				logger.Error("session gate: authorize failed", "error", err)
				WriteError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if out.Kind == service.OutcomeRefreshed {
				cookies.Set(w, out.Pair)
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, &Identity{
				Username:     s.Username,
				SessionID:    s.ID,
				AccessToken:  access,
				RefreshToken: refresh,
				Session:      s,
			})))
		})
	}
}
