package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"warehouse-service/backend/internal/audit"
	auditdomain "warehouse-service/backend/internal/audit/domain"
	"warehouse-service/backend/internal/metrics"
	"warehouse-service/backend/internal/security"
	"warehouse-service/backend/internal/session/domain"
	"warehouse-service/backend/internal/session/repository"
	"warehouse-service/backend/internal/telemetry"
	telemetrydomain "warehouse-service/backend/internal/telemetry/domain"
)

// DefaultRefreshGrace is how close to expiry an access token may get before Validate rotates the pair.
const DefaultRefreshGrace = 5 * time.Minute

// TokenPair is a freshly issued access/refresh pair bound to a session row.
type TokenPair struct {
	SessionID        int64
	Username         string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// OutcomeKind is the result class of Validate.
type OutcomeKind int

const (
	OutcomeInvalid OutcomeKind = iota
	OutcomeValid
	OutcomeRefreshed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeValid:
		return "valid"
	case OutcomeRefreshed:
		return "refreshed"
	default:
		return "invalid"
	}
}

// Outcome is the result of validating a token pair. Pair is set only for OutcomeRefreshed;
// Reason only for OutcomeInvalid.
type Outcome struct {
	Kind      OutcomeKind
	Principal string
	SessionID int64
	Pair      *TokenPair
	Reason    string
}

func invalid(reason string) Outcome {
	return Outcome{Kind: OutcomeInvalid, Reason: reason}
}

// Options carries the optional collaborators shared by Issuer, Coordinator and Guard.
// Every field may be left zero.
type Options struct {
	Logger  *slog.Logger
	Audit   audit.AuditLogger
	Events  telemetry.EventEmitter
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (o Options) withDefaults(component string) Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("component", component)
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) audit(ctx context.Context, username string, sessionID int64, action, resource, metadata string) {
	if o.Audit != nil {
		o.Audit.LogEvent(ctx, username, sessionID, action, resource, metadata)
	}
}

func (o Options) emit(ctx context.Context, ev *telemetrydomain.SessionEvent) {
	ev.Source = "session-service"
	telemetry.EmitAsync(o.Events, ctx, ev)
}

// Issuer mints token pairs bound to session rows and validates/rotates presented pairs.
type Issuer struct {
	repo   repository.Repository
	tokens *security.TokenProvider
	grace  time.Duration
	opts   Options
}

// NewIssuer returns an Issuer. A non-positive grace uses DefaultRefreshGrace.
func NewIssuer(repo repository.Repository, tokens *security.TokenProvider, grace time.Duration, opts Options) *Issuer {
	if grace <= 0 {
		grace = DefaultRefreshGrace
	}
	return &Issuer{repo: repo, tokens: tokens, grace: grace, opts: opts.withDefaults("session_issuer")}
}

// Issue mints a new pair for username and writes its digests and refresh expiry to the session row.
// sessionID 0 creates the row. Returns repository.ErrSessionNotFound if sessionID names a row that no longer exists.
func (i *Issuer) Issue(ctx context.Context, username string, sessionID int64) (*TokenPair, error) {
	ctx, span := tracer.Start(ctx, "Issuer.Issue")
	defer span.End()

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}
	if sessionID < 0 {
		return nil, repository.ErrSessionNotFound
	}
	now := i.opts.Now().UTC()
	created := false
	if sessionID == 0 {
		// The row comes first so the tokens can carry its id.
		id, err := i.repo.Create(ctx, &domain.Session{
			Username:     username,
			ExpiryTime:   now.Add(i.tokens.RefreshTTL()),
			LoginTime:    now,
			LastActivity: now,
		})
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("create session: %w", err)
		}
		sessionID = id
		created = true
	}
	span.SetAttributes(attribute.Int64("session.id", sessionID), attribute.Bool("session.created", created))

	pair, err := i.mint(username, sessionID)
	if err != nil {
		i.discard(ctx, sessionID, created)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	err = i.repo.UpdateTokens(ctx, sessionID, username,
		security.HashToken(pair.AccessToken), security.HashToken(pair.RefreshToken), pair.RefreshExpiresAt, now)
	if err != nil {
		i.discard(ctx, sessionID, created)
		if !errors.Is(err, repository.ErrSessionNotFound) {
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	return pair, nil
}

func (i *Issuer) mint(username string, sessionID int64) (*TokenPair, error) {
	access, accessExp, err := i.tokens.IssueAccess(username, sessionID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := i.tokens.IssueRefresh(username, sessionID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &TokenPair{
		SessionID:        sessionID,
		Username:         username,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// discard removes a row Issue created before it could be bound to a token pair.
func (i *Issuer) discard(ctx context.Context, sessionID int64, created bool) {
	if !created {
		return
	}
	if _, err := i.repo.Delete(context.WithoutCancel(ctx), sessionID); err != nil {
		i.opts.Logger.Warn("failed to remove unbound session row", "session_id", sessionID, "error", err)
	}
}

// Validate checks the presented pair. Token problems are reported as OutcomeInvalid; only store
// failures are returned as errors. username, when non-empty, must name the token's principal.
// With tryRefresh, an access token that is expired or within the grace window is rotated using
// refresh, which must still be the pair stored on its session row.
func (i *Issuer) Validate(ctx context.Context, access, refresh, username string, tryRefresh bool) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Issuer.Validate")
	defer span.End()

	out, err := i.validate(ctx, access, refresh, strings.TrimSpace(username), tryRefresh)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		i.opts.Metrics.ObserveTokenValidation("error")
		return Outcome{}, err
	}
	span.SetAttributes(attribute.String("token.outcome", out.Kind.String()))
	i.opts.Metrics.ObserveTokenValidation(out.Kind.String())
	if out.Kind == OutcomeInvalid {
		i.opts.Logger.Debug("token validation failed", "reason", out.Reason)
	}
	return out, nil
}

func (i *Issuer) validate(ctx context.Context, access, refresh, username string, tryRefresh bool) (Outcome, error) {
	now := i.opts.Now().UTC()
	tok, err := i.tokens.ValidateAccess(access)
	switch {
	case err == nil:
		if !samePrincipal(username, tok.Username) {
			return invalid("token principal does not match username"), nil
		}
		if tok.SessionID <= 0 {
			return invalid("access token has no session id"), nil
		}
		if tok.ExpiresAt.Sub(now) > i.grace {
			// A verified token is only valid while it is still the pair stored on its row.
			row, err := i.repo.GetByID(ctx, tok.SessionID)
			if err != nil {
				return Outcome{}, fmt.Errorf("load session: %w", err)
			}
			if row == nil {
				return invalid("session not found"), nil
			}
			if !security.TokenHashEqual(access, row.AccessTokenHash) {
				return invalid("access token superseded"), nil
			}
			if _, err := i.repo.TouchByID(ctx, tok.SessionID, now); err != nil {
				i.opts.Logger.Warn("failed to stamp session activity", "session_id", tok.SessionID, "error", err)
			}
			return Outcome{Kind: OutcomeValid, Principal: tok.Username, SessionID: tok.SessionID}, nil
		}
		if !tryRefresh {
			return invalid("access token expires within the refresh window"), nil
		}
	case errors.Is(err, security.ErrTokenExpired):
		if !tryRefresh {
			return invalid("access token expired"), nil
		}
	default:
		return invalid("access token invalid"), nil
	}

	rt, err := i.tokens.ValidateRefresh(refresh)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return invalid("refresh token expired"), nil
		}
		return invalid("refresh token invalid"), nil
	}
	if rt.SessionID <= 0 {
		return invalid("refresh token has no session id"), nil
	}
	if !samePrincipal(username, rt.Username) || (tok != nil && !samePrincipal(tok.Username, rt.Username)) {
		return invalid("token principal does not match username"), nil
	}
	row, err := i.repo.GetByID(ctx, rt.SessionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load session: %w", err)
	}
	if row == nil {
		return invalid("session not found"), nil
	}
	if !security.TokenHashEqual(refresh, row.RefreshTokenHash) {
		return invalid("refresh token superseded"), nil
	}

	pair, err := i.Issue(ctx, rt.Username, rt.SessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return invalid("session not found"), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	i.opts.audit(ctx, rt.Username, rt.SessionID, auditdomain.ActionRefresh, auditdomain.ResourceSession, "")
	i.opts.emit(ctx, &telemetrydomain.SessionEvent{
		EventType: telemetrydomain.EventRefresh,
		Username:  rt.Username,
		SessionID: rt.SessionID,
	})
	return Outcome{Kind: OutcomeRefreshed, Principal: rt.Username, SessionID: rt.SessionID, Pair: pair}, nil
}

// samePrincipal reports whether want is empty or names got, ignoring case and surrounding space.
func samePrincipal(want, got string) bool {
	return want == "" || strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got))
}
