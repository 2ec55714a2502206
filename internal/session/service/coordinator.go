package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	auditdomain "warehouse-service/backend/internal/audit/domain"
	"warehouse-service/backend/internal/policy/engine"
	"warehouse-service/backend/internal/security"
	"warehouse-service/backend/internal/session/domain"
	"warehouse-service/backend/internal/session/repository"
	telemetrydomain "warehouse-service/backend/internal/telemetry/domain"
)

// claimAttempts bounds how often Claim re-reads after losing the guarded write to a holder that then vanished.
const claimAttempts = 3

// ClaimRequest identifies the caller and the resource it wants. Tokens are the raw pair the caller presented.
type ClaimRequest struct {
	SessionID    int64
	Username     string
	AccessToken  string
	RefreshToken string
	Resource     domain.Resource
}

// ClaimResult is the outcome of Claim or TakeOver. Conflict results name the current holder.
type ClaimResult struct {
	Claimed        bool
	Conflict       bool
	ConflictType   domain.ConflictType
	HolderID       int64
	HolderUsername string
}

// ReleaseRequest releases a manifest. When Username, PowerUnit and ManifestDate are all set the
// session of Username holding that manifest is deleted; otherwise SessionID's claim is cleared.
type ReleaseRequest struct {
	SessionID    int64
	Username     string
	PowerUnit    string
	ManifestDate string
}

func (r ReleaseRequest) hasTriple() bool {
	return strings.TrimSpace(r.Username) != "" && strings.TrimSpace(r.PowerUnit) != "" && strings.TrimSpace(r.ManifestDate) != ""
}

// ReleaseResult reports what Release did: Deleted rows for the triple form, Released for the own-row form.
type ReleaseResult struct {
	Deleted  int64
	Released bool
}

// Coordinator arbitrates exclusive access to (powerunit, manifest date) resources.
// The session store is the only shared state; every decision re-reads it.
type Coordinator struct {
	repo   repository.Repository
	policy engine.ConflictEvaluator
	tokens *security.TokenProvider
	opts   Options
}

// NewCoordinator returns a Coordinator. policy may be nil to use the built-in classification;
// tokens may be nil, in which case claims keep the stored expiry.
func NewCoordinator(repo repository.Repository, policy engine.ConflictEvaluator, tokens *security.TokenProvider, opts Options) *Coordinator {
	if policy == nil {
		policy = engine.NativeEvaluator{}
	}
	return &Coordinator{repo: repo, policy: policy, tokens: tokens, opts: opts.withDefaults("session_coordinator")}
}

// FindConflict returns the first session other than excludingID holding r, or nil.
func (c *Coordinator) FindConflict(ctx context.Context, r domain.Resource, excludingID int64) (*domain.Session, error) {
	return c.repo.FindConflict(ctx, r, excludingID)
}

// Claim attempts to make req.SessionID the holder of req.Resource.
// A conflict is a result, not an error. repository.ErrSessionNotFound means the caller's row is gone.
func (c *Coordinator) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	ctx, span := c.startSpan(ctx, "Coordinator.Claim", req)
	defer span.End()

	res, err := c.claim(ctx, req)
	c.finish(ctx, span, req, res, err, auditdomain.ActionClaim, telemetrydomain.EventClaimed)
	return res, err
}

func (c *Coordinator) claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	if err := req.Resource.Validate(); err != nil {
		return nil, err
	}
	caller := callerOf(req)
	params := c.claimParams(req)
	for attempt := 0; attempt < claimAttempts; attempt++ {
		holder, err := c.repo.FindConflict(ctx, req.Resource, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("find conflict: %w", err)
		}
		if holder != nil {
			return c.classify(ctx, holder, caller), nil
		}
		err = c.repo.Claim(ctx, params)
		switch {
		case err == nil:
			return &ClaimResult{Claimed: true}, nil
		case errors.Is(err, repository.ErrResourceHeld):
			// Lost the guarded write; the next pass reads and classifies the winner.
			c.opts.Logger.Debug("claim lost race", "session_id", req.SessionID, "resource", req.Resource.String(), "attempt", attempt+1)
		default:
			return nil, err
		}
	}
	return nil, ErrClaimContended
}

// TakeOver deletes victimID, which must belong to req.Username, and claims req.Resource in one
// atomic step. A victim that no longer exists is not an error. If a third session holds the
// resource the result reports it as a conflict.
func (c *Coordinator) TakeOver(ctx context.Context, req ClaimRequest, victimID int64) (*ClaimResult, error) {
	ctx, span := c.startSpan(ctx, "Coordinator.TakeOver", req)
	span.SetAttributes(attribute.Int64("session.victim_id", victimID))
	defer span.End()

	res, err := c.takeOver(ctx, req, victimID)
	meta := fmt.Sprintf("victim_session_id=%d", victimID)
	if err == nil && res.Claimed {
		c.opts.audit(ctx, req.Username, req.SessionID, auditdomain.ActionTakeover, auditdomain.ResourceManifest, meta)
		c.opts.emit(ctx, &telemetrydomain.SessionEvent{
			EventType:    telemetrydomain.EventTakenOver,
			Username:     req.Username,
			SessionID:    req.SessionID,
			PowerUnit:    req.Resource.Normalize().PowerUnit,
			ManifestDate: req.Resource.Normalize().ManifestDate,
			Attributes:   map[string]string{"victim_session_id": fmt.Sprint(victimID)},
		})
	}
	c.finish(ctx, span, req, res, err, "", "")
	return res, err
}

func (c *Coordinator) takeOver(ctx context.Context, req ClaimRequest, victimID int64) (*ClaimResult, error) {
	if err := req.Resource.Validate(); err != nil {
		return nil, err
	}
	if victimID == req.SessionID || victimID <= 0 {
		return nil, ErrInvalidTakeover
	}
	err := c.repo.TakeOver(ctx, c.claimParams(req), req.Username, victimID)
	switch {
	case err == nil:
		return &ClaimResult{Claimed: true}, nil
	case errors.Is(err, repository.ErrResourceHeld):
		holder, ferr := c.repo.FindConflict(ctx, req.Resource, req.SessionID)
		if ferr != nil {
			return nil, fmt.Errorf("find conflict: %w", ferr)
		}
		if holder == nil {
			return nil, ErrClaimContended
		}
		return c.classify(ctx, holder, callerOf(req)), nil
	default:
		return nil, err
	}
}

// Release clears the resource claimed by sessionID.
func (c *Coordinator) Release(ctx context.Context, sessionID int64) error {
	if err := c.repo.ReleaseResource(ctx, sessionID); err != nil {
		return err
	}
	c.opts.emit(ctx, &telemetrydomain.SessionEvent{EventType: telemetrydomain.EventReleased, SessionID: sessionID})
	return nil
}

// Delete removes a session row, which also frees any resource it held. Returns false if it did not exist.
func (c *Coordinator) Delete(ctx context.Context, sessionID int64) (bool, error) {
	deleted, err := c.repo.Delete(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if deleted {
		c.opts.emit(ctx, &telemetrydomain.SessionEvent{EventType: telemetrydomain.EventDeleted, SessionID: sessionID})
	}
	return deleted, nil
}

// ReleaseManifest implements both release forms; see ReleaseRequest.
func (c *Coordinator) ReleaseManifest(ctx context.Context, req ReleaseRequest) (*ReleaseResult, error) {
	if !req.hasTriple() {
		if err := c.Release(ctx, req.SessionID); err != nil {
			return nil, err
		}
		c.opts.audit(ctx, req.Username, req.SessionID, auditdomain.ActionRelease, auditdomain.ResourceManifest, "")
		return &ReleaseResult{Released: true}, nil
	}
	r := domain.NewResource(req.PowerUnit, req.ManifestDate)
	n, err := c.repo.DeleteByResource(ctx, req.Username, r)
	if err != nil {
		return nil, fmt.Errorf("delete session by manifest: %w", err)
	}
	if n > 0 {
		c.opts.audit(ctx, req.Username, req.SessionID, auditdomain.ActionDeleteSession, auditdomain.ResourceManifest, r.String())
		c.opts.emit(ctx, &telemetrydomain.SessionEvent{
			EventType:    telemetrydomain.EventDeleted,
			Username:     req.Username,
			SessionID:    req.SessionID,
			PowerUnit:    r.PowerUnit,
			ManifestDate: r.ManifestDate,
			Count:        n,
		})
	}
	return &ReleaseResult{Deleted: n}, nil
}

func (c *Coordinator) classify(ctx context.Context, holder *domain.Session, caller domain.Caller) *ClaimResult {
	ct := c.policy.Classify(ctx, holder, caller)
	// A policy may tighten the built-in classification but never clear a conflict it reports.
	if native := domain.ClassifyConflict(holder, caller); ct == domain.ConflictNone && native != domain.ConflictNone {
		c.opts.Logger.Warn("conflict policy cleared a held resource; using built-in classification",
			"holder_id", holder.ID, "conflict_type", native)
		ct = native
	}
	if ct == domain.ConflictNone {
		return &ClaimResult{Claimed: true}
	}
	return &ClaimResult{
		Conflict:       true,
		ConflictType:   ct,
		HolderID:       holder.ID,
		HolderUsername: holder.Username,
	}
}

func (c *Coordinator) claimParams(req ClaimRequest) repository.ClaimParams {
	p := repository.ClaimParams{
		SessionID: req.SessionID,
		Resource:  req.Resource,
		At:        c.opts.Now().UTC(),
	}
	if req.RefreshToken != "" {
		p.RefreshTokenHash = security.HashToken(req.RefreshToken)
		if c.tokens != nil {
			if rt, err := c.tokens.ValidateRefresh(req.RefreshToken); err == nil && rt.SessionID == req.SessionID {
				p.ExpiryTime = rt.ExpiresAt
			}
		}
	}
	return p
}

func callerOf(req ClaimRequest) domain.Caller {
	c := domain.Caller{Username: req.Username}
	if req.AccessToken != "" {
		c.AccessTokenHash = security.HashToken(req.AccessToken)
	}
	if req.RefreshToken != "" {
		c.RefreshTokenHash = security.HashToken(req.RefreshToken)
	}
	return c
}

func (c *Coordinator) startSpan(ctx context.Context, name string, req ClaimRequest) (context.Context, trace.Span) {
	n := req.Resource.Normalize()
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int64("session.id", req.SessionID),
		attribute.String("manifest.powerunit", n.PowerUnit),
		attribute.String("manifest.date", n.ManifestDate),
	))
}

// finish records the outcome of a claim-like call on the span, in metrics, and, for plain
// claims (non-empty action), in the audit log and event stream.
func (c *Coordinator) finish(ctx context.Context, span trace.Span, req ClaimRequest, res *ClaimResult, err error, action string, event telemetrydomain.EventType) {
	n := req.Resource.Normalize()
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidResource) && !errors.Is(err, repository.ErrSessionNotFound) &&
			!errors.Is(err, ErrInvalidTakeover) && !errors.Is(err, ErrTakeoverDenied) {
			span.SetStatus(codes.Error, err.Error())
			c.opts.Logger.Error("manifest claim failed", "session_id", req.SessionID, "resource", n.String(), "error", err)
		}
		c.opts.Metrics.ObserveClaim("error")
		return
	}
	if res.Conflict {
		span.SetAttributes(attribute.String("manifest.conflict", string(res.ConflictType)), attribute.Int64("manifest.holder_id", res.HolderID))
		c.opts.Metrics.ObserveClaim(string(res.ConflictType))
		c.opts.audit(ctx, req.Username, req.SessionID, auditdomain.ActionConflict, auditdomain.ResourceManifest,
			fmt.Sprintf("conflict_type=%s holder_session_id=%d", res.ConflictType, res.HolderID))
		c.opts.emit(ctx, &telemetrydomain.SessionEvent{
			EventType:    telemetrydomain.EventConflict,
			Username:     req.Username,
			SessionID:    req.SessionID,
			PowerUnit:    n.PowerUnit,
			ManifestDate: n.ManifestDate,
			ConflictType: string(res.ConflictType),
			Attributes:   map[string]string{"holder_session_id": fmt.Sprint(res.HolderID)},
		})
		return
	}
	c.opts.Metrics.ObserveClaim("claimed")
	if action == "" {
		return
	}
	c.opts.audit(ctx, req.Username, req.SessionID, action, auditdomain.ResourceManifest, n.String())
	c.opts.emit(ctx, &telemetrydomain.SessionEvent{
		EventType:    event,
		Username:     req.Username,
		SessionID:    req.SessionID,
		PowerUnit:    n.PowerUnit,
		ManifestDate: n.ManifestDate,
	})
}
