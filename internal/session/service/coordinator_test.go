package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	auditdomain "warehouse-service/backend/internal/audit/domain"
	"warehouse-service/backend/internal/security"
	"warehouse-service/backend/internal/session/domain"
	"warehouse-service/backend/internal/session/repository"
)

var manifest = domain.NewResource("PU100", "10152026")

func TestCoordinator_ClaimUnheld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.login(t, "driver1")

	res, err := h.coordinator.Claim(ctx, h.claimReq(p, domain.Resource{PowerUnit: " pu100 ", ManifestDate: "10152026"}))
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !res.Claimed || res.Conflict {
		t.Fatalf("Claim = %+v, want claimed without conflict", res)
	}
	row, _ := h.repo.GetByID(ctx, p.SessionID)
	if r, ok := row.Resource(); !ok || r != manifest {
		t.Errorf("row resource = %+v, %v; want normalized %+v", r, ok, manifest)
	}
	if !slices.Contains(h.audit.actions(), auditdomain.ActionClaim) {
		t.Errorf("audit actions = %v, want %s", h.audit.actions(), auditdomain.ActionClaim)
	}
}

func TestCoordinator_ReclaimIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.login(t, "driver1")
	for i := 0; i < 2; i++ {
		res, err := h.coordinator.Claim(ctx, h.claimReq(p, manifest))
		if err != nil {
			t.Fatalf("Claim #%d: %v", i+1, err)
		}
		if !res.Claimed || res.Conflict {
			t.Fatalf("Claim #%d = %+v, want claimed without conflict", i+1, res)
		}
	}
}

// A holder row carrying the caller's exact credentials is the caller re-confirming its own claim.
func TestCoordinator_HolderWithCallerCredentialsIsNotAConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.login(t, "driver1")
	pu, date := manifest.PowerUnit, manifest.ManifestDate
	_, err := h.repo.Create(ctx, &domain.Session{
		Username:         "driver1",
		AccessTokenHash:  security.HashToken(p.AccessToken),
		RefreshTokenHash: security.HashToken(p.RefreshToken),
		PowerUnit:        &pu,
		ManifestDate:     &date,
		ExpiryTime:       p.RefreshExpiresAt,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	res, err := h.coordinator.Claim(ctx, h.claimReq(p, manifest))
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !res.Claimed || res.Conflict {
		t.Errorf("Claim = %+v, want claimed without conflict", res)
	}
}

func TestCoordinator_ConflictClassification(t *testing.T) {
	tests := []struct {
		name       string
		holderUser string
		callerUser string
		want       domain.ConflictType
	}{
		{"same user other device", "alice", "alice", domain.ConflictSameUser},
		{"same user differing case", "alice", "ALICE", domain.ConflictSameUser},
		{"different user", "alice", "bob", domain.ConflictDifferentUser},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			holder := h.login(t, tc.holderUser)
			caller := h.login(t, tc.callerUser)
			if res, err := h.coordinator.Claim(ctx, h.claimReq(holder, manifest)); err != nil || !res.Claimed {
				t.Fatalf("holder Claim = %+v, %v", res, err)
			}
			res, err := h.coordinator.Claim(ctx, h.claimReq(caller, manifest))
			if err != nil {
				t.Fatalf("caller Claim: %v", err)
			}
			if res.Claimed || !res.Conflict || res.ConflictType != tc.want {
				t.Fatalf("Claim = %+v, want %s conflict", res, tc.want)
			}
			if res.HolderID != holder.SessionID || res.HolderUsername != tc.holderUser {
				t.Errorf("holder = %d/%q, want %d/%q", res.HolderID, res.HolderUsername, holder.SessionID, tc.holderUser)
			}
			row, _ := h.repo.GetByID(ctx, caller.SessionID)
			if _, ok := row.Resource(); ok {
				t.Error("conflicting caller should not hold the resource")
			}
		})
	}
}

type clearingEvaluator struct{}

func (clearingEvaluator) Classify(context.Context, *domain.Session, domain.Caller) domain.ConflictType {
	return domain.ConflictNone
}

func (clearingEvaluator) HealthCheck(context.Context) error { return nil }

func TestCoordinator_PolicyCannotClearAnotherHoldersConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	coordinator := NewCoordinator(h.repo, clearingEvaluator{}, h.tokens, Options{Now: h.clock.Now})
	holder := h.login(t, "alice")
	caller := h.login(t, "bob")
	if res, err := coordinator.Claim(ctx, h.claimReq(holder, manifest)); err != nil || !res.Claimed {
		t.Fatalf("holder Claim = %+v, %v", res, err)
	}

	res, err := coordinator.Claim(ctx, h.claimReq(caller, manifest))
	if err != nil {
		t.Fatalf("caller Claim: %v", err)
	}
	if res.Claimed || !res.Conflict || res.ConflictType != domain.ConflictDifferentUser {
		t.Fatalf("Claim = %+v, want %s conflict", res, domain.ConflictDifferentUser)
	}
	if row, _ := h.repo.GetByID(ctx, caller.SessionID); row != nil {
		if _, ok := row.Resource(); ok {
			t.Error("caller should not hold the resource")
		}
	}
	row, _ := h.repo.GetByID(ctx, holder.SessionID)
	if r, ok := row.Resource(); !ok || r != manifest {
		t.Errorf("holder resource = %+v, %v; want %+v", r, ok, manifest)
	}
}

func TestCoordinator_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const drivers = 16
	pairs := make([]*TokenPair, drivers)
	for i := range pairs {
		pairs[i] = h.login(t, fmt.Sprintf("driver%d", i))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
		errs    []error
	)
	start := make(chan struct{})
	for _, p := range pairs {
		wg.Add(1)
		go func(p *TokenPair) {
			defer wg.Done()
			<-start
			res, err := h.coordinator.Claim(ctx, h.claimReq(p, manifest))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Claimed {
				claimed++
			} else if res.ConflictType != domain.ConflictDifferentUser {
				errs = append(errs, fmt.Errorf("session %d: unexpected result %+v", p.SessionID, res))
			}
		}(p)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		t.Error(err)
	}
	if claimed != 1 {
		t.Errorf("claimed = %d, want exactly 1", claimed)
	}
	rows, _ := h.repo.List(ctx)
	holders := 0
	for _, s := range rows {
		if s.Holds(manifest) {
			holders++
		}
	}
	if holders != 1 {
		t.Errorf("rows holding %s = %d, want 1", manifest, holders)
	}
}

func TestCoordinator_ClaimErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.login(t, "driver1")

	if _, err := h.coordinator.Claim(ctx, h.claimReq(p, domain.NewResource("PU1", "1015"))); !errors.Is(err, domain.ErrInvalidResource) {
		t.Errorf("short manifest date err = %v, want ErrInvalidResource", err)
	}
	req := h.claimReq(p, manifest)
	req.SessionID = 999
	if _, err := h.coordinator.Claim(ctx, req); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Errorf("missing caller row err = %v, want ErrSessionNotFound", err)
	}
}

func TestCoordinator_ReleaseAndDeleteFreeTheResource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.login(t, "alice")
	b := h.login(t, "bob")

	mustClaim := func(p *TokenPair) {
		t.Helper()
		res, err := h.coordinator.Claim(ctx, h.claimReq(p, manifest))
		if err != nil || !res.Claimed {
			t.Fatalf("Claim(%s) = %+v, %v", p.Username, res, err)
		}
	}

	mustClaim(a)
	if err := h.coordinator.Release(ctx, a.SessionID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	mustClaim(b)
	if _, err := h.coordinator.Delete(ctx, b.SessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	mustClaim(a)

	if err := h.coordinator.Release(ctx, 12345); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Errorf("Release(missing) err = %v, want ErrSessionNotFound", err)
	}
}

func TestCoordinator_ReleaseManifest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stale := h.login(t, "alice")
	current := h.login(t, "alice")
	if res, err := h.coordinator.Claim(ctx, h.claimReq(stale, manifest)); err != nil || !res.Claimed {
		t.Fatalf("Claim = %+v, %v", res, err)
	}

	// Another user's name in the triple deletes nothing.
	res, err := h.coordinator.ReleaseManifest(ctx, ReleaseRequest{SessionID: current.SessionID, Username: "bob", PowerUnit: "pu100", ManifestDate: "10152026"})
	if err != nil || res.Deleted != 0 {
		t.Fatalf("ReleaseManifest(bob) = %+v, %v; want nothing deleted", res, err)
	}

	res, err = h.coordinator.ReleaseManifest(ctx, ReleaseRequest{SessionID: current.SessionID, Username: "Alice", PowerUnit: "pu100", ManifestDate: "10152026"})
	if err != nil || res.Deleted != 1 {
		t.Fatalf("ReleaseManifest(triple) = %+v, %v; want 1 deleted", res, err)
	}
	if row, _ := h.repo.GetByID(ctx, stale.SessionID); row != nil {
		t.Error("stale session should be deleted")
	}
	if claim, err := h.coordinator.Claim(ctx, h.claimReq(current, manifest)); err != nil || !claim.Claimed {
		t.Fatalf("Claim after release = %+v, %v", claim, err)
	}

	// Without the full triple only the caller's own claim is cleared.
	res, err = h.coordinator.ReleaseManifest(ctx, ReleaseRequest{SessionID: current.SessionID, PowerUnit: "pu100"})
	if err != nil || !res.Released {
		t.Fatalf("ReleaseManifest(own) = %+v, %v", res, err)
	}
	row, _ := h.repo.GetByID(ctx, current.SessionID)
	if row == nil {
		t.Fatal("own session should not be deleted")
	}
	if _, ok := row.Resource(); ok {
		t.Error("own claim should be cleared")
	}
}

func TestCoordinator_TakeOver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.login(t, "alice")
	cur := h.login(t, "alice")
	bob := h.login(t, "bob")
	if res, err := h.coordinator.Claim(ctx, h.claimReq(old, manifest)); err != nil || !res.Claimed {
		t.Fatalf("Claim = %+v, %v", res, err)
	}

	if _, err := h.coordinator.TakeOver(ctx, h.claimReq(bob, manifest), old.SessionID); !errors.Is(err, ErrTakeoverDenied) {
		t.Fatalf("TakeOver by bob err = %v, want ErrTakeoverDenied", err)
	}
	if row, _ := h.repo.GetByID(ctx, old.SessionID); row == nil {
		t.Fatal("denied takeover must not delete the victim")
	}
	if _, err := h.coordinator.TakeOver(ctx, h.claimReq(cur, manifest), cur.SessionID); !errors.Is(err, ErrInvalidTakeover) {
		t.Fatalf("self TakeOver err = %v, want ErrInvalidTakeover", err)
	}

	res, err := h.coordinator.TakeOver(ctx, h.claimReq(cur, manifest), old.SessionID)
	if err != nil || !res.Claimed {
		t.Fatalf("TakeOver = %+v, %v", res, err)
	}
	if row, _ := h.repo.GetByID(ctx, old.SessionID); row != nil {
		t.Error("victim session should be deleted")
	}
	row, _ := h.repo.GetByID(ctx, cur.SessionID)
	if !row.Holds(manifest) {
		t.Error("caller should hold the manifest after takeover")
	}
	if !slices.Contains(h.audit.actions(), auditdomain.ActionTakeover) {
		t.Errorf("audit actions = %v, want %s", h.audit.actions(), auditdomain.ActionTakeover)
	}
}

func TestCoordinator_TakeOverReportsThirdPartyHolder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gone := h.login(t, "alice")
	cur := h.login(t, "alice")
	bob := h.login(t, "bob")
	if _, err := h.coordinator.Delete(ctx, gone.SessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res, err := h.coordinator.Claim(ctx, h.claimReq(bob, manifest)); err != nil || !res.Claimed {
		t.Fatalf("bob Claim = %+v, %v", res, err)
	}
	res, err := h.coordinator.TakeOver(ctx, h.claimReq(cur, manifest), gone.SessionID)
	if err != nil {
		t.Fatalf("TakeOver: %v", err)
	}
	if !res.Conflict || res.ConflictType != domain.ConflictDifferentUser || res.HolderID != bob.SessionID {
		t.Errorf("TakeOver = %+v, want different_user conflict with bob", res)
	}
}
