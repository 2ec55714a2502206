package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"warehouse-service/backend/internal/session/domain"
)

// contractBase is far in the past so DeleteExpired against a shared database only reaches rows created here.
var contractBase = time.Date(2001, 3, 4, 10, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) Repository

// fixture names are unique per test so runs against a shared database do not collide.
type fixture struct {
	repo   Repository
	prefix string
}

func newFixture(t *testing.T, newStore storeFactory) *fixture {
	t.Helper()
	return &fixture{repo: newStore(t), prefix: strings.ToUpper(uuid.NewString()[:8])}
}

func (f *fixture) user(name string) string { return "it-" + strings.ToLower(f.prefix) + "-" + name }

func (f *fixture) resource(n string) domain.Resource {
	return domain.NewResource("PU"+f.prefix+n, "03042001")
}

func (f *fixture) create(t *testing.T, name string, lastActivity time.Time) *domain.Session {
	t.Helper()
	s := &domain.Session{
		Username:         f.user(name),
		AccessTokenHash:  "access-" + f.prefix + "-" + name,
		RefreshTokenHash: "refresh-" + f.prefix + "-" + name,
		ExpiryTime:       contractBase.Add(24 * time.Hour),
		LoginTime:        lastActivity,
		LastActivity:     lastActivity,
	}
	id, err := f.repo.Create(context.Background(), s)
	if err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
	s.ID = id
	return s
}

func (f *fixture) get(t *testing.T, id int64) *domain.Session {
	t.Helper()
	s, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%d): %v", id, err)
	}
	return s
}

func (f *fixture) claim(id int64, r domain.Resource) error {
	return f.repo.Claim(context.Background(), ClaimParams{SessionID: id, Resource: r, At: contractBase})
}

func runContract(t *testing.T, newStore storeFactory) {
	t.Run("CreateAndLookup", func(t *testing.T) { testCreateAndLookup(t, newFixture(t, newStore)) })
	t.Run("ClaimIsExclusive", func(t *testing.T) { testClaimIsExclusive(t, newFixture(t, newStore)) })
	t.Run("ClaimUpdatesCredentials", func(t *testing.T) { testClaimUpdatesCredentials(t, newFixture(t, newStore)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newFixture(t, newStore)) })
	t.Run("TakeOver", func(t *testing.T) { testTakeOver(t, newFixture(t, newStore)) })
	t.Run("ReleaseAndDelete", func(t *testing.T) { testReleaseAndDelete(t, newFixture(t, newStore)) })
	t.Run("Touch", func(t *testing.T) { testTouch(t, newFixture(t, newStore)) })
	t.Run("UpdateTokens", func(t *testing.T) { testUpdateTokens(t, newFixture(t, newStore)) })
	t.Run("DeleteExpired", func(t *testing.T) { testDeleteExpired(t, newFixture(t, newStore)) })
}

func testCreateAndLookup(t *testing.T, f *fixture) {
	ctx := context.Background()
	a := f.create(t, "a", contractBase)

	got := f.get(t, a.ID)
	if got == nil || got.Username != a.Username || got.AccessTokenHash != a.AccessTokenHash {
		t.Fatalf("GetByID = %+v, want %+v", got, a)
	}
	if _, held := got.Resource(); held {
		t.Error("new session should not hold a resource")
	}
	if !got.ExpiryTime.Equal(a.ExpiryTime) || !got.LastActivity.Equal(a.LastActivity) {
		t.Errorf("times = %v/%v, want %v/%v", got.ExpiryTime, got.LastActivity, a.ExpiryTime, a.LastActivity)
	}
	if missing := f.get(t, a.ID+1_000_000); missing != nil {
		t.Errorf("GetByID(missing) = %+v, want nil", missing)
	}

	byCreds, err := f.repo.GetByCredentials(ctx, a.Username, a.AccessTokenHash, a.RefreshTokenHash)
	if err != nil || byCreds == nil || byCreds.ID != a.ID {
		t.Fatalf("GetByCredentials = %+v, %v", byCreds, err)
	}
	if s, _ := f.repo.GetByCredentials(ctx, a.Username, a.AccessTokenHash, "other"); s != nil {
		t.Error("GetByCredentials matched a different refresh digest")
	}

	rows, err := f.repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var found bool
	for _, s := range rows {
		found = found || s.ID == a.ID
	}
	if !found {
		t.Error("List does not include the created session")
	}
	if err := f.repo.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func testClaimIsExclusive(t *testing.T, f *fixture) {
	ctx := context.Background()
	a := f.create(t, "a", contractBase)
	b := f.create(t, "b", contractBase)
	r := f.resource("1")

	if err := f.claim(a.ID, r); err != nil {
		t.Fatalf("Claim(a): %v", err)
	}
	if err := f.claim(a.ID, r); err != nil {
		t.Fatalf("Claim(a) again: %v", err)
	}
	lower := domain.Resource{PowerUnit: " " + strings.ToLower(r.PowerUnit), ManifestDate: r.ManifestDate}
	if err := f.claim(b.ID, lower); !errors.Is(err, ErrResourceHeld) {
		t.Fatalf("Claim(b) err = %v, want ErrResourceHeld", err)
	}
	if err := f.claim(a.ID+1_000_000, f.resource("2")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Claim(missing) err = %v, want ErrSessionNotFound", err)
	}

	holder, err := f.repo.FindConflict(ctx, lower, b.ID)
	if err != nil || holder == nil || holder.ID != a.ID {
		t.Fatalf("FindConflict excluding b = %+v, %v; want a", holder, err)
	}
	if holder, _ := f.repo.FindConflict(ctx, r, a.ID); holder != nil {
		t.Errorf("FindConflict excluding holder = %+v, want nil", holder)
	}
	if held, _ := f.get(t, a.ID).Resource(); !held.Equal(r) {
		t.Errorf("a holds %v, want %v", held, r)
	}

	// Moving to a new resource frees the old one.
	if err := f.claim(a.ID, f.resource("2")); err != nil {
		t.Fatalf("Claim(a, 2): %v", err)
	}
	if err := f.claim(b.ID, r); err != nil {
		t.Fatalf("Claim(b) after a moved: %v", err)
	}
}

func testClaimUpdatesCredentials(t *testing.T, f *fixture) {
	a := f.create(t, "a", contractBase)
	expiry := contractBase.Add(48 * time.Hour)
	at := contractBase.Add(time.Minute)
	err := f.repo.Claim(context.Background(), ClaimParams{
		SessionID:        a.ID,
		Resource:         f.resource("1"),
		RefreshTokenHash: "rotated",
		ExpiryTime:       expiry,
		At:               at,
	})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	got := f.get(t, a.ID)
	if got.RefreshTokenHash != "rotated" || !got.ExpiryTime.Equal(expiry) || !got.LastActivity.Equal(at) {
		t.Errorf("after claim = %+v", got)
	}
	if got.AccessTokenHash != a.AccessTokenHash {
		t.Error("claim must not change the access digest")
	}

	// Zero values keep what is stored.
	if err := f.claim(a.ID, f.resource("1")); err != nil {
		t.Fatalf("Claim again: %v", err)
	}
	again := f.get(t, a.ID)
	if again.RefreshTokenHash != "rotated" || !again.ExpiryTime.Equal(expiry) || !again.LastActivity.Equal(at) {
		t.Errorf("zero params overwrote stored values: %+v", again)
	}
}

func testConcurrentClaims(t *testing.T, f *fixture) {
	const n = 8
	r := f.resource("race")
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = f.create(t, "racer", contractBase).ID
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			err := f.claim(id, r)
			switch {
			case err == nil:
				mu.Lock()
				winners++
				mu.Unlock()
			case !errors.Is(err, ErrResourceHeld):
				t.Errorf("Claim(%d): %v", id, err)
			}
		}(id)
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

func testTakeOver(t *testing.T, f *fixture) {
	ctx := context.Background()
	r := f.resource("1")
	victim := f.create(t, "a", contractBase)
	if err := f.claim(victim.ID, r); err != nil {
		t.Fatalf("Claim(victim): %v", err)
	}
	thief := f.create(t, "b", contractBase)
	mine := f.create(t, "a", contractBase)
	mine.Username = strings.ToUpper(mine.Username)

	if err := f.repo.TakeOver(ctx, ClaimParams{SessionID: thief.ID, Resource: r, At: contractBase}, thief.Username, victim.ID); !errors.Is(err, ErrTakeoverDenied) {
		t.Fatalf("TakeOver by other user err = %v, want ErrTakeoverDenied", err)
	}
	if f.get(t, victim.ID) == nil {
		t.Fatal("denied takeover deleted the victim")
	}

	if err := f.repo.TakeOver(ctx, ClaimParams{SessionID: mine.ID, Resource: r, At: contractBase}, mine.Username, victim.ID); err != nil {
		t.Fatalf("TakeOver by same user: %v", err)
	}
	if f.get(t, victim.ID) != nil {
		t.Error("victim still exists after takeover")
	}
	if held, _ := f.get(t, mine.ID).Resource(); !held.Equal(r) {
		t.Errorf("taker holds %v, want %v", held, r)
	}

	// A victim that is already gone still lets the claim through.
	other := f.resource("2")
	if err := f.repo.TakeOver(ctx, ClaimParams{SessionID: thief.ID, Resource: other, At: contractBase}, thief.Username, victim.ID); err != nil {
		t.Fatalf("TakeOver with vanished victim: %v", err)
	}
}

func testReleaseAndDelete(t *testing.T, f *fixture) {
	ctx := context.Background()
	r := f.resource("1")
	a := f.create(t, "a", contractBase)
	if err := f.claim(a.ID, r); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := f.repo.ReleaseResource(ctx, a.ID); err != nil {
		t.Fatalf("ReleaseResource: %v", err)
	}
	if _, held := f.get(t, a.ID).Resource(); held {
		t.Error("resource still held after release")
	}
	if err := f.repo.ReleaseResource(ctx, a.ID+1_000_000); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ReleaseResource(missing) err = %v, want ErrSessionNotFound", err)
	}

	if err := f.claim(a.ID, r); err != nil {
		t.Fatalf("re-Claim: %v", err)
	}
	if n, err := f.repo.DeleteByResource(ctx, f.user("b"), r); err != nil || n != 0 {
		t.Errorf("DeleteByResource(other user) = %d, %v; want 0", n, err)
	}
	if n, err := f.repo.DeleteByResource(ctx, strings.ToUpper(a.Username), domain.NewResource(strings.ToLower(r.PowerUnit), r.ManifestDate)); err != nil || n != 1 {
		t.Errorf("DeleteByResource(owner) = %d, %v; want 1", n, err)
	}

	b := f.create(t, "b", contractBase)
	if ok, err := f.repo.Delete(ctx, b.ID); err != nil || !ok {
		t.Errorf("Delete = %v, %v; want true", ok, err)
	}
	if ok, err := f.repo.Delete(ctx, b.ID); err != nil || ok {
		t.Errorf("Delete again = %v, %v; want false", ok, err)
	}
}

func testTouch(t *testing.T, f *fixture) {
	ctx := context.Background()
	a := f.create(t, "a", contractBase)
	later := contractBase.Add(5 * time.Minute)

	if ok, err := f.repo.TouchByID(ctx, a.ID, later); err != nil || !ok {
		t.Fatalf("TouchByID = %v, %v", ok, err)
	}
	if ok, _ := f.repo.TouchByID(ctx, a.ID, contractBase); !ok {
		t.Fatal("TouchByID with an earlier time should still match the row")
	}
	if got := f.get(t, a.ID).LastActivity; !got.Equal(later) {
		t.Errorf("LastActivity = %v, want %v (never backwards)", got, later)
	}
	if ok, _ := f.repo.TouchByID(ctx, a.ID+1_000_000, later); ok {
		t.Error("TouchByID(missing) = true")
	}

	latest := later.Add(time.Minute)
	if ok, err := f.repo.TouchByCredentials(ctx, a.Username, a.AccessTokenHash, latest); err != nil || !ok {
		t.Fatalf("TouchByCredentials = %v, %v", ok, err)
	}
	if got := f.get(t, a.ID).LastActivity; !got.Equal(latest) {
		t.Errorf("LastActivity = %v, want %v", got, latest)
	}
	if ok, _ := f.repo.TouchByCredentials(ctx, a.Username, "wrong", latest); ok {
		t.Error("TouchByCredentials matched a wrong digest")
	}
}

func testUpdateTokens(t *testing.T, f *fixture) {
	ctx := context.Background()
	a := f.create(t, "a", contractBase)
	expiry := contractBase.Add(72 * time.Hour)
	at := contractBase.Add(time.Hour)
	if err := f.repo.UpdateTokens(ctx, a.ID, a.Username, "new-access", "new-refresh", expiry, at); err != nil {
		t.Fatalf("UpdateTokens: %v", err)
	}
	got := f.get(t, a.ID)
	if got.AccessTokenHash != "new-access" || got.RefreshTokenHash != "new-refresh" || !got.ExpiryTime.Equal(expiry) || !got.LastActivity.Equal(at) {
		t.Errorf("after UpdateTokens = %+v", got)
	}
	if err := f.repo.UpdateTokens(ctx, a.ID+1_000_000, a.Username, "x", "y", expiry, at); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("UpdateTokens(missing) err = %v, want ErrSessionNotFound", err)
	}
}

func testDeleteExpired(t *testing.T, f *fixture) {
	ctx := context.Background()
	now := contractBase.Add(30 * time.Minute)
	fresh := f.create(t, "fresh", now.Add(-time.Minute))
	idle := f.create(t, "idle", now.Add(-20*time.Minute))
	expired := f.create(t, "expired", now)
	if err := f.repo.UpdateTokens(ctx, expired.ID, expired.Username, expired.AccessTokenHash, expired.RefreshTokenHash, now, now); err != nil {
		t.Fatalf("UpdateTokens: %v", err)
	}

	n, err := f.repo.DeleteExpired(ctx, now, now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteExpired = %d, want 2", n)
	}
	if f.get(t, fresh.ID) == nil {
		t.Error("fresh session was swept")
	}
	if f.get(t, idle.ID) != nil || f.get(t, expired.ID) != nil {
		t.Error("idle or expired session survived the sweep")
	}
}
