package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"warehouse-service/backend/internal/security"
	"warehouse-service/backend/internal/session/domain"
	"warehouse-service/backend/internal/session/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type auditEntry struct {
	username  string
	sessionID int64
	action    string
	metadata  string
}

type memAuditLogger struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (l *memAuditLogger) LogEvent(_ context.Context, username string, sessionID int64, action, _, metadata string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, auditEntry{username, sessionID, action, metadata})
}

func (l *memAuditLogger) actions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.action
	}
	return out
}

type harness struct {
	clock       *testClock
	repo        *repository.MemoryRepository
	tokens      *security.TokenProvider
	audit       *memAuditLogger
	issuer      *Issuer
	coordinator *Coordinator
	guard       *Guard
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tp, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	clock := newTestClock()
	tp = tp.WithClock(clock.Now)
	repo := repository.NewMemoryRepository()
	al := &memAuditLogger{}
	opts := Options{Audit: al, Now: clock.Now}
	return &harness{
		clock:       clock,
		repo:        repo,
		tokens:      tp,
		audit:       al,
		issuer:      NewIssuer(repo, tp, 5*time.Minute, opts),
		coordinator: NewCoordinator(repo, nil, tp, opts),
		guard:       NewGuard(repo, opts),
	}
}

func (h *harness) login(t *testing.T, username string) *TokenPair {
	t.Helper()
	pair, err := h.issuer.Issue(context.Background(), username, 0)
	if err != nil {
		t.Fatalf("Issue(%q): %v", username, err)
	}
	return pair
}

func (h *harness) claimReq(p *TokenPair, r domain.Resource) ClaimRequest {
	return ClaimRequest{
		SessionID:    p.SessionID,
		Username:     p.Username,
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		Resource:     r,
	}
}
