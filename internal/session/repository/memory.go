package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"warehouse-service/backend/internal/session/domain"
)

// MemoryRepository is an in-process Repository. Every method holds a single mutex, so Claim and
// TakeOver are atomic in the same way as the guarded statements of PostgresRepository.
// Used by tests and by the development server when no database is configured.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Session
}

// NewMemoryRepository returns an empty in-memory session store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[int64]*domain.Session)}
}

func (m *MemoryRepository) Create(_ context.Context, s *domain.Session) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := cloneSession(s)
	c.ID = m.nextID
	m.rows[c.ID] = c
	return c.ID, nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id int64) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[id]; ok {
		return cloneSession(s), nil
	}
	return nil, nil
}

func (m *MemoryRepository) GetByCredentials(_ context.Context, username, accessTokenHash, refreshTokenHash string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.sortedIDs() {
		s := m.rows[id]
		if s.Username == username && s.AccessTokenHash == accessTokenHash && s.RefreshTokenHash == refreshTokenHash {
			return cloneSession(s), nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) List(_ context.Context) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Session, 0, len(m.rows))
	for _, id := range m.sortedIDs() {
		out = append(out, cloneSession(m.rows[id]))
	}
	return out, nil
}

func (m *MemoryRepository) UpdateTokens(_ context.Context, id int64, username, accessTokenHash, refreshTokenHash string, expiry, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Username = username
	s.AccessTokenHash = accessTokenHash
	s.RefreshTokenHash = refreshTokenHash
	s.ExpiryTime = expiry.UTC()
	touch(s, at)
	return nil
}

func (m *MemoryRepository) TouchByID(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	touch(s, at)
	return true, nil
}

func (m *MemoryRepository) TouchByCredentials(_ context.Context, username, accessTokenHash string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, s := range m.rows {
		if s.Username == username && s.AccessTokenHash == accessTokenHash {
			touch(s, at)
			found = true
		}
	}
	return found, nil
}

func (m *MemoryRepository) FindConflict(_ context.Context, r domain.Resource, excludingID int64) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h := m.holder(r, excludingID); h != nil {
		return cloneSession(h), nil
	}
	return nil, nil
}

func (m *MemoryRepository) Claim(_ context.Context, p ClaimParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimLocked(p)
}

func (m *MemoryRepository) TakeOver(_ context.Context, p ClaimParams, username string, victimID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if victim, ok := m.rows[victimID]; ok {
		if !equalFoldTrim(victim.Username, username) {
			return ErrTakeoverDenied
		}
		delete(m.rows, victimID)
	}
	return m.claimLocked(p)
}

func (m *MemoryRepository) ReleaseResource(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.PowerUnit = nil
	s.ManifestDate = nil
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return false, nil
	}
	delete(m.rows, id)
	return true, nil
}

func (m *MemoryRepository) DeleteByResource(_ context.Context, username string, r domain.Resource) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.rows {
		if equalFoldTrim(s.Username, username) && s.Holds(r) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) DeleteExpired(_ context.Context, now, idleCutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.rows {
		if !s.ExpiryTime.After(now) || s.LastActivity.Before(idleCutoff) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }

func (m *MemoryRepository) claimLocked(p ClaimParams) error {
	s, ok := m.rows[p.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if m.holder(p.Resource, p.SessionID) != nil {
		return ErrResourceHeld
	}
	n := p.Resource.Normalize()
	pu, date := n.PowerUnit, n.ManifestDate
	s.PowerUnit = &pu
	s.ManifestDate = &date
	if p.RefreshTokenHash != "" {
		s.RefreshTokenHash = p.RefreshTokenHash
	}
	if !p.ExpiryTime.IsZero() {
		s.ExpiryTime = p.ExpiryTime.UTC()
	}
	touch(s, p.At)
	return nil
}

// holder returns the lowest-id row other than excludingID holding r. Caller holds mu.
func (m *MemoryRepository) holder(r domain.Resource, excludingID int64) *domain.Session {
	for _, id := range m.sortedIDs() {
		if id == excludingID {
			continue
		}
		if s := m.rows[id]; s.Holds(r) {
			return s
		}
	}
	return nil
}

func (m *MemoryRepository) sortedIDs() []int64 {
	ids := make([]int64, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func touch(s *domain.Session, at time.Time) {
	if at.After(s.LastActivity) {
		s.LastActivity = at.UTC()
	}
}

func cloneSession(s *domain.Session) *domain.Session {
	c := *s
	if s.PowerUnit != nil {
		v := *s.PowerUnit
		c.PowerUnit = &v
	}
	if s.ManifestDate != nil {
		v := *s.ManifestDate
		c.ManifestDate = &v
	}
	return &c
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
