package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"warehouse-service/backend/internal/driver/domain"
)

// MemoryRepository keeps drivers in process. Used by tests and the development server.
type MemoryRepository struct {
	mu      sync.Mutex
	drivers map[string]domain.Driver
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{drivers: make(map[string]domain.Driver)}
}

func (m *MemoryRepository) GetByUsername(_ context.Context, username string) (*domain.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[strings.ToLower(domain.NormalizeUsername(username))]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryRepository) Upsert(_ context.Context, d *domain.Driver) error {
	if err := d.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *d
	c.Username = domain.NormalizeUsername(d.Username)
	key := strings.ToLower(c.Username)
	if existing, ok := m.drivers[key]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.drivers[key] = c
	return nil
}
