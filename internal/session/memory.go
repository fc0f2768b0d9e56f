package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process Denylist and Limiter used when no Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
	window  time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		revoked: make(map[string]time.Time),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (m *MemoryStore) RevokeToken(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !expiresAt.After(m.now()) {
		return nil
	}
	m.revoked[jti] = expiresAt
	return nil
}

func (m *MemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiresAt, ok := m.revoked[jti]
	if !ok {
		return false, nil
	}
	if !expiresAt.After(m.now()) {
		delete(m.revoked, jti)
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, stale := range m.buckets {
		if now.After(stale.resetAt) {
			delete(m.buckets, k)
		}
	}
	b, ok := m.buckets[key]
	if !ok || b.window != window {
		b = &bucket{resetAt: now.Add(window), window: window}
		m.buckets[key] = b
	}

	if b.count >= limit {
		return false, b.resetAt.Sub(now), nil
	}

	b.count++
	return true, b.resetAt.Sub(now), nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }
