package blacklist

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore is a process-local Store backed by ttlcache. Use it for single-instance
// deployments and tests; multi-instance deployments need RedisStore.
type MemoryStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, time.Time]
	nowF  func() time.Time
}

// NewMemoryStore returns a MemoryStore and starts its expiry loop. Call Close to stop it.
func NewMemoryStore() *MemoryStore {
	c := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)
	go c.Start()
	return &MemoryStore{cache: c, nowF: time.Now}
}

func (s *MemoryStore) Add(_ context.Context, jti string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(s.nowF())
	if ttl <= 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache.Has(jti) {
		return false, nil
	}
	s.cache.Set(jti, expiresAt, ttl)
	return true, nil
}

func (s *MemoryStore) Contains(_ context.Context, jti string) (bool, error) {
	return s.cache.Has(jti), nil
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Purge drops expired entries and returns how many were removed.
func (s *MemoryStore) Purge(_ context.Context) int {
	before := s.cache.Len()
	s.cache.DeleteExpired()
	if n := before - s.cache.Len(); n > 0 {
		return n
	}
	return 0
}

// Close stops the expiry loop.
func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}
