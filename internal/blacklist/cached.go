package blacklist

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultLocalTTL bounds how long a positive lookup is served from process memory.
const DefaultLocalTTL = time.Minute

// CachedStore fronts a shared Store with a local cache of positive lookups. Negative results are
// never cached, so a write through any instance is visible to the next lookup elsewhere.
type CachedStore struct {
	shared Store
	local  *ttlcache.Cache[string, struct{}]
	ttl    time.Duration
}

// NewCachedStore wraps shared. localTTL <= 0 uses DefaultLocalTTL.
func NewCachedStore(shared Store, localTTL time.Duration) *CachedStore {
	if localTTL <= 0 {
		localTTL = DefaultLocalTTL
	}
	local := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](localTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go local.Start()
	return &CachedStore{shared: shared, local: local, ttl: localTTL}
}

// Add writes through to the shared store before caching locally.
func (c *CachedStore) Add(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	added, err := c.shared.Add(ctx, jti, expiresAt)
	if err != nil {
		return false, err
	}
	if ttl := time.Until(expiresAt); ttl > 0 {
		c.local.Set(jti, struct{}{}, min(ttl, c.ttl))
	}
	return added, nil
}

func (c *CachedStore) Contains(ctx context.Context, jti string) (bool, error) {
	if c.local.Has(jti) {
		return true, nil
	}
	found, err := c.shared.Contains(ctx, jti)
	if err != nil || !found {
		return false, err
	}
	c.local.Set(jti, struct{}{}, ttlcache.DefaultTTL)
	return true, nil
}

// Purge drops expired local entries.
func (c *CachedStore) Purge(_ context.Context) int {
	before := c.local.Len()
	c.local.DeleteExpired()
	if n := before - c.local.Len(); n > 0 {
		return n
	}
	return 0
}

// Close stops the local expiry loop.
func (c *CachedStore) Close() error {
	c.local.Stop()
	return nil
}
