// Package blacklist holds revoked token ids until the tokens they name expire.
package blacklist

import (
	"context"
	"time"
)

// Store is the shared token revocation set. Entries expire with the token they name and are
// never removed earlier.
type Store interface {
	// Add blacklists jti until expiresAt. It reports false when jti was already present or the
	// token has already expired.
	Add(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
	// Contains reports whether jti is blacklisted.
	Contains(ctx context.Context, jti string) (bool, error)
}

// Purger is implemented by stores that need explicit removal of expired entries.
type Purger interface {
	Purge(ctx context.Context) int
}
