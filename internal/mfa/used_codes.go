package mfa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// UsedCodes remembers accepted codes per account until they can no longer validate.
// Codes are kept hashed.
type UsedCodes struct {
	mu   sync.Mutex
	m    map[string]time.Time
	nowF func() time.Time
}

// NewUsedCodes returns an empty in-memory store.
func NewUsedCodes() *UsedCodes {
	return &UsedCodes{
		m:    make(map[string]time.Time),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// MarkUsed records code for accountID until expiresAt. It returns false when the code was already
// recorded and has not expired.
func (u *UsedCodes) MarkUsed(_ context.Context, accountID, code string, expiresAt time.Time) bool {
	key := hashCode(accountID, code)
	now := u.nowF()
	u.mu.Lock()
	defer u.mu.Unlock()
	if exp, ok := u.m[key]; ok && exp.After(now) {
		return false
	}
	u.m[key] = expiresAt
	return true
}

// Purge drops expired entries and returns how many were removed.
func (u *UsedCodes) Purge(_ context.Context) int {
	now := u.nowF()
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for k, exp := range u.m {
		if !exp.After(now) {
			delete(u.m, k)
			n++
		}
	}
	return n
}

func hashCode(accountID, code string) string {
	h := sha256.Sum256([]byte(accountID + ":" + code))
	return hex.EncodeToString(h[:])
}
