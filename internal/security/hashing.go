package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies account passwords with bcrypt.
type Hasher struct {
	Cost int
	// dummy is compared against when the account does not exist so unknown emails cost the same
	// as wrong passwords.
	dummy []byte
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to bcrypt's range. 0 uses 12.
func NewHasher(cost int) *Hasher {
	switch {
	case cost == 0:
		cost = 12
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	h := &Hasher{Cost: cost}
	h.dummy, _ = bcrypt.GenerateFromPassword([]byte("cotai-dummy-password"), cost)
	return h
}

// Hash produces a bcrypt hash of password suitable for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare returns nil when password matches hash, bcrypt.ErrMismatchedHashAndPassword otherwise.
func (h *Hasher) Compare(hash string, password []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), password)
}

// Verify reports whether plain matches hash.
func (h *Hasher) Verify(plain, hash string) bool {
	return h.Compare(hash, []byte(plain)) == nil
}

// Burn spends one comparison's worth of time without a real hash.
func (h *Hasher) Burn(plain string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plain))
}
