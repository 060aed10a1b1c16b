// Package sessiontest provides an in-memory session repository for tests.
package sessiontest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cotai-security/backend/internal/session/domain"
)

// ErrDuplicateJTI mirrors the unique index on refresh_jti.
var ErrDuplicateJTI = errors.New("duplicate refresh jti")

// Store implements session repository semantics in memory. Deactivate and Touch are
// conditional on the session being active, like the Postgres queries.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session

	// AfterLookup, when set, runs after GetByRefreshJTI has read the store and before it returns.
	AfterLookup func()
	// CreateErr, when set, is returned by Create without storing anything.
	CreateErr error
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: map[string]*domain.Session{}}
}

func (s *Store) GetByID(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		cp := *sess
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) GetByRefreshJTI(_ context.Context, jti string) (*domain.Session, error) {
	found := s.findByJTI(jti)
	if s.AfterLookup != nil {
		s.AfterLookup()
	}
	return found, nil
}

func (s *Store) findByJTI(jti string) *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.RefreshJTI == jti {
			cp := *sess
			return &cp
		}
	}
	return nil
}

func (s *Store) ListActiveByAccount(_ context.Context, accountID string) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Session
	for _, sess := range s.sessions {
		if sess.AccountID == accountID && sess.Active {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUsedAt.Equal(out[j].LastUsedAt) {
			return out[i].LastUsedAt.After(out[j].LastUsedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Create(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	for _, existing := range s.sessions {
		if existing.RefreshJTI == sess.RefreshJTI {
			return ErrDuplicateJTI
		}
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) Deactivate(_ context.Context, id string, reason domain.RevokeReason, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.Active {
		return false, nil
	}
	sess.Active = false
	sess.RevokeReason = reason
	t := at
	sess.RevokedAt = &t
	return true, nil
}

func (s *Store) Touch(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.Active {
		return false, nil
	}
	sess.LastUsedAt = at
	return true, nil
}

func (s *Store) PurgeExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every session.
func (s *Store) All() []*domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	return out
}

// ActiveCount returns the number of active sessions for accountID.
func (s *Store) ActiveCount(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.AccountID == accountID && sess.Active {
			n++
		}
	}
	return n
}
