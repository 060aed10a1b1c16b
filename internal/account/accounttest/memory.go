// Package accounttest provides an in-memory account repository for tests.
package accounttest

import (
	"context"
	"strings"
	"sync"
	"time"

	"cotai-security/backend/internal/account/domain"
)

// Store implements the account repository in memory.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
}

// New returns a Store holding copies of accounts.
func New(accounts ...*domain.Account) *Store {
	s := &Store{accounts: map[string]*domain.Account{}}
	for _, a := range accounts {
		cp := *a
		s.accounts[a.ID] = &cp
	}
	return s
}

func (s *Store) GetByID(_ context.Context, id string) (*domain.Account, error) {
	return s.get(id), nil
}

func (s *Store) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

// LockForUpdate returns the account; row locking is a no-op in memory.
func (s *Store) LockForUpdate(_ context.Context, id string) (*domain.Account, error) {
	return s.get(id), nil
}

func (s *Store) Create(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *Store) IncrementFailedLogins(_ context.Context, id string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return 0, nil
	}
	a.FailedLoginAttempts++
	a.UpdatedAt = at
	return a.FailedLoginAttempts, nil
}

func (s *Store) ResetFailedLogins(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok && a.FailedLoginAttempts != 0 {
		a.FailedLoginAttempts = 0
		a.UpdatedAt = at
	}
	return nil
}

func (s *Store) Lock(_ context.Context, id string, until *time.Time, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || !a.Active {
		return false, nil
	}
	a.Active = false
	a.LockedUntil = until
	a.UpdatedAt = at
	return true, nil
}

func (s *Store) Unlock(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.Active = true
		a.LockedUntil = nil
		a.FailedLoginAttempts = 0
		a.UpdatedAt = at
	}
	return nil
}

// Get returns a copy of the stored account, or nil.
func (s *Store) Get(id string) *domain.Account {
	return s.get(id)
}

func (s *Store) get(id string) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		cp := *a
		return &cp
	}
	return nil
}
