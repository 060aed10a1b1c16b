package repository

import (
	"context"
	"time"

	"cotai-security/backend/internal/account/domain"
)

// Repository defines persistence for accounts.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	// LockForUpdate takes a row lock on the account for the surrounding transaction.
	LockForUpdate(ctx context.Context, id string) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
	// IncrementFailedLogins bumps the consecutive failure counter and returns its new value.
	IncrementFailedLogins(ctx context.Context, id string, at time.Time) (int, error)
	ResetFailedLogins(ctx context.Context, id string, at time.Time) error
	// Lock deactivates the account; until is nil for an indefinite lock. It reports false when
	// the account was already inactive or does not exist.
	Lock(ctx context.Context, id string, until *time.Time, at time.Time) (bool, error)
	// Unlock reactivates the account and clears the failure counter.
	Unlock(ctx context.Context, id string, at time.Time) error
}
