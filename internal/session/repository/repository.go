package repository

import (
	"context"
	"time"

	"cotai-security/backend/internal/session/domain"
)

// Repository defines persistence for refresh sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// GetByRefreshJTI returns the session for a refresh jti in any state.
	GetByRefreshJTI(ctx context.Context, jti string) (*domain.Session, error)
	// ListActiveByAccount returns active sessions, most recently used first.
	ListActiveByAccount(ctx context.Context, accountID string) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// Deactivate flips an active session to inactive. Returns false when it was already inactive.
	Deactivate(ctx context.Context, id string, reason domain.RevokeReason, at time.Time) (bool, error)
	// Touch sets last_used_at on an active session. Returns false when it is no longer active.
	Touch(ctx context.Context, id string, at time.Time) (bool, error)
	// PurgeExpiredBefore deletes sessions that expired before cutoff and returns how many were removed.
	PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
