package repository

import (
	"context"
	"time"

	"cotai-security/backend/internal/audit/domain"
)

// Repository defines persistence for audit events. There is no update or delete.
type Repository interface {
	// Create inserts e. Returns false when an event with the same dedupe key already exists.
	Create(ctx context.Context, e *domain.Event) (bool, error)
	// Query returns events matching f, newest first, plus the total match count.
	Query(ctx context.Context, f domain.Filter, limit, offset int) ([]*domain.Event, int, error)
	// CountMatching counts events in a detection window, excluding m.ExcludeID.
	CountMatching(ctx context.Context, m domain.Match) (domain.WindowCount, error)
	// Recent returns up to limit events in the window, newest first, excluding m.ExcludeID.
	Recent(ctx context.Context, m domain.Match, limit int) ([]*domain.Event, error)
	// TopAccounts ranks accounts by event volume since the given time.
	TopAccounts(ctx context.Context, since time.Time, limit int) ([]domain.AccountActivity, error)
	// IPActivity counts events per client IP since the given time.
	IPActivity(ctx context.Context, since time.Time) ([]domain.IPCount, error)
	// Summary aggregates events in [start, end] for compliance reporting.
	Summary(ctx context.Context, start, end time.Time) (domain.Summary, error)
}

// LoginAttemptRepository defines persistence for login attempts.
type LoginAttemptRepository interface {
	CreateAttempt(ctx context.Context, a *domain.LoginAttempt) error
	// CountFailed counts failed attempts in the window for m.Email or m.IPAddress, excluding m.ExcludeID.
	CountFailed(ctx context.Context, m domain.Match) (domain.WindowCount, error)
	LoginStats(ctx context.Context, since time.Time) (domain.LoginStats, error)
	// FailedByIP ranks client IPs by failed attempts since the given time.
	FailedByIP(ctx context.Context, since time.Time, limit int) ([]domain.IPCount, error)
}
