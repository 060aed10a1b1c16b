package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"cotai-security/backend/internal/account/domain"
	"cotai-security/backend/internal/db"
)

const accountColumns = `id, email, password_hash, role, permissions, is_active, failed_login_attempts,
	locked_until, mfa_enabled, mfa_secret, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
// Calls made with a context from db.Transactor run inside that transaction.
func NewPostgresRepository(sqlDB *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlDB}
}

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByEmail returns the account with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email)
	return scanAccount(row)
}

// LockForUpdate selects the account FOR UPDATE, serializing session writes per account.
// Must be called with a transactional context; returns nil if the account does not exist.
func (r *PostgresRepository) LockForUpdate(ctx context.Context, id string) (*domain.Account, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

// Create persists the account. The account must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	perms, err := json.Marshal(nonNil(a.Permissions))
	if err != nil {
		return err
	}
	_, err = db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Email, a.PasswordHash, string(a.Role), string(perms), a.Active,
		a.FailedLoginAttempts, timeToNullTime(a.LockedUntil), a.MFAEnabled, a.MFASecret, a.CreatedAt, a.UpdatedAt)
	return err
}

// IncrementFailedLogins atomically increments the counter and returns the new value.
// Returns 0 with no error when the account does not exist.
func (r *PostgresRepository) IncrementFailedLogins(ctx context.Context, id string, at time.Time) (int, error) {
	var n int
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`UPDATE accounts SET failed_login_attempts = failed_login_attempts + 1, updated_at = $2
		 WHERE id = $1 RETURNING failed_login_attempts`, id, at).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// ResetFailedLogins sets the consecutive failure counter back to zero.
func (r *PostgresRepository) ResetFailedLogins(ctx context.Context, id string, at time.Time) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE accounts SET failed_login_attempts = 0, updated_at = $2
		 WHERE id = $1 AND failed_login_attempts <> 0`, id, at)
	return err
}

// Lock deactivates the account if it is active. Only the caller that flips the flag gets true.
func (r *PostgresRepository) Lock(ctx context.Context, id string, until *time.Time, at time.Time) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE accounts SET is_active = false, locked_until = $2, updated_at = $3 WHERE id = $1 AND is_active`,
		id, timeToNullTime(until), at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Unlock reactivates the account and clears failure state.
func (r *PostgresRepository) Unlock(ctx context.Context, id string, at time.Time) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE accounts SET is_active = true, locked_until = NULL, failed_login_attempts = 0, updated_at = $2
		 WHERE id = $1`, id, at)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a      domain.Account
		role   string
		perms  []byte
		locked sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &role, &perms, &a.Active,
		&a.FailedLoginAttempts, &locked, &a.MFAEnabled, &a.MFASecret, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Role = domain.Role(role)
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &a.Permissions); err != nil {
			return nil, err
		}
	}
	if locked.Valid {
		t := locked.Time.UTC()
		a.LockedUntil = &t
	}
	return &a, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
