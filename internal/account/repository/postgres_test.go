package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cotai-security/backend/internal/account/domain"
)

var accountCols = []string{"id", "email", "password_hash", "role", "permissions", "is_active",
	"failed_login_attempts", "locked_until", "mfa_enabled", "mfa_secret", "created_at", "updated_at"}

func newMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewPostgresRepository(sqlDB), mock
}

func TestGetByEmail_Found(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE lower(email) = lower($1)")).
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("acc-1", "a@example.com", "hash", "manager", []byte(`["reports:export"]`), true, 2, nil, false, "", now, now))

	a, err := repo.GetByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "acc-1", a.ID)
	assert.Equal(t, domain.RoleManager, a.Role)
	assert.Equal(t, []string{"reports:export"}, a.Permissions)
	assert.Equal(t, 2, a.FailedLoginAttempts)
	assert.Nil(t, a.LockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(accountCols))

	a, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestLockForUpdate_UsesRowLock(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 FOR UPDATE")).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("acc-1", "a@example.com", "hash", "viewer", []byte(`[]`), true, 0, nil, false, "", now, now))

	a, err := repo.LockForUpdate(context.Background(), "acc-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementFailedLogins(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SET failed_login_attempts = failed_login_attempts + 1")).
		WithArgs("acc-1", at).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts"}).AddRow(5))

	n, err := repo.IncrementFailedLogins(context.Background(), "acc-1", at)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestLockAndUnlock(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("SET is_active = false, locked_until = $2")).
		WithArgs("acc-1", sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET is_active = true, locked_until = NULL, failed_login_attempts = 0")).
		WithArgs("acc-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	locked, err := repo.Lock(context.Background(), "acc-1", nil, at)
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, repo.Unlock(context.Background(), "acc-1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLock_AlreadyInactive(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND is_active")).
		WithArgs("acc-1", sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	locked, err := repo.Lock(context.Background(), "acc-1", nil, at)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WithArgs("acc-1", "a@example.com", "hash", "admin", "[]", true, 0, sqlmock.AnyArg(), false, "", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &domain.Account{
		ID: "acc-1", Email: "a@example.com", PasswordHash: "hash", Role: domain.RoleAdmin,
		Active: true, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
