package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cotai-security/backend/internal/audit/domain"
)

var eventCols = []string{"id", "account_id", "action", "resource_type", "ip_address", "user_agent", "details",
	"status", "duration_ms", "dedupe_key", "created_at"}

func newMock(t *testing.T) (*PostgresRepository, *PostgresLoginAttemptRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewPostgresRepository(sqlDB), NewPostgresLoginAttemptRepository(sqlDB), mock
}

func TestCreate_Inserted(t *testing.T) {
	repo, _, mock := newMock(t)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING")).
		WithArgs("ev-1", "acc-1", "TOKEN_CREATED", "session", "10.0.0.1", "ua", `{"session_id":"s-1"}`,
			"SUCCESS", nil, nil, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Create(context.Background(), &domain.Event{
		ID: "ev-1", AccountID: "acc-1", Action: domain.ActionTokenCreated, ResourceType: "session",
		IPAddress: "10.0.0.1", UserAgent: "ua", Details: map[string]any{"session_id": "s-1"},
		Status: domain.StatusSuccess, CreatedAt: at,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreate_DuplicateDedupeKey(t *testing.T) {
	repo, _, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Create(context.Background(), &domain.Event{
		ID: "ev-2", Action: domain.ActionRapidActions, Status: domain.StatusWarning, DedupeKey: "k", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuery_FiltersAndPaging(t *testing.T) {
	repo, _, mock := newMock(t)
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_events WHERE account_id = $1 AND status = $2 AND created_at >= $3")).
		WithArgs("acc-1", "CRITICAL", start).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(41))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT $4 OFFSET $5")).
		WithArgs("acc-1", "CRITICAL", start, 20, 40).
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow("ev-9", "acc-1", "TOKEN_REUSE_ATTACK", "session", "1.2.3.4", "ua", []byte(`{"jti":"abc"}`),
				"CRITICAL", int64(12), nil, start.Add(time.Hour)))

	events, total, err := repo.Query(context.Background(),
		domain.Filter{AccountID: "acc-1", Status: domain.StatusCritical, Start: &start}, 20, 40)
	require.NoError(t, err)
	assert.Equal(t, 41, total)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ActionTokenReuseAttack, events[0].Action)
	assert.Equal(t, "abc", events[0].Details["jti"])
	require.NotNil(t, events[0].DurationMS)
	assert.Equal(t, int64(12), *events[0].DurationMS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountMatching_WindowPredicate(t *testing.T) {
	repo, _, mock := newMock(t)
	since := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	until := since.Add(5 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), MIN(created_at) FROM audit_events WHERE account_id = $1 AND action = $2 AND created_at >= $3 AND created_at <= $4 AND id <> $5")).
		WithArgs("acc-1", "LOGIN_SUCCESS", since, until, "ev-3").
		WillReturnRows(sqlmock.NewRows([]string{"count", "min"}).AddRow(2, since))

	wc, err := repo.CountMatching(context.Background(), domain.Match{
		AccountID: "acc-1", Action: domain.ActionLoginSuccess, Since: since, Until: until, ExcludeID: "ev-3",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, wc.Count)
	assert.True(t, wc.Earliest.Equal(since))
}

func TestCountMatching_Empty(t *testing.T) {
	repo, _, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_events WHERE ip_address = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "min"}).AddRow(0, nil))

	wc, err := repo.CountMatching(context.Background(), domain.Match{IPAddress: "1.2.3.4", Action: domain.ActionAPIRequest, Since: time.Now()})
	require.NoError(t, err)
	assert.Zero(t, wc.Count)
	assert.True(t, wc.Earliest.IsZero())
}

func TestRecent_WithoutAction(t *testing.T) {
	repo, _, mock := newMock(t)
	since := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE account_id = $1 AND created_at >= $2 AND id <> $3 ORDER BY created_at DESC LIMIT $4")).
		WithArgs("acc-1", since, "ev-1", 1).
		WillReturnRows(sqlmock.NewRows(eventCols))

	list, err := repo.Recent(context.Background(), domain.Match{AccountID: "acc-1", Since: since, ExcludeID: "ev-1"}, 1)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummary(t *testing.T) {
	repo, _, mock := newMock(t)
	start, end := time.Now().Add(-time.Hour), time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(DISTINCT account_id)")).
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c"}).AddRow(10, 3, 2))

	s, err := repo.Summary(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{TotalEvents: 10, UniqueAccounts: 3, SecurityIncidents: 2}, s)
}

func TestLoginAttempts_CountFailedByEmail(t *testing.T) {
	_, attempts, mock := newMock(t)
	since := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM login_attempts WHERE lower(email) = lower($1) AND NOT success AND created_at >= $2 AND id <> $3")).
		WithArgs("a@example.com", since, "la-5").
		WillReturnRows(sqlmock.NewRows([]string{"count", "min"}).AddRow(4, since))

	wc, err := attempts.CountFailed(context.Background(), domain.Match{Email: "a@example.com", Since: since, ExcludeID: "la-5"})
	require.NoError(t, err)
	assert.Equal(t, 4, wc.Count)
}

func TestLoginAttempts_StatsAndCreate(t *testing.T) {
	_, attempts, mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO login_attempts")).
		WithArgs("la-1", "a@example.com", "1.2.3.4", "ua", false, "INVALID_PASSWORD", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM login_attempts WHERE created_at >= $1")).
		WithArgs(at).
		WillReturnRows(sqlmock.NewRows([]string{"t", "s", "f"}).AddRow(4, 3, 1))

	require.NoError(t, attempts.CreateAttempt(context.Background(), &domain.LoginAttempt{
		ID: "la-1", Email: "a@example.com", IPAddress: "1.2.3.4", UserAgent: "ua",
		FailureReason: domain.FailureInvalidPassword, CreatedAt: at,
	}))
	stats, err := attempts.LoginStats(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, domain.LoginStats{Total: 4, Success: 3, Failed: 1}, stats)
	assert.InDelta(t, 75.0, stats.SuccessRate(), 0.001)
}
