package repository

import (
	"context"
	"database/sql"
	"time"

	"cotai-security/backend/internal/audit/domain"
	"cotai-security/backend/internal/db"
)

type PostgresLoginAttemptRepository struct {
	db *sql.DB
}

// NewPostgresLoginAttemptRepository returns a login attempt repository backed by db.
func NewPostgresLoginAttemptRepository(sqlDB *sql.DB) *PostgresLoginAttemptRepository {
	return &PostgresLoginAttemptRepository{db: sqlDB}
}

// CreateAttempt appends one login attempt.
func (r *PostgresLoginAttemptRepository) CreateAttempt(ctx context.Context, a *domain.LoginAttempt) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO login_attempts (id, email, ip_address, user_agent, success, failure_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Email, a.IPAddress, a.UserAgent, a.Success, nullString(string(a.FailureReason)), a.CreatedAt)
	return err
}

// CountFailed counts failed attempts for the email (or IP) inside the window.
func (r *PostgresLoginAttemptRepository) CountFailed(ctx context.Context, m domain.Match) (domain.WindowCount, error) {
	var w where
	switch {
	case m.Email != "":
		w.add("lower(email) = lower(?)", m.Email)
	case m.IPAddress != "":
		w.add("ip_address = ?", m.IPAddress)
	}
	w.clauses = append(w.clauses, "NOT success")
	w.add("created_at >= ?", m.Since)
	if !m.Until.IsZero() {
		w.add("created_at <= ?", m.Until)
	}
	if m.ExcludeID != "" {
		w.add("id <> ?", m.ExcludeID)
	}

	var (
		wc       domain.WindowCount
		earliest sql.NullTime
	)
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM login_attempts`+w.sql(), w.args...).Scan(&wc.Count, &earliest)
	if err != nil {
		return domain.WindowCount{}, err
	}
	if earliest.Valid {
		wc.Earliest = earliest.Time.UTC()
	}
	return wc, nil
}

// LoginStats returns attempt totals since the given time.
func (r *PostgresLoginAttemptRepository) LoginStats(ctx context.Context, since time.Time) (domain.LoginStats, error) {
	var s domain.LoginStats
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE success), COUNT(*) FILTER (WHERE NOT success)
		 FROM login_attempts WHERE created_at >= $1`, since).Scan(&s.Total, &s.Success, &s.Failed)
	return s, err
}

// FailedByIP returns the client IPs with the most failed attempts since the given time.
func (r *PostgresLoginAttemptRepository) FailedByIP(ctx context.Context, since time.Time, limit int) ([]domain.IPCount, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT ip_address, COUNT(*) AS n FROM login_attempts
		 WHERE NOT success AND created_at >= $1
		 GROUP BY ip_address ORDER BY n DESC, ip_address LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIPCounts(rows)
}
