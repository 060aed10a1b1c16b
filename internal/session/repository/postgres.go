package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"cotai-security/backend/internal/db"
	"cotai-security/backend/internal/session/domain"
)

const sessionColumns = `id, account_id, refresh_jti, refresh_hash, device_fingerprint, device_info, user_agent,
	ip_address, created_at, last_used_at, expires_at, is_active, revoked_at, revoke_reason`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(sqlDB *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlDB}
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetByRefreshJTI returns the session holding jti, active or not, or nil if not found.
func (r *PostgresRepository) GetByRefreshJTI(ctx context.Context, jti string) (*domain.Session, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_jti = $1`, jti)
	return scanSession(row)
}

// ListActiveByAccount returns the account's active sessions ordered by last use, newest first.
func (r *PostgresRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]*domain.Session, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE account_id = $1 AND is_active
		 ORDER BY last_used_at DESC, created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	info, err := json.Marshal(s.Device)
	if err != nil {
		return err
	}
	_, err = db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO sessions (id, account_id, refresh_jti, refresh_hash, device_fingerprint, device_info,
		   user_agent, ip_address, created_at, last_used_at, expires_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, true)`,
		s.ID, s.AccountID, s.RefreshJTI, s.RefreshTokenHash, s.DeviceFingerprint, string(info),
		s.UserAgent, s.IPAddress, s.CreatedAt, s.LastUsedAt, s.ExpiresAt)
	return err
}

// Deactivate marks the session inactive only if it is still active.
func (r *PostgresRepository) Deactivate(ctx context.Context, id string, reason domain.RevokeReason, at time.Time) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE sessions SET is_active = false, revoked_at = $2, revoke_reason = $3
		 WHERE id = $1 AND is_active`, id, at, string(reason))
	if err != nil {
		return false, err
	}
	return affected(res)
}

// Touch records use of an active session.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE sessions SET last_used_at = $2 WHERE id = $1 AND is_active`, id, at)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// PurgeExpiredBefore physically removes sessions whose expiry is older than cutoff.
func (r *PostgresRepository) PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s       domain.Session
		info    []byte
		revoked sql.NullTime
		reason  sql.NullString
	)
	err := row.Scan(&s.ID, &s.AccountID, &s.RefreshJTI, &s.RefreshTokenHash, &s.DeviceFingerprint, &info,
		&s.UserAgent, &s.IPAddress, &s.CreatedAt, &s.LastUsedAt, &s.ExpiresAt, &s.Active, &revoked, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &s.Device); err != nil {
			return nil, err
		}
	}
	if revoked.Valid {
		t := revoked.Time.UTC()
		s.RevokedAt = &t
	}
	s.RevokeReason = domain.RevokeReason(reason.String)
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastUsedAt = s.LastUsedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	return &s, nil
}
