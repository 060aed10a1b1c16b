package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	auditdomain "cotai-security/backend/internal/audit/domain"
	sessiondomain "cotai-security/backend/internal/session/domain"
)

// Revoke ends the session bound to refreshToken. Revoking an unknown or already inactive session
// succeeds without side effects.
func (m *Manager) Revoke(ctx context.Context, refreshToken string, client ClientInfo) (err error) {
	ctx, span := tracer.Start(ctx, "token.Revoke")
	defer func() { m.finish(ctx, span, "revoke", err) }()

	claims, err := m.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return ErrInvalidSession
	}
	sess, err := m.sessions.GetByRefreshJTI(ctx, claims.ID)
	if err != nil {
		return err
	}
	if sess == nil || !sess.Active {
		return nil
	}
	return m.revokeOne(ctx, sess, sessiondomain.ReasonLogout, client)
}

// RevokeSession ends one session of accountID by id. Sessions of other accounts are reported as
// invalid.
func (m *Manager) RevokeSession(ctx context.Context, accountID, sessionID string, client ClientInfo) (err error) {
	ctx, span := tracer.Start(ctx, "token.RevokeSession", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer func() { m.finish(ctx, span, "revoke_session", err) }()

	sess, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.AccountID != accountID {
		return ErrInvalidSession
	}
	if !sess.Active {
		return nil
	}
	return m.revokeOne(ctx, sess, sessiondomain.ReasonRevoked, client)
}

func (m *Manager) revokeOne(ctx context.Context, sess *sessiondomain.Session, reason sessiondomain.RevokeReason, client ClientInfo) error {
	var ok bool
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := m.accounts.LockForUpdate(ctx, sess.AccountID); err != nil {
			return err
		}
		var err error
		ok, err = m.revokeSession(ctx, sess, reason, m.nowF())
		return err
	})
	if err != nil || !ok {
		return err
	}
	m.record(ctx, &auditdomain.Event{
		AccountID:    sess.AccountID,
		Action:       auditdomain.ActionTokenRevoked,
		ResourceType: ResourceType,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
		Details: map[string]any{
			"session_id": sess.ID,
			"reason":     string(reason),
		},
	})
	return nil
}

// RevokeAll ends every active session of accountID and returns how many were revoked.
func (m *Manager) RevokeAll(ctx context.Context, accountID string, reason sessiondomain.RevokeReason, client ClientInfo) (n int, err error) {
	ctx, span := tracer.Start(ctx, "token.RevokeAll", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer func() { m.finish(ctx, span, "revoke_all", err) }()

	n, err = m.revokeAll(ctx, accountID, reason)
	if err != nil {
		return 0, err
	}
	status := auditdomain.StatusSuccess
	if reason == sessiondomain.ReasonReuse || reason == sessiondomain.ReasonLocked {
		status = auditdomain.StatusSecurityIncident
	}
	m.record(ctx, &auditdomain.Event{
		AccountID:    accountID,
		Action:       auditdomain.ActionAllTokensRevoked,
		ResourceType: ResourceType,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
		Status:       status,
		Details: map[string]any{
			"reason":           string(reason),
			"sessions_revoked": n,
		},
	})
	return n, nil
}

// revokeAll deactivates and blacklists every active session of accountID under the account lock.
// It joins a transaction already carried by ctx.
func (m *Manager) revokeAll(ctx context.Context, accountID string, reason sessiondomain.RevokeReason) (int, error) {
	var n int
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := m.accounts.LockForUpdate(ctx, accountID); err != nil {
			return err
		}
		active, err := m.sessions.ListActiveByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		now := m.nowF()
		n = 0
		for _, s := range active {
			ok, err := m.revokeSession(ctx, s, reason, now)
			if err != nil {
				return err
			}
			if ok {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// BlacklistAccess denies an access token id until it expires. Used on logout so the access token
// stops working before its natural expiry.
func (m *Manager) BlacklistAccess(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}
	if _, err := m.blacklist.Add(ctx, jti, expiresAt); err != nil {
		return fmt.Errorf("blacklist access token: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether a token id has been revoked.
func (m *Manager) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	return m.blacklist.Contains(ctx, jti)
}
