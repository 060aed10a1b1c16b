package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	accountdomain "cotai-security/backend/internal/account/domain"
	auditdomain "cotai-security/backend/internal/audit/domain"
	"cotai-security/backend/internal/device"
	"cotai-security/backend/internal/logging"
	"cotai-security/backend/internal/security"
	sessiondomain "cotai-security/backend/internal/session/domain"
)

// Refresh exchanges a refresh token for a new access token. When the session is older than the
// rotation threshold or idle past the stale threshold, the refresh token is rotated too.
//
// A well-formed token whose session was rotated away, or that names no session, is treated as a
// replay: every session of the account is revoked and ErrInvalidSession returned.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (pair *TokenPair, err error) {
	ctx, span := tracer.Start(ctx, "token.Refresh")
	start := time.Now()
	defer func() {
		m.metrics.RefreshDuration(ctx, float64(time.Since(start).Microseconds())/1000, outcomeOrOK(err))
		m.finish(ctx, span, "refresh", err)
	}()

	claims, err := m.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidSession
	}
	span.SetAttributes(attribute.String("account.id", claims.Subject))
	now := m.nowF()

	sess, err := m.sessions.GetByRefreshJTI(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case sess == nil:
		m.handleReuse(ctx, claims.Subject, claims.ID, client)
		return nil, ErrInvalidSession
	case sess.AccountID != claims.Subject:
		return nil, ErrInvalidSession
	case !sess.Active && sess.RevokeReason == sessiondomain.ReasonRotated:
		m.handleReuse(ctx, sess.AccountID, claims.ID, client)
		return nil, ErrInvalidSession
	case !sess.Active, sess.Expired(now):
		return nil, ErrSessionExpired
	}
	if !security.RefreshTokenHashEqual(refreshToken, sess.RefreshTokenHash) {
		return nil, ErrInvalidSession
	}
	listed, err := m.blacklist.Contains(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if listed {
		// Read as active but already retired by a concurrent rotation or revocation.
		return nil, ErrSessionExpired
	}

	acc, err := m.accounts.GetByID(ctx, sess.AccountID)
	if err != nil {
		return nil, err
	}
	if !acc.Usable(now) {
		return nil, ErrAccountInactive
	}

	current := device.Parse(client.UserAgent)
	if !device.Consistent(sess.Device, current) {
		m.record(ctx, &auditdomain.Event{
			AccountID:    sess.AccountID,
			Action:       auditdomain.ActionSuspiciousDeviceMismatch,
			ResourceType: ResourceType,
			IPAddress:    client.IPAddress,
			UserAgent:    client.UserAgent,
			Status:       auditdomain.StatusWarning,
			Details: map[string]any{
				"session_id":       sess.ID,
				"original_browser": sess.Device.Browser,
				"original_os":      sess.Device.OS,
				"current_browser":  current.Browser,
				"current_os":       current.OS,
			},
		})
		return nil, ErrInvalidSession
	}
	if client.IPAddress != "" && client.IPAddress != sess.IPAddress {
		logging.Ctx(ctx, m.log).Info().
			Str("session", logging.ShortID(sess.ID)).
			Str("location_class", device.LocationClass(client.IPAddress)).
			Msg("token: refresh from a new address")
	}

	if m.needsRotation(sess, now) {
		return m.rotate(ctx, sess, client, now)
	}
	return m.extend(ctx, acc, sess, refreshToken, client, now)
}

func (m *Manager) needsRotation(s *sessiondomain.Session, now time.Time) bool {
	return now.Sub(s.CreatedAt) > m.cfg.RotationThreshold || now.Sub(s.LastUsedAt) > m.cfg.StaleThreshold
}

// rotate retires sess and issues a replacement session in one transaction. The old id is
// blacklisted last, once the replacement is stored, so a failed rotation leaves it usable.
func (m *Manager) rotate(ctx context.Context, sess *sessiondomain.Session, client ClientInfo, now time.Time) (*TokenPair, error) {
	var (
		next *sessiondomain.Session
		pair *TokenPair
	)
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		acc, err := m.accounts.LockForUpdate(ctx, sess.AccountID)
		if err != nil {
			return err
		}
		if !acc.Usable(now) {
			return ErrAccountInactive
		}
		ok, err := m.sessions.Deactivate(ctx, sess.ID, sessiondomain.ReasonRotated, now)
		if err != nil {
			return err
		}
		if !ok {
			// Another refresh rotated or revoked this session first.
			return ErrSessionExpired
		}
		next, pair, err = m.newSession(ctx, acc, client, now)
		if err != nil {
			return err
		}
		if _, err := m.blacklist.Add(ctx, sess.RefreshJTI, sess.ExpiresAt); err != nil {
			return fmt.Errorf("blacklist refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	pair.Rotated = true
	m.record(ctx, &auditdomain.Event{
		AccountID:    sess.AccountID,
		Action:       auditdomain.ActionTokenRotated,
		ResourceType: ResourceType,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
		Details: map[string]any{
			"old_session_id":  sess.ID,
			"new_session_id":  next.ID,
			"session_age_sec": int64(now.Sub(sess.CreatedAt).Seconds()),
			"idle_sec":        int64(now.Sub(sess.LastUsedAt).Seconds()),
		},
	})
	return pair, nil
}

// extend issues a new access token for an unchanged session and bumps its last-used time.
func (m *Manager) extend(ctx context.Context, acc *accountdomain.Account, sess *sessiondomain.Session, refreshToken string, client ClientInfo, now time.Time) (*TokenPair, error) {
	ok, err := m.sessions.Touch(ctx, sess.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionExpired
	}
	perms, err := m.perms.Permissions(ctx, string(acc.Role), acc.Permissions)
	if err != nil {
		return nil, err
	}
	access, err := m.tokens.IssueAccess(security.AccessSubject{
		AccountID:   acc.ID,
		SessionID:   sess.ID,
		Role:        string(acc.Role),
		Permissions: perms,
		DeviceID:    device.ShortID(sess.DeviceFingerprint),
	})
	if err != nil {
		return nil, err
	}
	m.record(ctx, &auditdomain.Event{
		AccountID:    acc.ID,
		Action:       auditdomain.ActionTokenRefreshed,
		ResourceType: ResourceType,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
		Details:      map[string]any{"session_id": sess.ID},
	})
	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refreshToken,
		TokenType:        "bearer",
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: sess.ExpiresAt,
		SessionID:        sess.ID,
		AccountID:        acc.ID,
	}, nil
}

// handleReuse revokes every session of the account after a replayed refresh token and records
// the attack once per replayed token id.
func (m *Manager) handleReuse(ctx context.Context, accountID, jti string, client ClientInfo) {
	revoked, err := m.revokeAll(ctx, accountID, sessiondomain.ReasonReuse)
	if err != nil {
		logging.Ctx(ctx, m.log).Error().Err(err).Str("account", accountID).Msg("token: revoke after reuse failed")
	}
	logging.Ctx(ctx, m.log).Warn().
		Str("account", accountID).
		Str("jti", logging.ShortID(jti)).
		Int("revoked", revoked).
		Msg("token: refresh token reuse detected")

	m.record(ctx, &auditdomain.Event{
		AccountID:    accountID,
		Action:       auditdomain.ActionTokenReuseAttack,
		ResourceType: ResourceType,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
		Status:       auditdomain.StatusCritical,
		DedupeKey:    accountID + "|" + string(auditdomain.ActionTokenReuseAttack) + "|" + jti,
		Details: map[string]any{
			"token_id":         logging.ShortID(jti),
			"sessions_revoked": revoked,
		},
	})
	if revoked > 0 {
		m.record(ctx, &auditdomain.Event{
			AccountID:    accountID,
			Action:       auditdomain.ActionAllTokensRevoked,
			ResourceType: ResourceType,
			IPAddress:    client.IPAddress,
			UserAgent:    client.UserAgent,
			Status:       auditdomain.StatusSecurityIncident,
			Details: map[string]any{
				"reason":           string(sessiondomain.ReasonReuse),
				"sessions_revoked": revoked,
			},
		})
	}
}

func outcomeOrOK(err error) string {
	if err == nil {
		return "ok"
	}
	return outcomeOf(err)
}

// IsClientError reports whether err is one of the sentinel errors safe to return to callers.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSession) || errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrAccountInactive)
}
