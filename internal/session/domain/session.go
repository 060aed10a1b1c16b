package domain

import (
	"time"

	"cotai-security/backend/internal/device"
)

// Session is a persisted refresh session. One row per issued refresh token.
type Session struct {
	ID                string
	AccountID         string
	RefreshJTI        string // jti of the refresh token; unique across all sessions
	RefreshTokenHash  string // SHA-256 of the refresh token
	DeviceFingerprint string
	Device            device.Info
	UserAgent         string
	IPAddress         string
	CreatedAt         time.Time
	LastUsedAt        time.Time
	ExpiresAt         time.Time
	Active            bool
	RevokedAt         *time.Time
	RevokeReason      RevokeReason
}

// RevokeReason records why a session became inactive.
type RevokeReason string

const (
	ReasonRotated RevokeReason = "rotated"
	ReasonRevoked RevokeReason = "revoked"
	ReasonLogout  RevokeReason = "logout"
	ReasonEvicted RevokeReason = "evicted"
	ReasonReuse   RevokeReason = "reuse_detected"
	ReasonLocked  RevokeReason = "account_locked"
)

// Expired reports whether the session's refresh token has expired at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Live reports whether the session can still be refreshed at now.
func (s *Session) Live(now time.Time) bool {
	return s.Active && !s.Expired(now)
}
