// Package service implements the login path: credential checks, the optional second factor,
// failure counting and handing successful logins to the token manager.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	accountdomain "cotai-security/backend/internal/account/domain"
	"cotai-security/backend/internal/anomaly"
	auditdomain "cotai-security/backend/internal/audit/domain"
	"cotai-security/backend/internal/logging"
	sessiondomain "cotai-security/backend/internal/session/domain"
	tokenservice "cotai-security/backend/internal/token/service"
)

// Sentinel errors for the auth service; the HTTP handler maps them to status codes.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = tokenservice.ErrAccountInactive
	ErrMFARequired        = errors.New("mfa code required")
	ErrInvalidMFACode     = errors.New("invalid mfa code")
	ErrAccountNotFound    = errors.New("account not found")
)

// ResourceType is the audit resource type of authentication events.
const ResourceType = "auth"

// AccountRepo is the minimal account repository needed by the auth service.
type AccountRepo interface {
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
	GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error)
	IncrementFailedLogins(ctx context.Context, id string, at time.Time) (int, error)
	ResetFailedLogins(ctx context.Context, id string, at time.Time) error
	Unlock(ctx context.Context, id string, at time.Time) error
}

// PasswordVerifier checks a plaintext password against a stored hash. Burn spends the same
// work as a failed check, so unknown emails are not distinguishable by timing.
type PasswordVerifier interface {
	Verify(plain, hash string) bool
	Burn(plain string)
}

// MFAVerifier checks a second-factor code for an account.
type MFAVerifier interface {
	Verify(ctx context.Context, accountID, secret, code string) (bool, error)
}

// Tokens is the token lifecycle surface used by login and logout.
type Tokens interface {
	Issue(ctx context.Context, accountID string, client tokenservice.ClientInfo) (*tokenservice.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string, client tokenservice.ClientInfo) error
	RevokeSession(ctx context.Context, accountID, sessionID string, client tokenservice.ClientInfo) error
	RevokeAll(ctx context.Context, accountID string, reason sessiondomain.RevokeReason, client tokenservice.ClientInfo) (int, error)
	BlacklistAccess(ctx context.Context, jti string, expiresAt time.Time) error
}

// AuditLog records events and login attempts.
type AuditLog interface {
	Record(ctx context.Context, e *auditdomain.Event) error
	RecordLoginAttempt(ctx context.Context, a *auditdomain.LoginAttempt) error
}

// FailureObserver is told about every recorded failed login.
type FailureObserver interface {
	OnFailedLogin(ctx context.Context, f anomaly.FailedLogin)
}

// LoginRequest is one email/password login.
type LoginRequest struct {
	Email     string
	Password  string
	MFACode   string
	IPAddress string
	UserAgent string
}

func (r LoginRequest) client() tokenservice.ClientInfo {
	return tokenservice.ClientInfo{IPAddress: r.IPAddress, UserAgent: r.UserAgent}
}

// LoginResult holds the issued token pair and the authenticated account.
type LoginResult struct {
	Tokens  *tokenservice.TokenPair
	Account *accountdomain.Account
}

// LogoutRequest identifies what a logout ends. RefreshToken takes precedence over SessionID.
type LogoutRequest struct {
	AccountID       string
	SessionID       string
	RefreshToken    string
	AccessJTI       string
	AccessExpiresAt time.Time
	Client          tokenservice.ClientInfo
}

// AuthService implements login, logout and account unlock.
type AuthService struct {
	accounts AccountRepo
	hasher   PasswordVerifier
	mfa      MFAVerifier
	tokens   Tokens
	audit    AuditLog
	failures FailureObserver
	log      zerolog.Logger
	nowF     func() time.Time
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *AuthService) { s.nowF = now } }

// NewAuthService returns an AuthService with the given dependencies. mfa may be nil when no
// account has a second factor enrolled.
func NewAuthService(
	accounts AccountRepo,
	hasher PasswordVerifier,
	mfa MFAVerifier,
	tokens Tokens,
	audit AuditLog,
	failures FailureObserver,
	log zerolog.Logger,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		accounts: accounts,
		hasher:   hasher,
		mfa:      mfa,
		tokens:   tokens,
		audit:    audit,
		failures: failures,
		log:      log,
		nowF:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login authenticates with email and password (plus a TOTP code for MFA-enabled accounts) and
// issues a token pair. Every rejected attempt is recorded and passed to the failure observer.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}
	acc, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		s.hasher.Burn(req.Password)
		s.fail(ctx, req, email, nil, auditdomain.FailureUserNotFound, 0)
		return nil, ErrInvalidCredentials
	}
	now := s.nowF()
	if !acc.Usable(now) {
		// Attempts against a locked account are not counted, so the lock is never extended.
		s.fail(ctx, req, email, acc, auditdomain.FailureAccountInactive, 0)
		return nil, ErrAccountInactive
	}
	if !s.hasher.Verify(req.Password, acc.PasswordHash) {
		n, err := s.accounts.IncrementFailedLogins(ctx, acc.ID, now)
		if err != nil {
			return nil, fmt.Errorf("increment failed logins: %w", err)
		}
		s.fail(ctx, req, email, acc, auditdomain.FailureInvalidPassword, n)
		return nil, ErrInvalidCredentials
	}

	if acc.MFAEnabled {
		if strings.TrimSpace(req.MFACode) == "" {
			return nil, ErrMFARequired
		}
		if err := s.verifyMFA(ctx, req, email, acc, now); err != nil {
			return nil, err
		}
	}

	if err := s.accounts.ResetFailedLogins(ctx, acc.ID, now); err != nil {
		return nil, fmt.Errorf("reset failed logins: %w", err)
	}
	pair, err := s.tokens.Issue(ctx, acc.ID, req.client())
	if err != nil {
		return nil, err
	}
	s.recordAttempt(ctx, &auditdomain.LoginAttempt{
		Email:     email,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   true,
	})
	s.record(ctx, &auditdomain.Event{
		AccountID:    acc.ID,
		Action:       auditdomain.ActionLoginSuccess,
		ResourceType: ResourceType,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		Details: map[string]any{
			"session_id":  pair.SessionID,
			"mfa_enabled": acc.MFAEnabled,
		},
	})
	return &LoginResult{Tokens: pair, Account: acc}, nil
}

func (s *AuthService) verifyMFA(ctx context.Context, req LoginRequest, email string, acc *accountdomain.Account, now time.Time) error {
	if s.mfa == nil {
		return errors.New("mfa verifier not configured")
	}
	ok, err := s.mfa.Verify(ctx, acc.ID, acc.MFASecret, strings.TrimSpace(req.MFACode))
	if err != nil {
		return fmt.Errorf("verify mfa: %w", err)
	}
	status := auditdomain.StatusSuccess
	if !ok {
		status = auditdomain.StatusFailed
	}
	s.record(ctx, &auditdomain.Event{
		AccountID:    acc.ID,
		Action:       auditdomain.ActionMFAVerify,
		ResourceType: ResourceType,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		Status:       status,
	})
	if ok {
		return nil
	}
	n, err := s.accounts.IncrementFailedLogins(ctx, acc.ID, now)
	if err != nil {
		return fmt.Errorf("increment failed logins: %w", err)
	}
	s.fail(ctx, req, email, acc, auditdomain.FailureInvalidMFA, n)
	return ErrInvalidMFACode
}

// fail records a rejected attempt and its LOGIN_FAILED event, then notifies the failure observer.
// consecutive is the account's failure counter after this attempt, or 0 when it was not counted.
func (s *AuthService) fail(ctx context.Context, req LoginRequest, email string, acc *accountdomain.Account, reason auditdomain.FailureReason, consecutive int) {
	attempt := &auditdomain.LoginAttempt{
		Email:         email,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
		FailureReason: reason,
	}
	s.recordAttempt(ctx, attempt)

	accountID := ""
	if acc != nil {
		accountID = acc.ID
	}
	s.record(ctx, &auditdomain.Event{
		AccountID:    accountID,
		Action:       auditdomain.ActionLoginFailed,
		ResourceType: ResourceType,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		Status:       auditdomain.StatusFailed,
		Details: map[string]any{
			"email":  email,
			"reason": string(reason),
		},
	})

	if s.failures == nil || attempt.ID == "" {
		return
	}
	f := anomaly.FailedLogin{Attempt: attempt}
	if consecutive > 0 {
		f.AccountID = accountID
		f.ConsecutiveFailures = consecutive
	}
	s.failures.OnFailedLogin(ctx, f)
}

// Logout ends the caller's session and blacklists the presented access token.
// A malformed refresh token is ignored.
func (s *AuthService) Logout(ctx context.Context, req LogoutRequest) error {
	if err := s.tokens.BlacklistAccess(ctx, req.AccessJTI, req.AccessExpiresAt); err != nil {
		return err
	}
	switch {
	case req.RefreshToken != "":
		if err := s.tokens.Revoke(ctx, req.RefreshToken, req.Client); err != nil && !errors.Is(err, tokenservice.ErrInvalidSession) {
			return err
		}
	case req.AccountID != "" && req.SessionID != "":
		if err := s.tokens.RevokeSession(ctx, req.AccountID, req.SessionID, req.Client); err != nil && !errors.Is(err, tokenservice.ErrInvalidSession) {
			return err
		}
	}
	s.record(ctx, &auditdomain.Event{
		AccountID:    req.AccountID,
		Action:       auditdomain.ActionLogout,
		ResourceType: ResourceType,
		IPAddress:    req.Client.IPAddress,
		UserAgent:    req.Client.UserAgent,
		Details:      map[string]any{"session_id": req.SessionID},
	})
	return nil
}

// LogoutAll ends every session of the account and returns how many were active.
func (s *AuthService) LogoutAll(ctx context.Context, req LogoutRequest) (int, error) {
	if req.AccountID == "" {
		return 0, ErrAccountNotFound
	}
	if err := s.tokens.BlacklistAccess(ctx, req.AccessJTI, req.AccessExpiresAt); err != nil {
		return 0, err
	}
	n, err := s.tokens.RevokeAll(ctx, req.AccountID, sessiondomain.ReasonLogout, req.Client)
	if err != nil {
		return 0, err
	}
	s.record(ctx, &auditdomain.Event{
		AccountID:    req.AccountID,
		Action:       auditdomain.ActionLogoutAllDevices,
		ResourceType: ResourceType,
		IPAddress:    req.Client.IPAddress,
		UserAgent:    req.Client.UserAgent,
		Details:      map[string]any{"sessions_revoked": n},
	})
	return n, nil
}

// Unlock reactivates a locked account and clears its failure counter. adminID is the caller.
func (s *AuthService) Unlock(ctx context.Context, adminID, accountID string, client tokenservice.ClientInfo) error {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc == nil {
		return ErrAccountNotFound
	}
	if err := s.accounts.Unlock(ctx, accountID, s.nowF()); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	s.record(ctx, &auditdomain.Event{
		AccountID:    accountID,
		Action:       auditdomain.ActionAccountUnlocked,
		ResourceType: "account",
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
		Details: map[string]any{
			"unlocked_by":     adminID,
			"was_active":      acc.Active,
			"failed_attempts": acc.FailedLoginAttempts,
		},
	})
	return nil
}

func (s *AuthService) record(ctx context.Context, e *auditdomain.Event) {
	if err := s.audit.Record(ctx, e); err != nil {
		logging.Ctx(ctx, s.log).Error().Err(err).Str("action", string(e.Action)).Msg("auth: audit record failed")
	}
}

func (s *AuthService) recordAttempt(ctx context.Context, a *auditdomain.LoginAttempt) {
	if err := s.audit.RecordLoginAttempt(ctx, a); err != nil {
		logging.Ctx(ctx, s.log).Error().Err(err).Msg("auth: login attempt record failed")
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
