// Package service implements the token lifecycle: issuing, refreshing, rotating and revoking
// access/refresh token pairs bound to persisted sessions.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	accountdomain "cotai-security/backend/internal/account/domain"
	auditdomain "cotai-security/backend/internal/audit/domain"
	"cotai-security/backend/internal/blacklist"
	"cotai-security/backend/internal/device"
	"cotai-security/backend/internal/logging"
	"cotai-security/backend/internal/security"
	sessiondomain "cotai-security/backend/internal/session/domain"
	"cotai-security/backend/internal/telemetry"
)

// Sentinel errors returned to callers. Messages are safe to show to end users.
var (
	ErrInvalidSession  = errors.New("invalid session")
	ErrSessionExpired  = errors.New("session expired, please log in again")
	ErrAccountInactive = errors.New("account locked")
)

// ResourceType is the audit resource type of token events.
const ResourceType = "token"

var tracer = otel.Tracer("cotai-security/backend/internal/token/service")

// AccountRepo is the minimal account repository needed by the manager.
type AccountRepo interface {
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
	LockForUpdate(ctx context.Context, id string) (*accountdomain.Account, error)
}

// SessionRepo is the minimal session repository needed by the manager.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	GetByRefreshJTI(ctx context.Context, jti string) (*sessiondomain.Session, error)
	ListActiveByAccount(ctx context.Context, accountID string) ([]*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	Deactivate(ctx context.Context, id string, reason sessiondomain.RevokeReason, at time.Time) (bool, error)
	Touch(ctx context.Context, id string, at time.Time) (bool, error)
}

// Transactor runs fn in one transaction shared by every repository call made with its ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PermissionResolver resolves the permission set embedded in access tokens.
type PermissionResolver interface {
	Permissions(ctx context.Context, role string, grants []string) ([]string, error)
}

// Recorder appends audit events.
type Recorder interface {
	Record(ctx context.Context, e *auditdomain.Event) error
}

// Config holds session limits and rotation thresholds.
type Config struct {
	MaxSessionsPerAccount int
	// RotationThreshold is the session age after which a refresh rotates the refresh token.
	RotationThreshold time.Duration
	// StaleThreshold is the idle time after which a refresh rotates the refresh token.
	StaleThreshold time.Duration
}

// DefaultConfig returns the production limits: 5 sessions, rotate after 6h or 24h idle.
func DefaultConfig() Config {
	return Config{MaxSessionsPerAccount: 5, RotationThreshold: 6 * time.Hour, StaleThreshold: 24 * time.Hour}
}

// ClientInfo is the request metadata a token operation runs for.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// TokenPair is the result of Issue and Refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	AccountID        string
	// Rotated is true when Refresh replaced the refresh token.
	Rotated bool
}

// Manager issues and manages token pairs. All reads and writes of one operation on an account's
// sessions happen inside one transaction holding the account row lock.
type Manager struct {
	accounts  AccountRepo
	sessions  SessionRepo
	tx        Transactor
	tokens    *security.TokenProvider
	blacklist blacklist.Store
	perms     PermissionResolver
	audit     Recorder
	cfg       Config
	log       zerolog.Logger
	metrics   *telemetry.Metrics
	nowF      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Token validation uses the TokenProvider's own clock.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.nowF = now } }

// WithMetrics records token operation counters.
func WithMetrics(mt *telemetry.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// NewManager returns a Manager with the given dependencies.
func NewManager(
	accounts AccountRepo,
	sessions SessionRepo,
	tx Transactor,
	tokens *security.TokenProvider,
	bl blacklist.Store,
	perms PermissionResolver,
	audit Recorder,
	cfg Config,
	log zerolog.Logger,
	opts ...Option,
) *Manager {
	if cfg.MaxSessionsPerAccount < 1 {
		cfg.MaxSessionsPerAccount = 5
	}
	m := &Manager{
		accounts:  accounts,
		sessions:  sessions,
		tx:        tx,
		tokens:    tokens,
		blacklist: bl,
		perms:     perms,
		audit:     audit,
		cfg:       cfg,
		log:       log,
		nowF:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue creates a session and token pair for an active account. Sessions beyond the cap are
// evicted least recently used first.
func (m *Manager) Issue(ctx context.Context, accountID string, client ClientInfo) (pair *TokenPair, err error) {
	ctx, span := tracer.Start(ctx, "token.Issue", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer func() { m.finish(ctx, span, "issue", err) }()

	now := m.nowF()
	var (
		sess    *sessiondomain.Session
		evicted []*sessiondomain.Session
	)
	err = m.tx.WithinTx(ctx, func(ctx context.Context) error {
		acc, err := m.accounts.LockForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if !acc.Usable(now) {
			return ErrAccountInactive
		}
		evicted, err = m.evictOverflow(ctx, accountID, now)
		if err != nil {
			return err
		}
		sess, pair, err = m.newSession(ctx, acc, client, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, s := range evicted {
		m.record(ctx, &auditdomain.Event{
			AccountID:    accountID,
			Action:       auditdomain.ActionTokenEvicted,
			ResourceType: ResourceType,
			IPAddress:    client.IPAddress,
			UserAgent:    client.UserAgent,
			Details: map[string]any{
				"session_id": s.ID,
				"reason":     "session limit reached",
				"limit":      m.cfg.MaxSessionsPerAccount,
			},
		})
	}
	m.record(ctx, &auditdomain.Event{
		AccountID:    accountID,
		Action:       auditdomain.ActionTokenCreated,
		ResourceType: ResourceType,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
		Details: map[string]any{
			"session_id": sess.ID,
			"device_id":  device.ShortID(sess.DeviceFingerprint),
			"browser":    sess.Device.Browser,
			"os":         sess.Device.OS,
		},
	})
	return pair, nil
}

// evictOverflow deactivates the least recently used sessions so one more fits under the cap.
func (m *Manager) evictOverflow(ctx context.Context, accountID string, now time.Time) ([]*sessiondomain.Session, error) {
	active, err := m.sessions.ListActiveByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	keep := m.cfg.MaxSessionsPerAccount - 1
	if len(active) <= keep {
		return nil, nil
	}
	var evicted []*sessiondomain.Session
	for _, s := range active[keep:] {
		ok, err := m.revokeSession(ctx, s, sessiondomain.ReasonEvicted, now)
		if err != nil {
			return nil, err
		}
		if ok {
			evicted = append(evicted, s)
		}
	}
	return evicted, nil
}

// newSession persists a session and signs its token pair. Must run inside the account's transaction.
func (m *Manager) newSession(ctx context.Context, acc *accountdomain.Account, client ClientInfo, now time.Time) (*sessiondomain.Session, *TokenPair, error) {
	info := device.Parse(client.UserAgent)
	fp := device.Fingerprint(client.UserAgent, client.IPAddress)
	perms, err := m.perms.Permissions(ctx, string(acc.Role), acc.Permissions)
	if err != nil {
		return nil, nil, err
	}

	refresh, err := m.tokens.IssueRefresh(acc.ID, security.DeviceClaim{
		Fingerprint: device.ShortID(fp),
		Browser:     info.Browser,
		OS:          info.OS,
		Device:      info.Device,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("issue refresh token: %w", err)
	}
	sess := &sessiondomain.Session{
		ID:                uuid.NewString(),
		AccountID:         acc.ID,
		RefreshJTI:        refresh.JTI,
		RefreshTokenHash:  security.HashRefreshToken(refresh.Token),
		DeviceFingerprint: fp,
		Device:            info,
		UserAgent:         client.UserAgent,
		IPAddress:         client.IPAddress,
		CreatedAt:         now,
		LastUsedAt:        now,
		ExpiresAt:         refresh.ExpiresAt,
		Active:            true,
	}
	access, err := m.tokens.IssueAccess(security.AccessSubject{
		AccountID:   acc.ID,
		SessionID:   sess.ID,
		Role:        string(acc.Role),
		Permissions: perms,
		DeviceID:    device.ShortID(fp),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("issue access token: %w", err)
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	return sess, &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		TokenType:        "bearer",
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		SessionID:        sess.ID,
		AccountID:        acc.ID,
	}, nil
}

// revokeSession deactivates s and blacklists its refresh token id. It reports false when s was
// no longer active, in which case nothing is blacklisted.
func (m *Manager) revokeSession(ctx context.Context, s *sessiondomain.Session, reason sessiondomain.RevokeReason, now time.Time) (bool, error) {
	ok, err := m.sessions.Deactivate(ctx, s.ID, reason, now)
	if err != nil || !ok {
		return false, err
	}
	if _, err := m.blacklist.Add(ctx, s.RefreshJTI, s.ExpiresAt); err != nil {
		return false, fmt.Errorf("blacklist refresh token: %w", err)
	}
	return true, nil
}

// record appends e best-effort.
func (m *Manager) record(ctx context.Context, e *auditdomain.Event) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(ctx, e); err != nil {
		logging.Ctx(ctx, m.log).Error().Err(err).Str("action", string(e.Action)).Msg("token: audit record failed")
	}
}

func (m *Manager) finish(ctx context.Context, span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
		span.SetStatus(codes.Error, outcome)
	}
	m.metrics.TokenOp(ctx, op, outcome)
	span.End()
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSession):
		return "invalid_session"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrAccountInactive):
		return "account_inactive"
	default:
		return "error"
	}
}
