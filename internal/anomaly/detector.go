// Package anomaly runs the security checks that turn audit events and failed logins into
// findings. Checks are read-only except for the findings they record and the lockout they
// trigger after repeated failed logins.
package anomaly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	accountdomain "cotai-security/backend/internal/account/domain"
	"cotai-security/backend/internal/audit/domain"
	"cotai-security/backend/internal/logging"
	sessiondomain "cotai-security/backend/internal/session/domain"
	tokenservice "cotai-security/backend/internal/token/service"
)

// ResourceType is the audit resource type of findings.
const ResourceType = "SECURITY"

// EventLog is the audit log surface the detector reads and writes.
type EventLog interface {
	Record(ctx context.Context, e *domain.Event) error
	CountMatching(ctx context.Context, m domain.Match) (domain.WindowCount, error)
	Recent(ctx context.Context, m domain.Match, limit int) ([]*domain.Event, error)
	CountFailedLogins(ctx context.Context, m domain.Match) (domain.WindowCount, error)
}

// Accounts reads and locks accounts.
type Accounts interface {
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
	Lock(ctx context.Context, id string, until *time.Time, at time.Time) (bool, error)
}

// SessionRevoker ends every session of an account.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, accountID string, reason sessiondomain.RevokeReason, client tokenservice.ClientInfo) (int, error)
}

// Config holds windows and thresholds for every check.
type Config struct {
	// MaxFailedLogins is the brute-force threshold and the consecutive-failure lockout threshold.
	MaxFailedLogins  int
	BruteForceWindow time.Duration
	RapidWindow      time.Duration
	// RapidThresholds maps an action name to its per-window limit.
	RapidThresholds map[string]int
	RapidDefault    int
	GeoWindow       time.Duration
	// SuspiciousAgents are lowercase substrings marking automated user agents.
	SuspiciousAgents []string
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MaxFailedLogins:  5,
		BruteForceWindow: 15 * time.Minute,
		RapidWindow:      5 * time.Minute,
		RapidThresholds: map[string]int{
			string(domain.ActionLoginSuccess):    3,
			string(domain.ActionFileDownload):    20,
			string(domain.ActionAPIRequest):      100,
			string(domain.ActionPasswordChanged): 2,
			string(domain.ActionMFAVerify):       10,
		},
		RapidDefault:     50,
		GeoWindow:        time.Hour,
		SuspiciousAgents: []string{"bot", "crawler", "spider", "scraper", "automated", "curl", "wget", "python", "java", "go-http"},
	}
}

// FailedLogin describes one rejected login attempt after it was recorded.
type FailedLogin struct {
	Attempt *domain.LoginAttempt
	// AccountID is empty when the email matched no account.
	AccountID string
	// ConsecutiveFailures is the account's failure counter including this attempt.
	ConsecutiveFailures int
}

// Detector evaluates the checks. It is safe for concurrent use.
type Detector struct {
	events   EventLog
	accounts Accounts
	sessions SessionRevoker
	cfg      Config
	log      zerolog.Logger
	nowF     func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(d *Detector) { d.nowF = now } }

// New returns a Detector. Zero config fields fall back to DefaultConfig.
func New(events EventLog, accounts Accounts, sessions SessionRevoker, cfg Config, log zerolog.Logger, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.MaxFailedLogins < 1 {
		cfg.MaxFailedLogins = def.MaxFailedLogins
	}
	if cfg.BruteForceWindow <= 0 {
		cfg.BruteForceWindow = def.BruteForceWindow
	}
	if cfg.RapidWindow <= 0 {
		cfg.RapidWindow = def.RapidWindow
	}
	if cfg.RapidThresholds == nil {
		cfg.RapidThresholds = def.RapidThresholds
	}
	if cfg.RapidDefault < 1 {
		cfg.RapidDefault = def.RapidDefault
	}
	if cfg.GeoWindow <= 0 {
		cfg.GeoWindow = def.GeoWindow
	}
	if cfg.SuspiciousAgents == nil {
		cfg.SuspiciousAgents = def.SuspiciousAgents
	}
	d := &Detector{
		events:   events,
		accounts: accounts,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		nowF:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnEvent runs the per-event checks. It implements audit.Observer, so it never sees findings.
func (d *Detector) OnEvent(ctx context.Context, e *domain.Event) {
	if e == nil || e.AccountID == "" || e.Action.IsFinding() {
		return
	}
	d.run(ctx, "rapid_actions", func() error { return d.checkRapidActions(ctx, e) })
	if e.IPAddress != "" {
		d.run(ctx, "geographic", func() error { return d.checkGeographic(ctx, e) })
	}
	d.run(ctx, "privilege_escalation", func() error { return d.checkPrivilegeEscalation(ctx, e) })
	if e.UserAgent != "" {
		d.run(ctx, "user_agent", func() error { return d.checkUserAgent(ctx, e) })
	}
}

// OnFailedLogin runs the brute-force checks for a recorded failed attempt and locks the account
// once its consecutive failures reach MaxFailedLogins.
func (d *Detector) OnFailedLogin(ctx context.Context, f FailedLogin) {
	if f.Attempt == nil {
		return
	}
	if f.Attempt.Email != "" {
		d.run(ctx, "brute_force_email", func() error { return d.checkBruteForceEmail(ctx, f.Attempt) })
	}
	if f.Attempt.IPAddress != "" {
		d.run(ctx, "brute_force_ip", func() error { return d.checkBruteForceIP(ctx, f.Attempt) })
	}
	if f.AccountID != "" && f.ConsecutiveFailures >= d.cfg.MaxFailedLogins {
		d.run(ctx, "lockout", func() error { return d.lockAccount(ctx, f) })
	}
}

// ShouldLock reports whether a consecutive failure count triggers lockout.
func (d *Detector) ShouldLock(consecutiveFailures int) bool {
	return consecutiveFailures >= d.cfg.MaxFailedLogins
}

// run executes one check; failures are logged and never reach the caller.
func (d *Detector) run(ctx context.Context, check string, fn func() error) {
	if err := fn(); err != nil {
		logging.Ctx(ctx, d.log).Error().Err(err).Str("check", check).Msg("anomaly: check failed")
	}
}

func (d *Detector) threshold(a domain.Action) int {
	if n, ok := d.cfg.RapidThresholds[string(a)]; ok && n > 0 {
		return n
	}
	return d.cfg.RapidDefault
}

// fires reports whether a window holding prior events plus the trigger reaches threshold,
// and returns the window start used for deduplication.
func fires(wc domain.WindowCount, trigger time.Time, threshold int) (bool, time.Time) {
	start := wc.Earliest
	if wc.Count == 0 || trigger.Before(start) {
		start = trigger
	}
	return wc.Count+1 >= threshold, start
}

func dedupeKey(subject string, action domain.Action, windowStart string) string {
	return fmt.Sprintf("%s|%s|%s", subject, action, windowStart)
}

func windowKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func matchedAgents(ua string, signatures []string) []string {
	lower := strings.ToLower(ua)
	var out []string
	for _, s := range signatures {
		if s != "" && strings.Contains(lower, s) {
			out = append(out, s)
		}
	}
	return out
}
