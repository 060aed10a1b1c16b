package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cotai-security/backend/internal/audit/domain"
	auditrepo "cotai-security/backend/internal/audit/repository"
	"cotai-security/backend/internal/device"
	"cotai-security/backend/internal/logging"
	"cotai-security/backend/internal/telemetry"
)

// Observer is notified after an event is persisted. Detector findings are not delivered to observers.
type Observer interface {
	OnEvent(ctx context.Context, e *domain.Event)
}

// Recorder writes audit events. Implemented by Logger; consumers declare it to stay decoupled.
type Recorder interface {
	Record(ctx context.Context, e *domain.Event) error
}

// Logger is the append-only audit event log. It persists events, fans them out to observers
// (the anomaly detector) and exports them asynchronously.
type Logger struct {
	repo     auditrepo.Repository
	attempts auditrepo.LoginAttemptRepository
	log      zerolog.Logger
	nowF     func() time.Time
	metrics  *telemetry.Metrics
	enrich   telemetry.Enricher

	// siem receives HIGH and CRITICAL events; stream receives everything.
	siem   telemetry.EventEmitter
	stream telemetry.EventEmitter

	mu        sync.RWMutex
	observers []Observer
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(l *Logger) { l.nowF = now } }

// WithMetrics counts recorded events.
func WithMetrics(m *telemetry.Metrics) Option { return func(l *Logger) { l.metrics = m } }

// WithSIEM exports HIGH and CRITICAL events to e.
func WithSIEM(e telemetry.EventEmitter) Option { return func(l *Logger) { l.siem = e } }

// WithStream exports every event to e.
func WithStream(e telemetry.EventEmitter) Option { return func(l *Logger) { l.stream = e } }

// WithEnricher replaces the default location-class enrichment applied before export.
func WithEnricher(fn telemetry.Enricher) Option { return func(l *Logger) { l.enrich = fn } }

// NewLogger returns a Logger that persists to repo and attempts.
func NewLogger(repo auditrepo.Repository, attempts auditrepo.LoginAttemptRepository, log zerolog.Logger, opts ...Option) *Logger {
	l := &Logger{
		repo:     repo,
		attempts: attempts,
		log:      log,
		nowF:     func() time.Time { return time.Now().UTC() },
		enrich:   locationEnricher,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe registers an observer for future events.
func (l *Logger) Subscribe(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// Record appends e, assigning ID and timestamp when unset. Unknown actions are rejected.
// A finding whose dedupe key already exists is silently dropped.
func (l *Logger) Record(ctx context.Context, e *domain.Event) error {
	if !e.Action.Valid() {
		return fmt.Errorf("audit: unknown action %q", e.Action)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.nowF()
	}
	if e.Status == "" {
		e.Status = domain.StatusSuccess
	}
	inserted, err := l.repo.Create(ctx, e)
	if err != nil {
		return fmt.Errorf("audit: record %s: %w", e.Action, err)
	}
	if !inserted {
		logging.Ctx(ctx, l.log).Debug().Str("action", string(e.Action)).Str("dedupe_key", e.DedupeKey).
			Msg("audit: duplicate finding dropped")
		return nil
	}
	l.metrics.AuditEvent(ctx, string(e.Action), string(e.Status))
	l.export(e)

	if e.Action.IsFinding() {
		return nil
	}
	l.mu.RLock()
	observers := l.observers
	l.mu.RUnlock()
	for _, o := range observers {
		o.OnEvent(ctx, e)
	}
	return nil
}

// LogEvent records e best-effort: failures are logged and do not affect the caller.
func (l *Logger) LogEvent(ctx context.Context, e *domain.Event) {
	if l == nil || l.repo == nil {
		return
	}
	if err := l.Record(ctx, e); err != nil {
		logging.Ctx(ctx, l.log).Error().Err(err).Str("action", string(e.Action)).Msg("audit: failed to log event")
	}
}

// RecordLoginAttempt appends a login attempt, assigning ID and timestamp when unset.
func (l *Logger) RecordLoginAttempt(ctx context.Context, a *domain.LoginAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.nowF()
	}
	if err := l.attempts.CreateAttempt(ctx, a); err != nil {
		return fmt.Errorf("audit: record login attempt: %w", err)
	}
	return nil
}

// CountMatching counts events in a detection window.
func (l *Logger) CountMatching(ctx context.Context, m domain.Match) (domain.WindowCount, error) {
	return l.repo.CountMatching(ctx, m)
}

// Recent returns the newest events in a window.
func (l *Logger) Recent(ctx context.Context, m domain.Match, limit int) ([]*domain.Event, error) {
	return l.repo.Recent(ctx, m, limit)
}

// CountFailedLogins counts failed login attempts for an email or IP in a window.
func (l *Logger) CountFailedLogins(ctx context.Context, m domain.Match) (domain.WindowCount, error) {
	return l.attempts.CountFailed(ctx, m)
}

func (l *Logger) export(e *domain.Event) {
	if l.siem == nil && l.stream == nil {
		return
	}
	sev := SeverityOf(e.Action, e.Status)
	var targets telemetry.Multi
	if l.stream != nil {
		targets = append(targets, l.stream)
	}
	if l.siem != nil && sev >= SeverityHigh {
		targets = append(targets, l.siem)
	}
	if len(targets) == 0 {
		return
	}
	telemetry.EmitAsync(targets, toSecurityEvent(e, sev), l.enrich)
}

func toSecurityEvent(e *domain.Event, sev Severity) *telemetry.SecurityEvent {
	details := make(map[string]any, len(e.Details))
	for k, v := range e.Details {
		details[k] = v
	}
	return &telemetry.SecurityEvent{
		ID:           e.ID,
		AccountID:    e.AccountID,
		Action:       string(e.Action),
		Status:       string(e.Status),
		Severity:     sev.String(),
		ResourceType: e.ResourceType,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		Details:      details,
		Timestamp:    e.CreatedAt,
	}
}

func locationEnricher(_ context.Context, se *telemetry.SecurityEvent) {
	if se.IPAddress != "" {
		se.LocationClass = device.LocationClass(se.IPAddress)
	}
}
