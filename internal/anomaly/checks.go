package anomaly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cotai-security/backend/internal/audit/domain"
	"cotai-security/backend/internal/device"
	"cotai-security/backend/internal/logging"
	sessiondomain "cotai-security/backend/internal/session/domain"
	tokenservice "cotai-security/backend/internal/token/service"
)

// recentScan bounds how many prior events the geographic and user agent checks inspect.
const recentScan = 50

func (d *Detector) at(t time.Time) time.Time {
	if t.IsZero() {
		return d.nowF()
	}
	return t
}

func (d *Detector) checkBruteForceEmail(ctx context.Context, a *domain.LoginAttempt) error {
	at := d.at(a.CreatedAt)
	wc, err := d.events.CountFailedLogins(ctx, domain.Match{
		Email:     a.Email,
		Since:     at.Add(-d.cfg.BruteForceWindow),
		Until:     at,
		ExcludeID: a.ID,
	})
	if err != nil {
		return err
	}
	hit, start := fires(wc, at, d.cfg.MaxFailedLogins)
	if !hit {
		return nil
	}
	email := strings.ToLower(a.Email)
	return d.events.Record(ctx, &domain.Event{
		Action:       domain.ActionBruteForceEmail,
		ResourceType: ResourceType,
		IPAddress:    a.IPAddress,
		UserAgent:    a.UserAgent,
		Status:       domain.StatusSecurityIncident,
		DedupeKey:    dedupeKey(email, domain.ActionBruteForceEmail, windowKey(start)),
		Details: map[string]any{
			"email":               email,
			"failed_attempts":     wc.Count + 1,
			"time_window_minutes": int(d.cfg.BruteForceWindow.Minutes()),
		},
	})
}

func (d *Detector) checkBruteForceIP(ctx context.Context, a *domain.LoginAttempt) error {
	at := d.at(a.CreatedAt)
	wc, err := d.events.CountFailedLogins(ctx, domain.Match{
		IPAddress: a.IPAddress,
		Since:     at.Add(-d.cfg.BruteForceWindow),
		Until:     at,
		ExcludeID: a.ID,
	})
	if err != nil {
		return err
	}
	hit, start := fires(wc, at, d.cfg.MaxFailedLogins)
	if !hit {
		return nil
	}
	return d.events.Record(ctx, &domain.Event{
		Action:       domain.ActionBruteForceIP,
		ResourceType: ResourceType,
		IPAddress:    a.IPAddress,
		Status:       domain.StatusSecurityIncident,
		DedupeKey:    dedupeKey(a.IPAddress, domain.ActionBruteForceIP, windowKey(start)),
		Details: map[string]any{
			"failed_attempts":     wc.Count + 1,
			"time_window_minutes": int(d.cfg.BruteForceWindow.Minutes()),
		},
	})
}

// lockAccount deactivates the account, records the lock and revokes its sessions. Only the
// caller that actually locks records the event.
func (d *Detector) lockAccount(ctx context.Context, f FailedLogin) error {
	now := d.nowF()
	locked, err := d.accounts.Lock(ctx, f.AccountID, nil, now)
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	if !locked {
		return nil
	}
	logging.Ctx(ctx, d.log).Warn().
		Str("account", f.AccountID).
		Int("failures", f.ConsecutiveFailures).
		Msg("anomaly: account locked after repeated failed logins")

	client := tokenservice.ClientInfo{IPAddress: f.Attempt.IPAddress, UserAgent: f.Attempt.UserAgent}
	revoked := 0
	if d.sessions != nil {
		n, err := d.sessions.RevokeAll(ctx, f.AccountID, sessiondomain.ReasonLocked, client)
		if err != nil {
			logging.Ctx(ctx, d.log).Error().Err(err).Str("account", f.AccountID).Msg("anomaly: revoke after lockout failed")
		}
		revoked = n
	}
	return d.events.Record(ctx, &domain.Event{
		AccountID:    f.AccountID,
		Action:       domain.ActionAccountLocked,
		ResourceType: ResourceType,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
		Status:       domain.StatusSecurityIncident,
		Details: map[string]any{
			"reason":           "too many failed login attempts",
			"failed_attempts":  f.ConsecutiveFailures,
			"sessions_revoked": revoked,
		},
	})
}

func (d *Detector) checkRapidActions(ctx context.Context, e *domain.Event) error {
	at := d.at(e.CreatedAt)
	threshold := d.threshold(e.Action)
	wc, err := d.events.CountMatching(ctx, domain.Match{
		AccountID: e.AccountID,
		Action:    e.Action,
		Since:     at.Add(-d.cfg.RapidWindow),
		Until:     at,
		ExcludeID: e.ID,
	})
	if err != nil {
		return err
	}
	hit, start := fires(wc, at, threshold)
	if !hit {
		return nil
	}
	return d.events.Record(ctx, &domain.Event{
		AccountID:    e.AccountID,
		Action:       domain.ActionRapidActions,
		ResourceType: ResourceType,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		Status:       domain.StatusWarning,
		DedupeKey:    dedupeKey(e.AccountID+":"+string(e.Action), domain.ActionRapidActions, windowKey(start)),
		Details: map[string]any{
			"action_type":         string(e.Action),
			"count":               wc.Count + 1,
			"threshold":           threshold,
			"time_window_minutes": int(d.cfg.RapidWindow.Minutes()),
		},
	})
}

// checkGeographic flags an event whose address is outside the network of the account's most
// recent event from a different address, when that event is inside the geo window.
func (d *Detector) checkGeographic(ctx context.Context, e *domain.Event) error {
	at := d.at(e.CreatedAt)
	recent, err := d.events.Recent(ctx, domain.Match{
		AccountID: e.AccountID,
		Since:     at.Add(-d.cfg.GeoWindow),
		Until:     at,
		ExcludeID: e.ID,
	}, recentScan)
	if err != nil {
		return err
	}
	var prev *domain.Event
	for _, r := range recent {
		if r.IPAddress != "" && r.IPAddress != e.IPAddress {
			prev = r
			break
		}
	}
	if prev == nil || device.SameNetwork(prev.IPAddress, e.IPAddress) {
		return nil
	}
	return d.events.Record(ctx, &domain.Event{
		AccountID:    e.AccountID,
		Action:       domain.ActionGeographicAnomaly,
		ResourceType: ResourceType,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		Status:       domain.StatusWarning,
		DedupeKey:    dedupeKey(e.AccountID, domain.ActionGeographicAnomaly, e.ID),
		Details: map[string]any{
			"previous_ip":             prev.IPAddress,
			"current_ip":              e.IPAddress,
			"previous_location":       device.LocationClass(prev.IPAddress),
			"current_location":        device.LocationClass(e.IPAddress),
			"time_difference_minutes": int(at.Sub(prev.CreatedAt).Minutes()),
			"previous_timestamp":      prev.CreatedAt.UTC().Format(time.RFC3339),
		},
	})
}

func (d *Detector) checkPrivilegeEscalation(ctx context.Context, e *domain.Event) error {
	if !e.Action.IsEscalation() {
		return nil
	}
	role := ""
	if d.accounts != nil {
		acc, err := d.accounts.GetByID(ctx, e.AccountID)
		if err != nil {
			return err
		}
		if acc != nil {
			role = string(acc.Role)
		}
	}
	return d.events.Record(ctx, &domain.Event{
		AccountID:    e.AccountID,
		Action:       domain.ActionPrivilegeEscalation,
		ResourceType: ResourceType,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		Status:       domain.StatusWarning,
		DedupeKey:    dedupeKey(e.AccountID, domain.ActionPrivilegeEscalation, e.ID),
		Details: map[string]any{
			"attempted_action": string(e.Action),
			"user_role":        role,
			"action_details":   e.Details,
		},
	})
}

// checkUserAgent flags a switch to an automated-looking agent from the last agent seen for the account.
func (d *Detector) checkUserAgent(ctx context.Context, e *domain.Event) error {
	indicators := matchedAgents(e.UserAgent, d.cfg.SuspiciousAgents)
	if len(indicators) == 0 {
		return nil
	}
	recent, err := d.events.Recent(ctx, domain.Match{
		AccountID: e.AccountID,
		Until:     d.at(e.CreatedAt),
		ExcludeID: e.ID,
	}, recentScan)
	if err != nil {
		return err
	}
	var previous string
	for _, r := range recent {
		if r.UserAgent != "" {
			previous = r.UserAgent
			break
		}
	}
	if previous == "" || previous == e.UserAgent {
		return nil
	}
	return d.events.Record(ctx, &domain.Event{
		AccountID:    e.AccountID,
		Action:       domain.ActionSuspiciousUserAgent,
		ResourceType: ResourceType,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		Status:       domain.StatusWarning,
		DedupeKey:    dedupeKey(e.AccountID, domain.ActionSuspiciousUserAgent, e.ID),
		Details: map[string]any{
			"previous_user_agent":   previous,
			"current_user_agent":    e.UserAgent,
			"suspicious_indicators": indicators,
		},
	})
}
