package domain

import (
	"fmt"
	"time"
)

// Action is the closed vocabulary of audit event kinds.
type Action string

const (
	ActionLoginSuccess     Action = "LOGIN_SUCCESS"
	ActionLoginFailed      Action = "LOGIN_FAILED"
	ActionLogout           Action = "LOGOUT"
	ActionLogoutAllDevices Action = "LOGOUT_ALL_DEVICES"
	ActionMFAVerify        Action = "MFA_VERIFY"
	ActionPasswordChanged  Action = "PASSWORD_CHANGED"
	ActionFileDownload     Action = "FILE_DOWNLOAD"
	ActionAPIRequest       Action = "API_REQUEST"
	ActionDataExport       Action = "DATA_EXPORT"
	ActionAdminAction      Action = "ADMIN_ACTION"

	ActionTokenCreated             Action = "TOKEN_CREATED"
	ActionTokenRefreshed           Action = "TOKEN_REFRESHED"
	ActionTokenRotated             Action = "TOKEN_ROTATED"
	ActionTokenRevoked             Action = "TOKEN_REVOKED"
	ActionAllTokensRevoked         Action = "ALL_TOKENS_REVOKED"
	ActionTokenEvicted             Action = "TOKEN_EVICTED"
	ActionTokenReuseAttack         Action = "TOKEN_REUSE_ATTACK"
	ActionSuspiciousDeviceMismatch Action = "SUSPICIOUS_DEVICE_MISMATCH"

	ActionAccountLocked   Action = "ACCOUNT_LOCKED"
	ActionAccountUnlocked Action = "ACCOUNT_UNLOCKED"

	ActionUserRoleChanged      Action = "USER_ROLE_CHANGED"
	ActionPermissionGranted    Action = "PERMISSION_GRANTED"
	ActionAdminAccessAttempted Action = "ADMIN_ACCESS_ATTEMPTED"
	ActionSystemConfigChanged  Action = "SYSTEM_CONFIG_CHANGED"

	ActionBruteForceEmail     Action = "BRUTE_FORCE_DETECTED_EMAIL"
	ActionBruteForceIP        Action = "BRUTE_FORCE_DETECTED_IP"
	ActionRapidActions        Action = "RAPID_ACTIONS_DETECTED"
	ActionGeographicAnomaly   Action = "GEOGRAPHIC_ANOMALY_DETECTED"
	ActionPrivilegeEscalation Action = "PRIVILEGE_ESCALATION_ATTEMPT"
	ActionSuspiciousUserAgent Action = "SUSPICIOUS_USER_AGENT"
)

var knownActions = map[Action]struct{}{}

func init() {
	for _, a := range []Action{
		ActionLoginSuccess, ActionLoginFailed, ActionLogout, ActionLogoutAllDevices, ActionMFAVerify,
		ActionPasswordChanged, ActionFileDownload, ActionAPIRequest, ActionDataExport, ActionAdminAction,
		ActionTokenCreated, ActionTokenRefreshed, ActionTokenRotated, ActionTokenRevoked, ActionAllTokensRevoked,
		ActionTokenEvicted, ActionTokenReuseAttack, ActionSuspiciousDeviceMismatch,
		ActionAccountLocked, ActionAccountUnlocked,
		ActionUserRoleChanged, ActionPermissionGranted, ActionAdminAccessAttempted, ActionSystemConfigChanged,
		ActionBruteForceEmail, ActionBruteForceIP, ActionRapidActions, ActionGeographicAnomaly,
		ActionPrivilegeEscalation, ActionSuspiciousUserAgent,
	} {
		knownActions[a] = struct{}{}
	}
}

// ParseAction returns the Action named s, or an error for names outside the vocabulary.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := knownActions[a]; !ok {
		return "", fmt.Errorf("unknown audit action %q", s)
	}
	return a, nil
}

// Valid reports whether a is part of the vocabulary.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// IsFinding reports whether a is emitted by anomaly detection. Findings are not analyzed again.
func (a Action) IsFinding() bool {
	switch a {
	case ActionBruteForceEmail, ActionBruteForceIP, ActionRapidActions, ActionGeographicAnomaly,
		ActionPrivilegeEscalation, ActionSuspiciousUserAgent:
		return true
	}
	return false
}

// IsEscalation reports whether a touches privileges.
func (a Action) IsEscalation() bool {
	switch a {
	case ActionUserRoleChanged, ActionPermissionGranted, ActionAdminAccessAttempted, ActionSystemConfigChanged:
		return true
	}
	return false
}

// Status is the outcome/severity taxonomy stored with each event.
type Status string

const (
	StatusSuccess          Status = "SUCCESS"
	StatusFailed           Status = "FAILED"
	StatusError            Status = "ERROR"
	StatusWarning          Status = "WARNING"
	StatusSecurityIncident Status = "SECURITY_INCIDENT"
	StatusCritical         Status = "CRITICAL"
)

// ParseStatus returns the Status named s.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusSuccess, StatusFailed, StatusError, StatusWarning, StatusSecurityIncident, StatusCritical:
		return st, nil
	}
	return "", fmt.Errorf("unknown audit status %q", s)
}

// IsSecurity reports whether st marks a security-relevant event.
func (st Status) IsSecurity() bool {
	return st == StatusWarning || st == StatusSecurityIncident || st == StatusCritical
}

// SecurityStatuses lists the statuses counted as security events.
var SecurityStatuses = []Status{StatusWarning, StatusSecurityIncident, StatusCritical}

// Event is one append-only audit record.
type Event struct {
	ID           string         `json:"id"`
	AccountID    string         `json:"account_id,omitempty"` // empty when the actor is unknown
	Action       Action         `json:"action"`
	ResourceType string         `json:"resource_type"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Status       Status         `json:"status"`
	DurationMS   *int64         `json:"duration_ms,omitempty"`
	// DedupeKey is set for detector findings; a second event with the same key is dropped.
	DedupeKey string    `json:"-"`
	CreatedAt time.Time `json:"timestamp"`
}

// LoginAttempt records one authentication attempt by email.
type LoginAttempt struct {
	ID            string
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason FailureReason
	CreatedAt     time.Time
}

// FailureReason explains a rejected login attempt.
type FailureReason string

const (
	FailureUserNotFound    FailureReason = "USER_NOT_FOUND"
	FailureInvalidPassword FailureReason = "INVALID_PASSWORD"
	FailureAccountInactive FailureReason = "ACCOUNT_INACTIVE"
	FailureInvalidMFA      FailureReason = "INVALID_MFA_CODE"
)

// Filter narrows Query results. Zero fields do not filter.
type Filter struct {
	AccountID    string
	Action       Action
	ResourceType string
	Status       Status
	IPAddress    string
	// SecurityOnly keeps WARNING, SECURITY_INCIDENT and CRITICAL events.
	SecurityOnly bool
	Start        *time.Time
	End          *time.Time
}

// Match selects the events counted for one detection window.
// Exactly one of AccountID, IPAddress or Email is normally set.
type Match struct {
	AccountID string
	IPAddress string
	Email     string
	Action    Action // ignored for login attempt matches
	Since     time.Time
	Until     time.Time // inclusive upper bound; zero means unbounded
	ExcludeID string
}

// WindowCount is the size of a detection window and its earliest member.
type WindowCount struct {
	Count    int
	Earliest time.Time
}

// AccountActivity is one row of the dashboard's most-active-accounts list.
type AccountActivity struct {
	AccountID string `json:"account_id"`
	Events    int    `json:"events"`
}

// IPCount pairs a client IP with a count.
type IPCount struct {
	IPAddress string `json:"ip_address"`
	Count     int    `json:"count"`
}

// LoginStats aggregates login attempts.
type LoginStats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// SuccessRate returns successful attempts as a percentage, 0 when there were none.
func (s LoginStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Total) * 100
}

// Summary aggregates a reporting period.
type Summary struct {
	TotalEvents       int `json:"total_events"`
	UniqueAccounts    int `json:"unique_accounts"`
	SecurityIncidents int `json:"security_incidents"`
}
