package audit

import (
	"strings"

	"cotai-security/backend/internal/audit/domain"
)

// Severity ranks events for SIEM export.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

var actionSeverity = map[domain.Action]Severity{
	domain.ActionLoginSuccess:        SeverityInfo,
	domain.ActionLoginFailed:         SeverityWarning,
	domain.ActionAccountLocked:       SeverityWarning,
	domain.ActionDataExport:          SeverityMedium,
	domain.ActionAdminAction:         SeverityMedium,
	domain.ActionAccountUnlocked:     SeverityMedium,
	domain.ActionBruteForceEmail:     SeverityHigh,
	domain.ActionBruteForceIP:        SeverityHigh,
	domain.ActionGeographicAnomaly:   SeverityHigh,
	domain.ActionPrivilegeEscalation: SeverityCritical,
	domain.ActionTokenReuseAttack:    SeverityCritical,
}

// SeverityOf returns the export severity for an event: by action when known, else derived from status.
func SeverityOf(a domain.Action, st domain.Status) Severity {
	if s, ok := actionSeverity[a]; ok {
		return s
	}
	switch st {
	case domain.StatusCritical:
		return SeverityCritical
	case domain.StatusSecurityIncident:
		return SeverityHigh
	case domain.StatusWarning, domain.StatusFailed, domain.StatusError:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Route resource types. Request paths outside these prefixes are audited as "api".
var routeResources = []struct {
	prefix   string
	resource string
}{
	{"/admin/security", "security"},
	{"/admin/compliance-report", "compliance"},
	{"/admin/audit", "audit"},
	{"/admin/accounts", "account"},
	{"/admin", "admin"},
	{"/auth", "auth"},
	{"/sessions", "session"},
	{"/tenders", "tender"},
	{"/quotations", "quotation"},
	{"/reports", "report"},
	{"/files", "file"},
}

// ResourceForPath returns the audit resource type for an HTTP request path (e.g. /sessions/active -> session).
func ResourceForPath(path string) string {
	for _, r := range routeResources {
		if path == r.prefix || strings.HasPrefix(path, r.prefix+"/") {
			return r.resource
		}
	}
	return "api"
}

// ActionForRequest returns the audit action for an authenticated HTTP request.
// File downloads and exports get their own actions so rapid-action thresholds apply to them.
func ActionForRequest(method, path string) domain.Action {
	if method == "GET" {
		switch {
		case strings.HasPrefix(path, "/files/") && strings.HasSuffix(path, "/download"):
			return domain.ActionFileDownload
		case strings.HasSuffix(path, "/export"):
			return domain.ActionDataExport
		}
	}
	return domain.ActionAPIRequest
}
