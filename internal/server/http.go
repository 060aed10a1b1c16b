package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	audithandler "cotai-security/backend/internal/audit/handler"
	"cotai-security/backend/internal/audit/domain"
	"cotai-security/backend/internal/blacklist"
	healthhandler "cotai-security/backend/internal/health/handler"
	identityhandler "cotai-security/backend/internal/identity/handler"
	"cotai-security/backend/internal/platform/rbac"
	"cotai-security/backend/internal/security"
	"cotai-security/backend/internal/server/interceptors"
	tokenhandler "cotai-security/backend/internal/token/handler"
)

// Permissions required by the admin routes.
const (
	PermAuditRead     = "audit:read"
	PermSecurityRead  = "security:read"
	PermAccountsWrite = "users:write"
)

// EventLog is the audit log as used by middleware.
type EventLog interface {
	Record(ctx context.Context, e *domain.Event) error
	LogEvent(ctx context.Context, e *domain.Event)
}

// Deps holds what the HTTP API needs. Limiter may be nil to disable rate limiting.
type Deps struct {
	Tokens    *security.TokenProvider
	Blacklist blacklist.Store
	Events    EventLog
	Policy    rbac.Checker
	Limiter   *interceptors.RateLimiter

	Auth     *identityhandler.Handler
	Sessions *tokenhandler.Handler
	Audit    *audithandler.Handler
	Health   *healthhandler.Server

	Log zerolog.Logger
}

var skipPaths = map[string]bool{"/healthz": true}

// NewHTTPServer returns the echo instance serving every route.
//
// Public:        GET /healthz, POST /auth/login, POST /sessions/refresh
// Authenticated: POST /auth/logout, POST /auth/logout-all, GET /sessions/active,
// DELETE /sessions/:id, DELETE /sessions
// Admin:         GET /admin/audit, GET /admin/security/dashboard, GET /admin/compliance-report,
// POST /admin/accounts/:id/unlock
func NewHTTPServer(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(interceptors.Telemetry(d.Log, skipPaths))

	limited := []echo.MiddlewareFunc{}
	if d.Limiter != nil {
		limited = append(limited, d.Limiter.Middleware())
	}
	authed := []echo.MiddlewareFunc{
		interceptors.Auth(d.Tokens, d.Blacklist, d.Log),
		interceptors.Audit(d.Events, skipPaths),
	}
	admin := func(perm string) []echo.MiddlewareFunc {
		return append(authed[:len(authed):len(authed)], rbac.RequirePermission(d.Policy, d.Events, perm, d.Log))
	}

	if d.Health != nil {
		e.GET("/healthz", d.Health.Healthz)
	} else {
		e.GET("/healthz", func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "SERVING"})
		})
	}

	e.POST("/auth/login", d.Auth.Login, limited...)
	e.POST("/auth/logout", d.Auth.Logout, authed...)
	e.POST("/auth/logout-all", d.Auth.LogoutAll, authed...)

	e.POST("/sessions/refresh", d.Sessions.Refresh, limited...)
	e.GET("/sessions/active", d.Sessions.Active, authed...)
	e.DELETE("/sessions/:id", d.Sessions.RevokeOne, authed...)
	e.DELETE("/sessions", d.Sessions.RevokeAll, authed...)

	e.GET("/admin/audit", d.Audit.List, admin(PermAuditRead)...)
	e.GET("/admin/security/dashboard", d.Audit.Dashboard, admin(PermSecurityRead)...)
	e.GET("/admin/compliance-report", d.Audit.Compliance, admin(PermAuditRead)...)
	e.POST("/admin/accounts/:id/unlock", d.Auth.Unlock, admin(PermAccountsWrite)...)
	return e
}
