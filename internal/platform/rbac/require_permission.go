package rbac

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"cotai-security/backend/internal/audit/domain"
	"cotai-security/backend/internal/logging"
	"cotai-security/backend/internal/server/interceptors"
)

// Checker decides whether a permission set satisfies a required permission.
type Checker interface {
	Allowed(ctx context.Context, permissions []string, required string) (bool, error)
}

// EventRecorder records audit events. Denials are recorded synchronously so the anomaly
// detector sees them before the response is written.
type EventRecorder interface {
	Record(ctx context.Context, e *domain.Event) error
}

// RequirePermission returns middleware that lets the request through only when the caller's
// token carries permission perm. It must run after interceptors.Auth.
// Unauthenticated callers get 401. Callers lacking perm get 403 and an ADMIN_ACCESS_ATTEMPTED event.
func RequirePermission(checker Checker, events EventRecorder, perm string, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			id, ok := interceptors.GetIdentity(ctx)
			if !ok || id.AccountID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			allowed, err := checker.Allowed(ctx, id.Permissions, perm)
			if err != nil {
				logging.Ctx(ctx, log).Error().Err(err).Str("permission", perm).Msg("rbac: policy evaluation failed")
				return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
			}
			if allowed {
				return next(c)
			}
			req := c.Request()
			if err := events.Record(ctx, &domain.Event{
				AccountID:    id.AccountID,
				Action:       domain.ActionAdminAccessAttempted,
				ResourceType: "admin",
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				Status:       domain.StatusWarning,
				Details: map[string]any{
					"required_permission": perm,
					"role":                id.Role,
					"method":              req.Method,
					"path":                req.URL.Path,
				},
			}); err != nil {
				logging.Ctx(ctx, log).Warn().Err(err).Msg("rbac: record denial failed")
			}
			return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
		}
	}
}
