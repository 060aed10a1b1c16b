package interceptors

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"cotai-security/backend/internal/blacklist"
	"cotai-security/backend/internal/logging"
	"cotai-security/backend/internal/security"
)

const bearerPrefix = "bearer "

// Messages returned for rejected credentials. They never say why a token was refused.
const (
	msgUnauthorized   = "missing or invalid authorization"
	msgSessionExpired = "session expired, please log in again"
)

// Auth returns middleware that validates the Bearer access token, rejects blacklisted token ids
// and stores the caller Identity in the request context. Requests without a valid token get 401.
func Auth(tokens *security.TokenProvider, bl blacklist.Store, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := extractBearer(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, msgUnauthorized)
			}
			claims, err := tokens.ValidateAccess(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, msgUnauthorized)
			}
			ctx := c.Request().Context()
			listed, err := bl.Contains(ctx, claims.ID)
			if err != nil {
				logging.Ctx(ctx, log).Error().Err(err).Msg("auth: blacklist lookup failed")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "authorization temporarily unavailable")
			}
			if listed {
				return echo.NewHTTPError(http.StatusUnauthorized, msgSessionExpired)
			}

			id := Identity{
				AccountID:   claims.Subject,
				SessionID:   claims.SessionID,
				Role:        claims.Role,
				Permissions: claims.Permissions,
				DeviceID:    claims.DeviceID,
				TokenID:     claims.ID,
			}
			if claims.ExpiresAt != nil {
				id.ExpiresAt = claims.ExpiresAt.Time
			}
			c.SetRequest(c.Request().WithContext(WithIdentity(ctx, id)))
			return next(c)
		}
	}
}

// extractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
