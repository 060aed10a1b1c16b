package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"cotai-security/backend/internal/logging"
	"cotai-security/backend/internal/server/interceptors"
	sessiondomain "cotai-security/backend/internal/session/domain"
	"cotai-security/backend/internal/token/service"
)

// Tokens is the token manager surface used by the session routes.
type Tokens interface {
	Refresh(ctx context.Context, refreshToken string, client service.ClientInfo) (*service.TokenPair, error)
	ListActiveSessions(ctx context.Context, accountID, currentSessionID string) ([]service.SessionView, error)
	RevokeSession(ctx context.Context, accountID, sessionID string, client service.ClientInfo) error
	RevokeAll(ctx context.Context, accountID string, reason sessiondomain.RevokeReason, client service.ClientInfo) (int, error)
	BlacklistAccess(ctx context.Context, jti string, expiresAt time.Time) error
}

// TokenResponse is the body returned by login and refresh.
type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
	Rotated          bool      `json:"rotated"`
}

// NewTokenResponse renders p with expires_in relative to now.
func NewTokenResponse(p *service.TokenPair, now time.Time) TokenResponse {
	return TokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        p.TokenType,
		ExpiresIn:        int(p.AccessExpiresAt.Sub(now).Seconds()),
		RefreshExpiresAt: p.RefreshExpiresAt,
		SessionID:        p.SessionID,
		Rotated:          p.Rotated,
	}
}

// Handler serves /sessions.
type Handler struct {
	tokens Tokens
	log    zerolog.Logger
	nowF   func() time.Time
}

// NewHandler returns a Handler backed by tokens.
func NewHandler(tokens Tokens, log zerolog.Logger) *Handler {
	return &Handler{tokens: tokens, log: log, nowF: time.Now}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /sessions/refresh. It is unauthenticated: the refresh token is the credential.
func (h *Handler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "refresh_token required")
	}
	pair, err := h.tokens.Refresh(c.Request().Context(), req.RefreshToken, clientOf(c))
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, NewTokenResponse(pair, h.nowF()))
}

// Active handles GET /sessions/active.
func (h *Handler) Active(c echo.Context) error {
	id, ok := interceptors.GetIdentity(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	views, err := h.tokens.ListActiveSessions(c.Request().Context(), id.AccountID, id.SessionID)
	if err != nil {
		return h.toHTTP(c, err)
	}
	if views == nil {
		views = []service.SessionView{}
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": views, "count": len(views)})
}

// RevokeOne handles DELETE /sessions/:id. Revoking the current session also blacklists the
// presented access token.
func (h *Handler) RevokeOne(c echo.Context) error {
	ctx := c.Request().Context()
	id, ok := interceptors.GetIdentity(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	sessionID := c.Param("id")
	if err := h.tokens.RevokeSession(ctx, id.AccountID, sessionID, clientOf(c)); err != nil {
		if errors.Is(err, service.ErrInvalidSession) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return h.toHTTP(c, err)
	}
	if sessionID == id.SessionID {
		if err := h.tokens.BlacklistAccess(ctx, id.TokenID, id.ExpiresAt); err != nil {
			return h.toHTTP(c, err)
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "session revoked"})
}

// RevokeAll handles DELETE /sessions, ending every session of the caller including the current one.
func (h *Handler) RevokeAll(c echo.Context) error {
	ctx := c.Request().Context()
	id, ok := interceptors.GetIdentity(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	n, err := h.tokens.RevokeAll(ctx, id.AccountID, sessiondomain.ReasonRevoked, clientOf(c))
	if err != nil {
		return h.toHTTP(c, err)
	}
	if err := h.tokens.BlacklistAccess(ctx, id.TokenID, id.ExpiresAt); err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "all sessions revoked", "sessions_revoked": n})
}

const sessionExpiredMessage = "session expired, please log in again"

func clientOf(c echo.Context) service.ClientInfo {
	return service.ClientInfo{IPAddress: c.RealIP(), UserAgent: c.Request().UserAgent()}
}

func (h *Handler) toHTTP(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidSession), errors.Is(err, service.ErrSessionExpired):
		// One response for every dead session so replay detection is not observable.
		return echo.NewHTTPError(http.StatusUnauthorized, sessionExpiredMessage)
	case errors.Is(err, service.ErrAccountInactive):
		return echo.NewHTTPError(http.StatusForbidden, "account locked")
	default:
		logging.Ctx(c.Request().Context(), h.log).Error().Err(err).Str("path", c.Path()).Msg("session handler failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
