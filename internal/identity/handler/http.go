package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	accountdomain "cotai-security/backend/internal/account/domain"
	"cotai-security/backend/internal/identity/service"
	"cotai-security/backend/internal/logging"
	"cotai-security/backend/internal/server/interceptors"
	tokenhandler "cotai-security/backend/internal/token/handler"
	tokenservice "cotai-security/backend/internal/token/service"
)

// AuthService is the login/logout surface the handler needs.
type AuthService interface {
	Login(ctx context.Context, req service.LoginRequest) (*service.LoginResult, error)
	Logout(ctx context.Context, req service.LogoutRequest) error
	LogoutAll(ctx context.Context, req service.LogoutRequest) (int, error)
	Unlock(ctx context.Context, adminID, accountID string, client tokenservice.ClientInfo) error
}

// Handler serves /auth and the admin unlock route.
type Handler struct {
	auth AuthService
	log  zerolog.Logger
}

// NewHandler returns a Handler backed by auth.
func NewHandler(auth AuthService, log zerolog.Logger) *Handler {
	return &Handler{auth: auth, log: log}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code"`
}

type accountView struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	MFAEnabled bool   `json:"mfa_enabled"`
}

type loginResponse struct {
	tokenhandler.TokenResponse
	Account *accountView `json:"account,omitempty"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login handles POST /auth/login.
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.auth.Login(c.Request().Context(), service.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		MFACode:   req.MFACode,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		if errors.Is(err, service.ErrMFARequired) {
			return c.JSON(http.StatusUnauthorized, map[string]any{"message": "mfa code required", "mfa_required": true})
		}
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, loginResponse{
		TokenResponse: tokenhandler.NewTokenResponse(res.Tokens, time.Now()),
		Account:       newAccountView(res.Account),
	})
}

// Logout handles POST /auth/logout. The body may name the refresh token to revoke; otherwise the
// session of the presented access token is ended.
func (h *Handler) Logout(c echo.Context) error {
	id, ok := interceptors.GetIdentity(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var req logoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.auth.Logout(c.Request().Context(), logoutFor(c, id, req.RefreshToken)); err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

// LogoutAll handles POST /auth/logout-all.
func (h *Handler) LogoutAll(c echo.Context) error {
	id, ok := interceptors.GetIdentity(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	n, err := h.auth.LogoutAll(c.Request().Context(), logoutFor(c, id, ""))
	if err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "logged out from all devices", "sessions_revoked": n})
}

// Unlock handles POST /admin/accounts/:id/unlock.
func (h *Handler) Unlock(c echo.Context) error {
	adminID, ok := interceptors.GetAccountID(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	accountID := c.Param("id")
	if accountID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "account id required")
	}
	client := tokenservice.ClientInfo{IPAddress: c.RealIP(), UserAgent: c.Request().UserAgent()}
	if err := h.auth.Unlock(c.Request().Context(), adminID, accountID, client); err != nil {
		return h.toHTTP(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "account unlocked", "account_id": accountID})
}

func logoutFor(c echo.Context, id interceptors.Identity, refreshToken string) service.LogoutRequest {
	return service.LogoutRequest{
		AccountID:       id.AccountID,
		SessionID:       id.SessionID,
		RefreshToken:    refreshToken,
		AccessJTI:       id.TokenID,
		AccessExpiresAt: id.ExpiresAt,
		Client:          tokenservice.ClientInfo{IPAddress: c.RealIP(), UserAgent: c.Request().UserAgent()},
	}
}

func newAccountView(a *accountdomain.Account) *accountView {
	if a == nil {
		return nil
	}
	return &accountView{ID: a.ID, Email: a.Email, Role: string(a.Role), MFAEnabled: a.MFAEnabled}
}

// toHTTP maps service errors to status codes. Messages never reveal which check failed.
func (h *Handler) toHTTP(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, service.ErrInvalidMFACode):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid mfa code")
	case errors.Is(err, service.ErrAccountInactive):
		return echo.NewHTTPError(http.StatusForbidden, "account locked")
	case errors.Is(err, service.ErrAccountNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "account not found")
	case errors.Is(err, tokenservice.ErrInvalidSession), errors.Is(err, tokenservice.ErrSessionExpired):
		return echo.NewHTTPError(http.StatusUnauthorized, "session expired, please log in again")
	default:
		logging.Ctx(c.Request().Context(), h.log).Error().Err(err).Str("path", c.Path()).Msg("auth handler failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
