package interceptors

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"cotai-security/backend/internal/audit"
	"cotai-security/backend/internal/audit/domain"
)

// EventLogger records audit events best-effort.
type EventLogger interface {
	LogEvent(ctx context.Context, e *domain.Event)
}

// Audit returns middleware that records an API_REQUEST (or FILE_DOWNLOAD / DATA_EXPORT) event
// after each authenticated request, with its duration and response status. skipPaths are route
// paths (e.g. "/healthz") that are never audited. Recording never fails the request.
func Audit(events EventLogger, skipPaths map[string]bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if skipPaths[c.Path()] {
				return err
			}
			ctx := c.Request().Context()
			accountID, ok := GetAccountID(ctx)
			if !ok {
				return err
			}

			req := c.Request()
			code := statusOf(c, err)
			ms := time.Since(start).Milliseconds()
			status := domain.StatusSuccess
			switch {
			case code >= http.StatusInternalServerError:
				status = domain.StatusError
			case code >= http.StatusBadRequest:
				status = domain.StatusFailed
			}
			events.LogEvent(ctx, &domain.Event{
				AccountID:    accountID,
				Action:       audit.ActionForRequest(req.Method, req.URL.Path),
				ResourceType: audit.ResourceForPath(req.URL.Path),
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				Status:       status,
				DurationMS:   &ms,
				Details: map[string]any{
					"method":      req.Method,
					"path":        req.URL.Path,
					"status_code": code,
				},
			})
			return err
		}
	}
}

// statusOf returns the status the client will see for a handler result.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
