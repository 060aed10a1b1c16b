package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"cotai-security/backend/internal/audit"
	"cotai-security/backend/internal/audit/domain"
	"cotai-security/backend/internal/logging"
)

// Reporter serves the read side of the audit log.
type Reporter interface {
	Query(ctx context.Context, f domain.Filter, page, size int) (*audit.Page, error)
	Dashboard(ctx context.Context, days int) (*audit.Dashboard, error)
	ComplianceReport(ctx context.Context, start, end time.Time, page, size int) (*audit.ComplianceReport, error)
}

// Handler serves the admin audit routes. Callers are authorized by rbac middleware.
type Handler struct {
	reports Reporter
	log     zerolog.Logger
}

// NewHandler returns a Handler backed by reports.
func NewHandler(reports Reporter, log zerolog.Logger) *Handler {
	return &Handler{reports: reports, log: log}
}

// List handles GET /admin/audit. Filters: account_id, action, resource_type, status, ip_address,
// security_only, start, end. Pagination: page, size.
func (h *Handler) List(c echo.Context) error {
	f, err := filterFrom(c)
	if err != nil {
		return err
	}
	page, size := pageFrom(c)
	res, err := h.reports.Query(c.Request().Context(), f, page, size)
	if err != nil {
		return h.internal(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Dashboard handles GET /admin/security/dashboard?days=N.
func (h *Handler) Dashboard(c echo.Context) error {
	days := 7
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be an integer")
		}
		days = n
	}
	res, err := h.reports.Dashboard(c.Request().Context(), days)
	if err != nil {
		return h.internal(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Compliance handles GET /admin/compliance-report?start=&end=. Both bounds are required.
func (h *Handler) Compliance(c echo.Context) error {
	start, err := parseTime(c.QueryParam("start"), false)
	if err != nil || start == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start must be RFC3339 or YYYY-MM-DD")
	}
	end, err := parseTime(c.QueryParam("end"), true)
	if err != nil || end == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end must be RFC3339 or YYYY-MM-DD")
	}
	if end.Before(*start) {
		return echo.NewHTTPError(http.StatusBadRequest, "end before start")
	}
	page, size := pageFrom(c)
	res, err := h.reports.ComplianceReport(c.Request().Context(), *start, *end, page, size)
	if err != nil {
		return h.internal(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func filterFrom(c echo.Context) (domain.Filter, error) {
	f := domain.Filter{
		AccountID:    c.QueryParam("account_id"),
		ResourceType: c.QueryParam("resource_type"),
		IPAddress:    c.QueryParam("ip_address"),
	}
	if v := c.QueryParam("action"); v != "" {
		a, err := domain.ParseAction(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "unknown action")
		}
		f.Action = a
	}
	if v := c.QueryParam("status"); v != "" {
		st, err := domain.ParseStatus(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "unknown status")
		}
		f.Status = st
	}
	if v := c.QueryParam("security_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "security_only must be a boolean")
		}
		f.SecurityOnly = b
	}
	var err error
	if f.Start, err = parseTime(c.QueryParam("start"), false); err != nil {
		return f, echo.NewHTTPError(http.StatusBadRequest, "start must be RFC3339 or YYYY-MM-DD")
	}
	if f.End, err = parseTime(c.QueryParam("end"), true); err != nil {
		return f, echo.NewHTTPError(http.StatusBadRequest, "end must be RFC3339 or YYYY-MM-DD")
	}
	return f, nil
}

// pageFrom reads page and size; invalid values fall back to the reporter's defaults.
func pageFrom(c echo.Context) (page, size int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	size, _ = strconv.Atoi(c.QueryParam("size"))
	return page, size
}

// parseTime accepts RFC3339 or a bare date. A bare end date covers the whole day.
func parseTime(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (h *Handler) internal(c echo.Context, err error) error {
	logging.Ctx(c.Request().Context(), h.log).Error().Err(err).Str("path", c.Path()).Msg("audit handler failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
