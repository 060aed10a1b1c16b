package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"cotai-security/backend/internal/audit/domain"
	"cotai-security/backend/internal/policy/engine"
	"cotai-security/backend/internal/server/interceptors"
)

type recorder struct {
	events []*domain.Event
	err    error
}

func (r *recorder) Record(_ context.Context, e *domain.Event) error {
	r.events = append(r.events, e)
	return r.err
}

type brokenChecker struct{}

func (brokenChecker) Allowed(context.Context, []string, string) (bool, error) {
	return false, errors.New("policy unavailable")
}

func caller(id *interceptors.Identity) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id != nil {
				c.SetRequest(c.Request().WithContext(interceptors.WithIdentity(c.Request().Context(), *id)))
			}
			return next(c)
		}
	}
}

func serve(t *testing.T, checker Checker, events *recorder, id *interceptors.Identity) int {
	t.Helper()
	e := echo.New()
	e.GET("/admin/audit", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, caller(id), RequirePermission(checker, events, "audit:read", zerolog.Nop()))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit", nil))
	return rec.Code
}

func newChecker(t *testing.T) Checker {
	t.Helper()
	r, err := engine.NewOPAResolver(context.Background())
	if err != nil {
		t.Fatalf("NewOPAResolver: %v", err)
	}
	return r
}

func TestRequirePermission_Allowed(t *testing.T) {
	events := &recorder{}
	code := serve(t, newChecker(t), events, &interceptors.Identity{
		AccountID:   "admin-1",
		Role:        "admin",
		Permissions: []string{"audit:read"},
	})
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(events.events) != 0 {
		t.Errorf("events = %d, want 0", len(events.events))
	}
}

func TestRequirePermission_Wildcard(t *testing.T) {
	code := serve(t, newChecker(t), &recorder{}, &interceptors.Identity{
		AccountID:   "root",
		Role:        "super_admin",
		Permissions: []string{"*"},
	})
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
}

func TestRequirePermission_DeniedRecordsAttempt(t *testing.T) {
	events := &recorder{}
	code := serve(t, newChecker(t), events, &interceptors.Identity{
		AccountID:   "op-1",
		Role:        "operator",
		Permissions: []string{"tenders:read"},
	})
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
	if len(events.events) != 1 {
		t.Fatalf("events = %d, want 1", len(events.events))
	}
	ev := events.events[0]
	if ev.Action != domain.ActionAdminAccessAttempted {
		t.Errorf("Action = %q", ev.Action)
	}
	if ev.AccountID != "op-1" || ev.Status != domain.StatusWarning {
		t.Errorf("event = %+v", ev)
	}
	if ev.Details["required_permission"] != "audit:read" || ev.Details["role"] != "operator" {
		t.Errorf("Details = %v", ev.Details)
	}
}

func TestRequirePermission_DeniedEvenWhenRecordFails(t *testing.T) {
	events := &recorder{err: errors.New("db down")}
	code := serve(t, newChecker(t), events, &interceptors.Identity{AccountID: "op-1", Role: "operator"})
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
}

func TestRequirePermission_Unauthenticated(t *testing.T) {
	events := &recorder{}
	if code := serve(t, newChecker(t), events, nil); code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
	if len(events.events) != 0 {
		t.Errorf("events = %d, want 0", len(events.events))
	}
}

func TestRequirePermission_CheckerError(t *testing.T) {
	code := serve(t, brokenChecker{}, &recorder{}, &interceptors.Identity{AccountID: "admin-1", Permissions: []string{"audit:read"}})
	if code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", code)
	}
}
