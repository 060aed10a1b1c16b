package interceptors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"cotai-security/backend/internal/audit/domain"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (r *recordingEvents) LogEvent(_ context.Context, e *domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEvents) all() []*domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Event(nil), r.events...)
}

// withCaller stands in for Auth by attaching a fixed identity.
func withCaller(accountID string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if accountID != "" {
				ctx := WithIdentity(c.Request().Context(), Identity{AccountID: accountID})
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

func newAuditEcho(events EventLogger, accountID string) *echo.Echo {
	e := echo.New()
	g := e.Group("", withCaller(accountID), Audit(events, map[string]bool{"/healthz": true}))
	g.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	g.GET("/files/:id/download", func(c echo.Context) error { return c.String(http.StatusOK, "data") })
	g.GET("/tenders", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	g.POST("/tenders", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad tender")
	})
	g.GET("/reports/broken", func(c echo.Context) error { return c.NoContent(http.StatusBadGateway) })
	return e
}

func serve(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "203.0.113.7:5000"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAudit_RecordsAuthenticatedRequest(t *testing.T) {
	events := &recordingEvents{}
	e := newAuditEcho(events, "acc-1")

	serve(e, http.MethodGet, "/tenders")

	got := events.all()
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	ev := got[0]
	if ev.AccountID != "acc-1" {
		t.Errorf("AccountID = %q", ev.AccountID)
	}
	if ev.Action != domain.ActionAPIRequest {
		t.Errorf("Action = %q, want %q", ev.Action, domain.ActionAPIRequest)
	}
	if ev.ResourceType != "tender" {
		t.Errorf("ResourceType = %q, want tender", ev.ResourceType)
	}
	if ev.IPAddress != "203.0.113.7" {
		t.Errorf("IPAddress = %q", ev.IPAddress)
	}
	if ev.UserAgent != "test-agent" {
		t.Errorf("UserAgent = %q", ev.UserAgent)
	}
	if ev.Status != domain.StatusSuccess {
		t.Errorf("Status = %q, want SUCCESS", ev.Status)
	}
	if ev.DurationMS == nil {
		t.Error("DurationMS not set")
	}
	if ev.Details["status_code"] != http.StatusOK || ev.Details["method"] != http.MethodGet {
		t.Errorf("Details = %v", ev.Details)
	}
}

func TestAudit_ActionAndStatus(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		wantAction domain.Action
		wantStatus domain.Status
	}{
		{"download", http.MethodGet, "/files/f1/download", domain.ActionFileDownload, domain.StatusSuccess},
		{"client error", http.MethodPost, "/tenders", domain.ActionAPIRequest, domain.StatusFailed},
		{"server error", http.MethodGet, "/reports/broken", domain.ActionAPIRequest, domain.StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &recordingEvents{}
			serve(newAuditEcho(events, "acc-1"), tt.method, tt.path)
			got := events.all()
			if len(got) != 1 {
				t.Fatalf("events = %d, want 1", len(got))
			}
			if got[0].Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", got[0].Action, tt.wantAction)
			}
			if got[0].Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", got[0].Status, tt.wantStatus)
			}
		})
	}
}

func TestAudit_SkipsAnonymousAndSkipPaths(t *testing.T) {
	events := &recordingEvents{}
	serve(newAuditEcho(events, ""), http.MethodGet, "/tenders")
	serve(newAuditEcho(events, "acc-1"), http.MethodGet, "/healthz")
	if n := len(events.all()); n != 0 {
		t.Fatalf("events = %d, want 0", n)
	}
}
