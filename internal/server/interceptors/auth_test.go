package interceptors

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"cotai-security/backend/internal/blacklist"
	"cotai-security/backend/internal/security"
)

type failingBlacklist struct{}

func (failingBlacklist) Add(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("redis down")
}

func (failingBlacklist) Contains(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func newAuthEcho(t *testing.T, bl blacklist.Store) (*echo.Echo, *security.TokenProvider, *Identity) {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	seen := &Identity{}
	e := echo.New()
	e.GET("/sessions/active", func(c echo.Context) error {
		id, ok := GetIdentity(c.Request().Context())
		if !ok {
			t.Fatal("identity missing from context")
		}
		*seen = id
		return c.NoContent(http.StatusNoContent)
	}, Auth(tokens, bl, zerolog.Nop()))
	return e, tokens, seen
}

func issueAccess(t *testing.T, tokens *security.TokenProvider) security.Issued {
	t.Helper()
	iss, err := tokens.IssueAccess(security.AccessSubject{
		AccountID:   "acc-1",
		SessionID:   "sess-1",
		Role:        "operator",
		Permissions: []string{"read:tenders"},
		DeviceID:    "dev-1",
	})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	return iss
}

func doGet(e *echo.Echo, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/sessions/active", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuth_ValidToken(t *testing.T) {
	e, tokens, seen := newAuthEcho(t, blacklist.NewMemoryStore())
	iss := issueAccess(t, tokens)

	rec := doGet(e, "Bearer "+iss.Token)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusNoContent, rec.Body.String())
	}
	if seen.AccountID != "acc-1" || seen.SessionID != "sess-1" {
		t.Errorf("identity = %+v", *seen)
	}
	if seen.Role != "operator" || len(seen.Permissions) != 1 {
		t.Errorf("role/permissions = %q/%v", seen.Role, seen.Permissions)
	}
	if seen.TokenID != iss.JTI {
		t.Errorf("TokenID = %q, want %q", seen.TokenID, iss.JTI)
	}
	if d := seen.ExpiresAt.Sub(iss.ExpiresAt); d > time.Second || d < -time.Second {
		t.Errorf("ExpiresAt = %v, want %v", seen.ExpiresAt, iss.ExpiresAt)
	}
}

func TestAuth_Rejected(t *testing.T) {
	e, tokens, _ := newAuthEcho(t, blacklist.NewMemoryStore())
	refresh, err := tokens.IssueRefresh("acc-1", security.DeviceClaim{})
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic abc"},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
		{"refresh token", "Bearer " + refresh.Token},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(e, tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuth_BlacklistedToken(t *testing.T) {
	bl := blacklist.NewMemoryStore()
	e, tokens, _ := newAuthEcho(t, bl)
	iss := issueAccess(t, tokens)
	if _, err := bl.Add(context.Background(), iss.JTI, iss.ExpiresAt); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rec := doGet(e, "Bearer "+iss.Token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuth_BlacklistUnavailable(t *testing.T) {
	e, tokens, _ := newAuthEcho(t, failingBlacklist{})
	iss := issueAccess(t, tokens)

	rec := doGet(e, "Bearer "+iss.Token)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"BEARER   abc  ", "abc"},
		{"Bearer", ""},
		{"Token abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := extractBearer(tt.in); got != tt.want {
			t.Errorf("extractBearer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
