package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenProvider_AccessRoundTrip(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	issued, err := p.IssueAccess(AccessSubject{
		AccountID:   "acc-1",
		SessionID:   "sess-1",
		Role:        "manager",
		Permissions: []string{"tenders:read", "reports:read"},
		DeviceID:    "0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if issued.Token == "" || issued.JTI == "" {
		t.Fatal("access token or jti empty")
	}

	claims, err := p.ValidateAccess(issued.Token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.Subject != "acc-1" || claims.SessionID != "sess-1" || claims.ID != issued.JTI {
		t.Errorf("claims = sub %q sid %q jti %q", claims.Subject, claims.SessionID, claims.ID)
	}
	if claims.Role != "manager" || claims.DeviceID != "0123456789abcdef" || claims.Type != TypeAccess {
		t.Errorf("claims = role %q device %q type %q", claims.Role, claims.DeviceID, claims.Type)
	}
	if len(claims.Permissions) != 2 {
		t.Errorf("permissions = %v", claims.Permissions)
	}
}

func TestTokenProvider_RefreshRoundTrip(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	dev := DeviceClaim{Fingerprint: "fp", Browser: "Chrome", OS: "Windows", Device: "desktop"}
	issued, err := p.IssueRefresh("acc-1", dev)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	claims, err := p.ValidateRefresh(issued.Token)
	if err != nil {
		t.Fatalf("ValidateRefresh: %v", err)
	}
	if claims.ID != issued.JTI || claims.Subject != "acc-1" || claims.Device != dev {
		t.Errorf("claims = %+v", claims)
	}
	if got := claims.ExpiresAt.Time; !got.Equal(issued.ExpiresAt.Truncate(time.Second)) {
		t.Errorf("exp = %v, want %v", got, issued.ExpiresAt)
	}
}

func TestTokenProvider_TypeConfusion(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	access, _ := p.IssueAccess(AccessSubject{AccountID: "acc-1"})
	refresh, _ := p.IssueRefresh("acc-1", DeviceClaim{})

	if _, err := p.ValidateRefresh(access.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("access token accepted as refresh: %v", err)
	}
	if _, err := p.ValidateAccess(refresh.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("refresh token accepted as access: %v", err)
	}
}

func TestTokenProvider_Expired(t *testing.T) {
	now := time.Now().UTC()
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	p.WithClock(func() time.Time { return now })
	issued, _ := p.IssueAccess(AccessSubject{AccountID: "acc-1"})

	p.WithClock(func() time.Time { return now.Add(16 * time.Minute) })
	if _, err := p.ValidateAccess(issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_FakeClockIssuesValidTokens(t *testing.T) {
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	p.WithClock(func() time.Time { return past })
	issued, _ := p.IssueRefresh("acc-1", DeviceClaim{})
	if _, err := p.ValidateRefresh(issued.Token); err != nil {
		t.Errorf("ValidateRefresh under injected clock: %v", err)
	}
}

func TestTokenProvider_Invalid(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	issued, _ := p.IssueAccess(AccessSubject{AccountID: "acc-1"})
	parts := strings.Split(issued.Token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	other := NewTokenProvider(p.privateKey, p.publicKey, "other-issuer", TestAudience, time.Minute, time.Hour)
	foreign, _ := other.IssueAccess(AccessSubject{AccountID: "acc-1"})

	for name, tok := range map[string]string{
		"garbage":      "invalid-token",
		"empty":        "",
		"tampered":     tampered,
		"wrong issuer": foreign.Token,
	} {
		if _, err := p.ValidateAccess(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: want ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestTokenProvider_ES256(t *testing.T) {
	signer, pub, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeyPair: %v", err)
	}
	if KeyAlg(pub) != "ES256" {
		t.Fatalf("KeyAlg = %q", KeyAlg(pub))
	}
	p := NewTokenProvider(signer, pub, "iss", "aud", time.Minute, time.Hour)
	issued, err := p.IssueRefresh("acc-1", DeviceClaim{})
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := p.ValidateRefresh(issued.Token); err != nil {
		t.Errorf("ValidateRefresh: %v", err)
	}
}
