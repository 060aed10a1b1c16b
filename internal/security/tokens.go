package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed, expired, wrongly signed or of the wrong type.
var ErrInvalidToken = errors.New("invalid token")

// Token types carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Type        string   `json:"type"`
	SessionID   string   `json:"sid"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	DeviceID    string   `json:"device_id"`
}

// DeviceClaim is the device snapshot embedded in refresh tokens.
type DeviceClaim struct {
	Fingerprint string `json:"fingerprint"`
	Browser     string `json:"browser"`
	OS          string `json:"os"`
	Device      string `json:"device"`
}

// RefreshClaims holds JWT claims for the refresh token. The jti binds it to one session row.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Type   string      `json:"type"`
	Device DeviceClaim `json:"device"`
}

// AccessSubject is what an access token asserts about its bearer.
type AccessSubject struct {
	AccountID   string
	SessionID   string
	Role        string
	Permissions []string
	DeviceID    string
}

// Issued is a signed token with its id and expiry.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenProvider issues and validates JWT access and refresh tokens using RS256 or ES256 (private/public key).
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	nowF       func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and validated on parse.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		nowF:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets the time source used for iat/exp and for validation. Returns p.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	p.nowF = now
	return p
}

// AccessTTL returns the access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived access JWT for s.
func (p *TokenProvider) IssueAccess(s AccessSubject) (Issued, error) {
	jti, err := generateJTI()
	if err != nil {
		return Issued{}, err
	}
	now := p.nowF()
	exp := now.Add(p.accessTTL)
	perms := s.Permissions
	if perms == nil {
		perms = []string{}
	}
	token, err := p.sign(AccessClaims{
		RegisteredClaims: p.registered(jti, s.AccountID, now, exp),
		Type:             TypeAccess,
		SessionID:        s.SessionID,
		Role:             s.Role,
		Permissions:      perms,
		DeviceID:         s.DeviceID,
	})
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, JTI: jti, ExpiresAt: exp}, nil
}

// IssueRefresh issues a long-lived refresh JWT. The caller stores the returned jti on the session.
func (p *TokenProvider) IssueRefresh(accountID string, device DeviceClaim) (Issued, error) {
	jti, err := generateJTI()
	if err != nil {
		return Issued{}, err
	}
	now := p.nowF()
	exp := now.Add(p.refreshTTL)
	token, err := p.sign(RefreshClaims{
		RegisteredClaims: p.registered(jti, accountID, now, exp),
		Type:             TypeRefresh,
		Device:           device,
	})
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, JTI: jti, ExpiresAt: exp}, nil
}

// ValidateAccess parses and validates an access token (signature, exp, iss, aud, type).
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRefresh parses and validates a refresh token (signature, exp, iss, aud, type).
func (p *TokenProvider) ValidateRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (p *TokenProvider) registered(jti, subject string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

func (p *TokenProvider) parse(tokenString string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowF),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.publicKey, nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
