package interceptors

import (
	"context"
	"time"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// Identity is the authenticated caller, taken from a validated access token.
type Identity struct {
	AccountID   string
	SessionID   string
	Role        string
	Permissions []string
	DeviceID    string
	// TokenID and ExpiresAt identify the presented access token, for logout blacklisting.
	TokenID   string
	ExpiresAt time.Time
}

// WithIdentity returns a context carrying id. Handlers read it via GetIdentity, GetAccountID
// and GetSessionID.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the caller identity from context and true if set.
func GetIdentity(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey).(Identity)
	return v, ok
}

// GetAccountID returns the caller's account id from context and true if set; otherwise "", false.
func GetAccountID(ctx context.Context) (string, bool) {
	id, ok := GetIdentity(ctx)
	if !ok || id.AccountID == "" {
		return "", false
	}
	return id.AccountID, true
}

// GetSessionID returns the caller's session id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	id, ok := GetIdentity(ctx)
	if !ok || id.SessionID == "" {
		return "", false
	}
	return id.SessionID, true
}
