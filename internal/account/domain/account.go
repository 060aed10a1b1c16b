package domain

import (
	"errors"
	"time"
)

// Account is the authenticating principal. Accounts are deactivated, never deleted.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	// Permissions are explicit grants merged with the role's permission set.
	Permissions         []string
	Active              bool
	FailedLoginAttempts int
	LockedUntil         *time.Time // nil when no time-bound lock is set
	MFAEnabled          bool
	MFASecret           string // base32 TOTP secret; never serialized
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Role names the permission bundle an account carries.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleOperator   Role = "operator"
	RoleViewer     Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleManager, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// IsAdmin reports whether r may use the admin endpoints.
func (r Role) IsAdmin() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// Usable reports whether the account may authenticate at now.
func (a *Account) Usable(now time.Time) bool {
	if a == nil || !a.Active {
		return false
	}
	return a.LockedUntil == nil || !now.Before(*a.LockedUntil)
}

// Validate validates the account for persistence. Returns an error describing the first validation failure.
func (a *Account) Validate() error {
	if a.Email == "" {
		return errors.New("email is required")
	}
	if a.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if a.Role == "" {
		a.Role = RoleViewer
	}
	if !a.Role.Valid() {
		return errors.New("unknown role")
	}
	return nil
}
