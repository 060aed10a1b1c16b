// Package mfa verifies second-factor codes for MFA-enabled accounts.
package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrNoSecret is returned when an MFA-enabled account has no TOTP secret enrolled.
var ErrNoSecret = errors.New("mfa: no secret enrolled")

const (
	period = 30
	skew   = 1
)

var validateOpts = totp.ValidateOpts{
	Period:    period,
	Skew:      skew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPVerifier checks RFC 6238 codes and refuses a code already accepted for the same account
// while it is still valid.
type TOTPVerifier struct {
	used *UsedCodes
	nowF func() time.Time
}

// NewTOTPVerifier returns a verifier that remembers accepted codes in used.
func NewTOTPVerifier(used *UsedCodes) *TOTPVerifier {
	return &TOTPVerifier{used: used, nowF: func() time.Time { return time.Now().UTC() }}
}

// Verify reports whether code is a current, unused TOTP code for secret.
func (v *TOTPVerifier) Verify(ctx context.Context, accountID, secret, code string) (bool, error) {
	if secret == "" {
		return false, ErrNoSecret
	}
	now := v.nowF()
	ok, err := totp.ValidateCustom(code, secret, now, validateOpts)
	if err != nil || !ok {
		return false, nil
	}
	// A code stays acceptable for the skew window on either side of its step.
	until := now.Add(time.Duration((2*skew+1)*period) * time.Second)
	return v.used.MarkUsed(ctx, accountID, code, until), nil
}

// Enrollment is a freshly generated TOTP secret and its provisioning URL.
type Enrollment struct {
	Secret string
	URL    string
}

// Enroll generates a TOTP secret for accountName under issuer.
func Enroll(issuer, accountName string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, err
	}
	return Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}
