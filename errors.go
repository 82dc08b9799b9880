package staffauth

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the engine. Callers are expected to branch with
// errors.Is; the concrete wrapper types below carry extra detail (retry-after,
// lockout deadline, policy reasons) for transports that want it.
var (
	// ErrInvalidCredentials is returned when an email/password pair does not
	// match an active credential. It deliberately does not distinguish between
	// an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("staffauth: invalid credentials")

	// ErrAccountLocked is returned when the credential is under an active
	// lockout window. Wrapped by AccountLockedError.
	ErrAccountLocked = errors.New("staffauth: account locked")

	// ErrAccountInactive is returned when the credential exists but has been
	// deactivated by an administrator.
	ErrAccountInactive = errors.New("staffauth: account inactive")

	// ErrInvalidOrExpiredCode is the uniform verification failure for one-time
	// codes. Expired, consumed, unknown and mismatched codes all collapse to
	// this error on the external surface.
	ErrInvalidOrExpiredCode = errors.New("staffauth: invalid or expired code")

	// ErrRecoveryTokenInvalid is returned when a recovery token is malformed,
	// unknown, expired, already consumed, or has not passed code verification.
	ErrRecoveryTokenInvalid = errors.New("staffauth: recovery token invalid")

	// ErrRefreshTokenInvalid is returned when a refresh token is malformed,
	// unknown, expired or revoked.
	ErrRefreshTokenInvalid = errors.New("staffauth: refresh token invalid")

	// ErrAccessTokenInvalid is returned when an access token fails signature,
	// expiry or claim validation.
	ErrAccessTokenInvalid = errors.New("staffauth: access token invalid")

	// ErrRateLimited is returned when a one-time-code request exceeds an
	// origin or identity budget. Wrapped by RateLimitError.
	ErrRateLimited = errors.New("staffauth: rate limited")

	// ErrPasswordPolicy is returned when a candidate password fails the
	// configured policy. Wrapped by PasswordPolicyError.
	ErrPasswordPolicy = errors.New("staffauth: password rejected by policy")

	// ErrTwoFactorState is returned when a 2FA toggle does not apply to the
	// credential's current state (enable when enabled, disable when disabled).
	ErrTwoFactorState = errors.New("staffauth: two-factor state conflict")

	// ErrNotifierUnavailable is returned when code delivery fails synchronously
	// and the configuration requires delivery to succeed.
	ErrNotifierUnavailable = errors.New("staffauth: notifier unavailable")

	// ErrStoreUnavailable wraps infrastructure failures from the backing
	// stores so callers can map them to a 5xx instead of a 4xx.
	ErrStoreUnavailable = errors.New("staffauth: store unavailable")
)

// Internal code-verification outcomes. These never leave the engine; they
// exist so audit records can say which way a code failed while the caller
// only ever sees ErrInvalidOrExpiredCode.
var (
	errCodeNotFound  = errors.New("code not found")
	errCodeExpired   = errors.New("code expired")
	errCodeConsumed  = errors.New("code already consumed")
	errCodeMismatch  = errors.New("code mismatch")
	errCodeMalformed = errors.New("code malformed")
)

// AccountLockedError reports an active lockout window.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("staffauth: account locked, retry in %d minute(s)", e.Minutes())
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// Minutes returns the whole minutes remaining until automatic unlock, rounded
// up so responses never promise an earlier retry than the store will honor.
// Never less than 1 while the window is active.
func (e *AccountLockedError) Minutes() int {
	rem := time.Until(e.Until)
	if rem <= 0 {
		return 0
	}
	m := int((rem + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

// RateLimitError reports which budget a one-time-code request exceeded.
// Scope is one of "origin", "cooldown", "hourly" or "daily".
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("staffauth: rate limited (%s), retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// PasswordPolicyError carries the machine-readable reasons a candidate
// password was rejected, e.g. "too_short" or "blacklisted".
type PasswordPolicyError struct {
	Reasons []string
}

func (e *PasswordPolicyError) Error() string {
	return fmt.Sprintf("staffauth: password rejected by policy: %v", e.Reasons)
}

func (e *PasswordPolicyError) Unwrap() error { return ErrPasswordPolicy }

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
