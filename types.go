package staffauth

import (
	"context"
	"errors"
	"strings"
	"time"
)

// StaffCredential is the engine's view of one staff account. The host
// application owns the underlying record; the engine reads it on every
// authentication attempt and writes back only the fields it manages
// (password hash, lockout counters, 2FA flag, last login).
type StaffCredential struct {
	UserID       string
	Email        string
	Role         string
	PasswordHash string
	Active       bool

	TwoFactorEnabled bool

	// Lockout state. FailedAttempts counts consecutive password failures
	// since the last success; LockedUntil is nil when no window is active.
	FailedAttempts int
	LockedUntil    *time.Time

	LastLoginAt *time.Time
}

// CredentialStore is implemented by the host application over its staff
// directory. All methods must be safe for concurrent use. Lookup misses
// return ErrCredentialNotFound (or an error wrapping it); infrastructure
// failures return anything else.
type CredentialStore interface {
	GetByEmail(ctx context.Context, email string) (StaffCredential, error)
	GetByID(ctx context.Context, userID string) (StaffCredential, error)

	// UpdateLockout persists the failure counter and lockout deadline
	// together. A nil until clears the window.
	UpdateLockout(ctx context.Context, userID string, failedAttempts int, until *time.Time) error

	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	SetTwoFactor(ctx context.Context, userID string, enabled bool) error
	RecordLastLogin(ctx context.Context, userID string, at time.Time) error
}

// ErrCredentialNotFound is the sentinel CredentialStore implementations
// return for lookup misses. Declared here (not in errors.go) because it is a
// contract with the host, not an engine outcome: the engine maps it to
// ErrInvalidCredentials or a generic success before anything external sees it.
var ErrCredentialNotFound = errors.New("staffauth: credential not found")

// OTPPurpose partitions one-time codes. A code issued for one purpose never
// verifies under another.
type OTPPurpose string

const (
	PurposeLogin    OTPPurpose = "login"
	PurposeRecovery OTPPurpose = "recovery"
)

// SessionUser is the public projection of a credential embedded in login
// and refresh outcomes.
type SessionUser struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// LoginOutcome is returned by Login. Exactly one of Authenticated or
// StepUpRequired is true.
type LoginOutcome struct {
	// Authenticated means a full session was established.
	Authenticated bool
	AccessToken   string
	RefreshToken  string
	ExpiresIn     int // access token lifetime, seconds
	User          SessionUser
	RedirectPath  string

	// StepUpRequired means the password was accepted but a one-time code
	// must be verified before a session is issued. ChallengeTTL is the
	// code's lifetime in seconds.
	StepUpRequired bool
	ChallengeTTL   int
}

// SessionResult is returned by step-up verification and refresh.
type SessionResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	User         SessionUser
	RedirectPath string
}

// RecoveryChallenge is returned when a recovery request targets a known
// credential. Token is the opaque recovery token the transport should place
// in a scoped cookie; TTL is its lifetime in seconds. A zero-value challenge
// (empty Token) means the email was unknown and nothing was issued — the
// transport must still report generic success.
type RecoveryChallenge struct {
	Token string
	TTL   int
}

// Issued reports whether a recovery token was actually created.
func (c RecoveryChallenge) Issued() bool { return c.Token != "" }

// AuthResult is the outcome of access-token validation, carried into request
// context by middleware.
type AuthResult struct {
	UserID string
	Email  string
	Role   string
}

// IdentityRef names the principal a one-time-code request is for. Refs are
// always keyed by normalized email: a code requested through a user ID shares
// one budget with codes requested through the matching address. Construct
// with ByEmail; the zero value is invalid and rejected by the rate limiter.
type IdentityRef struct {
	email string
}

// ByEmail identifies a principal by (normalized) email address.
func ByEmail(email string) IdentityRef {
	return IdentityRef{email: NormalizeEmail(email)}
}

func (r IdentityRef) valid() bool { return r.email != "" }

// NormalizeEmail lowercases and trims an email address. Every engine entry
// point that accepts an email applies this before lookups, issuance and
// rate-limit accounting so differently-cased submissions share one identity.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
