package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	staffauth "github.com/wardline/staffauth"
)

// HTTPError is the wire shape of every non-2xx response.
type HTTPError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Detail  string   `json:"detail,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
	Status  int      `json:"-"`
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

// WithDetail returns a copy with a specific detail string.
func (e *HTTPError) WithDetail(detail string) *HTTPError {
	out := *e
	out.Detail = detail
	return &out
}

var (
	errInvalidJSON        = &HTTPError{Code: "invalid_json", Message: "Invalid JSON body", Status: http.StatusBadRequest}
	errBadRequest         = &HTTPError{Code: "bad_request", Message: "Bad request", Status: http.StatusBadRequest}
	errUnauthorized       = &HTTPError{Code: "unauthorized", Message: "Unauthorized", Status: http.StatusUnauthorized}
	errInternal           = &HTTPError{Code: "internal_error", Message: "Internal server error", Status: http.StatusInternalServerError}
	errServiceUnavailable = &HTTPError{Code: "service_unavailable", Message: "Service unavailable", Status: http.StatusServiceUnavailable}
)

func writeError(w http.ResponseWriter, err *HTTPError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err)
}

// writeEngineError maps engine sentinels onto HTTP responses. Anything not
// recognized is an internal error; the handler logs it, the client does not
// learn more than that.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		locked *staffauth.AccountLockedError
		rate   *staffauth.RateLimitError
		policy *staffauth.PasswordPolicyError
	)

	switch {
	case errors.As(err, &rate):
		retry := int(rate.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, &HTTPError{
			Code:    "rate_limited",
			Message: "Too many requests",
			Detail:  rate.Scope + " limit exceeded",
			Status:  http.StatusTooManyRequests,
		})

	case errors.As(err, &locked):
		writeError(w, &HTTPError{
			Code:    "account_locked",
			Message: "Account temporarily locked",
			Detail:  "try again in " + strconv.Itoa(locked.Minutes()) + " minutes",
			Status:  http.StatusLocked,
		})

	case errors.As(err, &policy):
		writeError(w, &HTTPError{
			Code:    "password_policy",
			Message: "Password rejected by policy",
			Reasons: policy.Reasons,
			Status:  http.StatusBadRequest,
		})

	case errors.Is(err, staffauth.ErrInvalidCredentials):
		writeError(w, errUnauthorized.WithDetail("invalid email or password"))

	case errors.Is(err, staffauth.ErrInvalidOrExpiredCode):
		writeError(w, errUnauthorized.WithDetail("invalid or expired code"))

	case errors.Is(err, staffauth.ErrRecoveryTokenInvalid):
		writeError(w, errUnauthorized.WithDetail("recovery session invalid or expired"))

	case errors.Is(err, staffauth.ErrRefreshTokenInvalid):
		writeError(w, errUnauthorized.WithDetail("session expired, sign in again"))

	case errors.Is(err, staffauth.ErrAccessTokenInvalid):
		writeError(w, errUnauthorized)

	case errors.Is(err, staffauth.ErrAccountInactive):
		writeError(w, &HTTPError{
			Code:    "account_inactive",
			Message: "Account is deactivated",
			Status:  http.StatusForbidden,
		})

	case errors.Is(err, staffauth.ErrTwoFactorState):
		writeError(w, &HTTPError{
			Code:    "two_factor_conflict",
			Message: "Two-factor state conflict",
			Status:  http.StatusConflict,
		})

	case errors.Is(err, staffauth.ErrNotifierUnavailable):
		writeError(w, &HTTPError{
			Code:    "delivery_unavailable",
			Message: "Could not deliver verification code",
			Status:  http.StatusBadGateway,
		})

	case errors.Is(err, staffauth.ErrStoreUnavailable):
		writeError(w, errServiceUnavailable)

	default:
		writeError(w, errInternal)
	}
}
