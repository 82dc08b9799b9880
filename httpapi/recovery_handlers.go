package httpapi

import (
	"errors"
	"net/http"

	staffauth "github.com/wardline/staffauth"
)

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword serves POST /auth/password/forgot.
//
// The response body is byte-identical whether or not the address maps to an
// account. When it does, the recovery token travels only in a scoped
// HttpOnly cookie and the code goes out through the notifier; the token is
// never part of the body.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, errBadRequest.WithDetail("email is required"))
		return
	}

	challenge, err := s.engine.RequestRecovery(r.Context(), req.Email)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if challenge.Issued() {
		http.SetCookie(w, s.buildCookie(recoveryCookieName, challenge.Token, recoveryCookiePath, s.opts.RecoveryCookieTTL))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "If that address has an account, a verification code has been sent.",
	})
}

type verifyRecoveryRequest struct {
	Token string `json:"recovery_token"`
	Code  string `json:"code"`
}

// handleVerifyRecoveryCode serves POST /auth/password/verify-otp. A failed
// verification clears the recovery cookie.
func (s *Server) handleVerifyRecoveryCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRecoveryRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	token := cookieOrField(r, recoveryCookieName, req.Token)
	if token == "" || req.Code == "" {
		writeError(w, errBadRequest.WithDetail("recovery token and code are required"))
		return
	}

	if err := s.engine.VerifyRecoveryCode(r.Context(), token, req.Code); err != nil {
		// A backend outage is retryable with the same cookie; everything
		// else invalidates the client's recovery state.
		if !errors.Is(err, staffauth.ErrStoreUnavailable) {
			http.SetCookie(w, s.deletionCookie(recoveryCookieName, recoveryCookiePath))
		}
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

type resetPasswordRequest struct {
	Token       string `json:"recovery_token"`
	NewPassword string `json:"new_password"`
}

// handleResetPassword serves POST /auth/password/reset. On success the
// recovery cookie is cleared and every existing session is gone; the client
// signs in with the new password.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	token := cookieOrField(r, recoveryCookieName, req.Token)
	if token == "" || req.NewPassword == "" {
		writeError(w, errBadRequest.WithDetail("recovery token and new_password are required"))
		return
	}

	if err := s.engine.CompletePasswordChange(r.Context(), token, req.NewPassword); err != nil {
		writeEngineError(w, err)
		return
	}

	http.SetCookie(w, s.deletionCookie(recoveryCookieName, recoveryCookiePath))
	http.SetCookie(w, s.deletionCookie(refreshCookieName, "/"))
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}
