package httpapi

import (
	"net/http"

	"github.com/wardline/staffauth/middleware"
)

// handleEnableTwoFactor serves POST /auth/2fa/enable.
func (s *Server) handleEnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		writeError(w, errUnauthorized)
		return
	}

	if err := s.engine.EnableTwoFactor(r.Context(), auth.UserID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"two_factor_enabled": true})
}

// handleRequestTwoFactorCode serves POST /auth/2fa/request-otp. Issues the
// code a subsequent disable call must present.
func (s *Server) handleRequestTwoFactorCode(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		writeError(w, errUnauthorized)
		return
	}

	ttl, err := s.engine.RequestTwoFactorCode(r.Context(), auth.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true, "challenge_ttl": ttl})
}

type disableTwoFactorRequest struct {
	Code string `json:"code"`
}

// handleDisableTwoFactor serves POST /auth/2fa/disable. Disabling is a
// sensitive downgrade, so it requires a fresh one-time code on top of the
// access token.
func (s *Server) handleDisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		writeError(w, errUnauthorized)
		return
	}

	var req disableTwoFactorRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, errBadRequest.WithDetail("code is required"))
		return
	}

	if err := s.engine.DisableTwoFactor(r.Context(), auth.UserID, req.Code); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"two_factor_enabled": false})
}
