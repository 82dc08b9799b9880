package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	staffauth "github.com/wardline/staffauth"
	"github.com/wardline/staffauth/middleware"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Authenticated bool                  `json:"authenticated"`
	AccessToken   string                `json:"access_token,omitempty"`
	TokenType     string                `json:"token_type,omitempty"`
	ExpiresIn     int                   `json:"expires_in,omitempty"`
	User          staffauth.SessionUser `json:"user"`
	Redirect      string                `json:"redirect,omitempty"`

	StepUpRequired bool `json:"step_up_required,omitempty"`
	ChallengeTTL   int  `json:"challenge_ttl,omitempty"`
}

// handleLogin serves POST /auth/login.
//
// A fully authenticated outcome sets the refresh cookie and returns the
// access token. A step-up outcome returns the user ID the client must echo
// back to /auth/login/verify-otp along with the code.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, errBadRequest.WithDetail("email and password are required"))
		return
	}

	outcome, err := s.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if outcome.StepUpRequired {
		writeJSON(w, http.StatusOK, sessionResponse{
			StepUpRequired: true,
			User:           outcome.User,
			ChallengeTTL:   outcome.ChallengeTTL,
		})
		return
	}

	s.writeSession(w, &staffauth.SessionResult{
		AccessToken:  outcome.AccessToken,
		RefreshToken: outcome.RefreshToken,
		ExpiresIn:    outcome.ExpiresIn,
		User:         outcome.User,
		RedirectPath: outcome.RedirectPath,
	})
}

type verifyStepUpRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

// handleVerifyStepUp serves POST /auth/login/verify-otp.
func (s *Server) handleVerifyStepUp(w http.ResponseWriter, r *http.Request) {
	var req verifyStepUpRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Code == "" {
		writeError(w, errBadRequest.WithDetail("user_id and code are required"))
		return
	}

	session, err := s.engine.VerifyStepUp(r.Context(), req.UserID, req.Code)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeSession(w, session)
}

type resendStepUpRequest struct {
	UserID string `json:"user_id"`
}

// handleResendStepUp serves POST /auth/login/resend-otp.
func (s *Server) handleResendStepUp(w http.ResponseWriter, r *http.Request) {
	var req resendStepUpRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, errBadRequest.WithDetail("user_id is required"))
		return
	}

	ttl, err := s.engine.ResendStepUp(r.Context(), req.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true, "challenge_ttl": ttl})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleRefresh serves POST /auth/refresh. The refresh token rides on the
// cookie for browser clients or in the body for API clients; either way the
// same token comes back, it is never rotated.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if !s.decodeJSON(w, r, &req) {
			return
		}
	}

	token := cookieOrField(r, refreshCookieName, req.RefreshToken)
	if token == "" {
		writeError(w, errUnauthorized.WithDetail("no refresh token"))
		return
	}

	session, err := s.engine.Refresh(r.Context(), token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeSession(w, session)
}

// handleLogout serves POST /auth/logout. Always succeeds: an unknown or
// malformed token has nothing left to revoke.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if !s.decodeJSON(w, r, &req) {
			return
		}
	}

	token := cookieOrField(r, refreshCookieName, req.RefreshToken)
	if token != "" {
		if err := s.engine.Logout(r.Context(), token); err != nil {
			s.log.Warn("logout revoke failed", zap.Error(err))
		}
	}

	http.SetCookie(w, s.deletionCookie(refreshCookieName, "/"))
	writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
}

// handleLogoutAll serves POST /auth/logout-all. Requires a valid access
// token; revokes every refresh token the caller holds.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		writeError(w, errUnauthorized)
		return
	}

	revoked, err := s.engine.LogoutAll(r.Context(), auth.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	http.SetCookie(w, s.deletionCookie(refreshCookieName, "/"))
	writeJSON(w, http.StatusOK, map[string]any{"logged_out": true, "sessions_revoked": revoked})
}

// writeSession sets the refresh cookie and writes the standard session body.
// The refresh token rides the cookie; it enters the body only when the
// deployment opted in for cookie-less API clients.
func (s *Server) writeSession(w http.ResponseWriter, session *staffauth.SessionResult) {
	http.SetCookie(w, s.buildCookie(refreshCookieName, session.RefreshToken, "/", s.opts.RefreshCookieTTL))

	body := struct {
		sessionResponse
		RefreshToken string `json:"refresh_token,omitempty"`
	}{
		sessionResponse: sessionResponse{
			Authenticated: true,
			AccessToken:   session.AccessToken,
			TokenType:     "Bearer",
			ExpiresIn:     session.ExpiresIn,
			User:          session.User,
			Redirect:      session.RedirectPath,
		},
	}
	if s.opts.RefreshTokenInBody {
		body.RefreshToken = session.RefreshToken
	}
	writeJSON(w, http.StatusOK, body)
}
