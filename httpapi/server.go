// Package httpapi mounts the authentication engine behind a JSON HTTP
// surface. It owns transport concerns only: body decoding, cookies, status
// mapping and request logging. All authentication decisions stay in the
// engine.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	staffauth "github.com/wardline/staffauth"
	"github.com/wardline/staffauth/middleware"
)

const defaultMaxBodyBytes = 8 * 1024 // 8KB

// Options configures the transport layer. The zero value is usable in
// development; production deployments should at least set CookieSecure.
type Options struct {
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite string // "lax" (default), "strict" or "none"

	// RefreshCookieTTL should match the engine's refresh token lifetime;
	// RecoveryCookieTTL should match the recovery token lifetime. Zero
	// values fall back to the engine defaults (7 days, 15 minutes).
	RefreshCookieTTL  time.Duration
	RecoveryCookieTTL time.Duration

	// RefreshTokenInBody additionally echoes the refresh token in session
	// response bodies, for API clients that cannot use cookies. Browser
	// deployments leave it off; the cookie is the only channel then.
	RefreshTokenInBody bool

	MaxBodyBytes int64
	Logger       *zap.Logger
}

// Server holds the engine and transport options behind the HTTP handlers.
type Server struct {
	engine *staffauth.Engine
	opts   Options
	log    *zap.Logger
}

func NewServer(engine *staffauth.Engine, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.RefreshCookieTTL <= 0 {
		opts.RefreshCookieTTL = 7 * 24 * time.Hour
	}
	if opts.RecoveryCookieTTL <= 0 {
		opts.RecoveryCookieTTL = 15 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{engine: engine, opts: opts, log: log}
}

// Router builds the chi router with all authentication routes mounted under
// /auth. Callers mount it into their own mux or serve it directly.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(middleware.RequestIdentity)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/login/verify-otp", s.handleVerifyStepUp)
		r.Post("/login/resend-otp", s.handleResendStepUp)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)

		r.Route("/password", func(r chi.Router) {
			r.Post("/forgot", s.handleForgotPassword)
			r.Post("/verify-otp", s.handleVerifyRecoveryCode)
			r.Post("/reset", s.handleResetPassword)
		})

		// Everything below requires a valid access token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(s.engine))
			r.Post("/logout-all", s.handleLogoutAll)
			r.Route("/2fa", func(r chi.Router) {
				r.Post("/enable", s.handleEnableTwoFactor)
				r.Post("/request-otp", s.handleRequestTwoFactorCode)
				r.Post("/disable", s.handleDisableTwoFactor)
			})
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

// decodeJSON bounds and parses a request body. A false return means the
// error response has already been written.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, errInvalidJSON)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
