package httpapi

import (
	"net/http"
	"strings"
	"time"
)

const (
	refreshCookieName  = "staff_refresh"
	recoveryCookieName = "staff_recovery"

	// Recovery cookies are scoped to the recovery endpoints so the token is
	// never sent along with ordinary app traffic.
	recoveryCookiePath = "/auth/password"
)

func parseSameSite(s string) http.SameSite {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (s *Server) buildCookie(name, value, path string, ttl time.Duration) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: parseSameSite(s.opts.CookieSameSite),
	}
	if s.opts.CookieDomain != "" {
		ck.Domain = s.opts.CookieDomain
	}
	if ttl > 0 {
		ck.Expires = time.Now().Add(ttl).UTC()
		ck.MaxAge = int(ttl.Seconds())
	}
	return ck
}

func (s *Server) deletionCookie(name, path string) *http.Cookie {
	ck := s.buildCookie(name, "", path, 0)
	ck.Expires = time.Unix(0, 0).UTC()
	ck.MaxAge = -1
	return ck
}

// cookieOrField prefers the named cookie, falling back to a value parsed from
// the request body. Browser clients ride on cookies; API clients send the
// token explicitly.
func cookieOrField(r *http.Request, name, field string) string {
	if ck, err := r.Cookie(name); err == nil && ck.Value != "" {
		return ck.Value
	}
	return field
}
