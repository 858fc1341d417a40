package server

import (
	"net/http"
	"net/url"
	"time"
)

const (
	// sessionCookieName carries only the opaque session id
	sessionCookieName = "session_id"
	// stateCookieName and verifierCookieName hold the OAuth transient state between /auth/start and the callback
	stateCookieName    = "oauth_state"
	verifierCookieName = "code_verifier"
)

func (s *Server) newCookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.GetSecureCookies(),
		SameSite: s.config.GetCookieSameSite(),
		MaxAge:   int(maxAge.Seconds()),
	}
}

// expireCookie removes a cookie from the browser (Max-Age=0 on the wire).
func (s *Server) expireCookie(w http.ResponseWriter, name string) {
	c := s.newCookie(name, "", 0)
	c.MaxAge = -1
	http.SetCookie(w, c)
}

func (s *Server) setTransientCookies(w http.ResponseWriter, state, verifier string) {
	ttl := s.config.GetTransientCookieTTL()
	http.SetCookie(w, s.newCookie(stateCookieName, state, ttl))
	http.SetCookie(w, s.newCookie(verifierCookieName, verifier, ttl))
}

func (s *Server) clearTransientCookies(w http.ResponseWriter) {
	s.expireCookie(w, stateCookieName)
	s.expireCookie(w, verifierCookieName)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string, lifetime time.Duration) {
	http.SetCookie(w, s.newCookie(sessionCookieName, sessionID, lifetime))
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	s.expireCookie(w, sessionCookieName)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// redirectSuccess sends the browser to the post-login page with the login flag
func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path+"?login=success", http.StatusFound)
}

// redirectWithError sends the browser to path with a displayable error message
func redirectWithError(w http.ResponseWriter, r *http.Request, path, errorMsg string) {
	http.Redirect(w, r, path+"?error="+url.QueryEscape(errorMsg), http.StatusFound)
}
