package server

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/jrsteele09/go-audit-server/internal/errors"
	"github.com/jrsteele09/go-audit-server/sessions"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySession stores the authenticated *sessions.Session
	ContextKeySession ContextKey = "session"
)

// RequireSession rejects requests without a live session with 401 and
// injects the session into the request context.
func (s *Server) RequireSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				writeJSONError(w, "unauthenticated", "Sign in to continue", http.StatusUnauthorized)
				return
			}

			session, err := s.auth.Session(cookie.Value)
			if err != nil {
				if !errors.Is(err, apperrors.ErrSessionNotFound) && !errors.Is(err, apperrors.ErrSessionExpired) {
					log.Err(err).Msg("Failed to load session")
				}
				s.clearSessionCookie(w)
				writeJSONError(w, "unauthenticated", "Your session has expired. Sign in again.", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, session)
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireCSRF rejects state-changing requests whose X-CSRF-Token header is
// not bound to the caller's session. It must run after RequireSession.
func (s *Server) RequireCSRF() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			session := sessionFromContext(r.Context())
			if session == nil {
				writeJSONError(w, "unauthenticated", "Sign in to continue", http.StatusUnauthorized)
				return
			}
			if err := s.csrf.Verify(r, session.ID); err != nil {
				log.Warn().Str("user_id", session.UserID).Str("path", r.URL.Path).Msg("Rejected request with invalid CSRF token")
				writeJSONError(w, "forbidden", "Missing or invalid CSRF token", http.StatusForbidden)
				return
			}
			next(w, r)
		}
	}
}

func sessionFromContext(ctx context.Context) *sessions.Session {
	session, _ := ctx.Value(ContextKeySession).(*sessions.Session)
	return session
}
