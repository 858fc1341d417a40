package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-audit-server/oauthflow"
	"github.com/rs/zerolog/log"
)

// AuthStartHandler stores fresh state and PKCE verifier cookies and redirects
// the browser to the provider.
func (s *Server) AuthStartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := s.auth.BeginAuth()
		if err != nil {
			log.Err(err).Msg("Failed to begin OAuth flow")
			redirectWithError(w, r, s.config.GetPostLoginPath(), oauthflow.UserMessage(err))
			return
		}

		s.setTransientCookies(w, req.State, req.CodeVerifier)
		http.Redirect(w, r, req.URL, http.StatusFound)
	}
}

// AuthCallbackHandler completes the provider redirect. The transient cookies
// are cleared on every outcome so a code/state pair can only be used once.
func (s *Server) AuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storedState := cookieValue(r, stateCookieName)
		verifier := cookieValue(r, verifierCookieName)
		s.clearTransientCookies(w)

		q := r.URL.Query()
		if providerErr := q.Get("error"); providerErr != "" {
			err := fmt.Errorf("%w: %s", oauthflow.ErrProviderDenied, providerErr)
			log.Warn().Err(err).Str("ip", s.clientIP(r)).Msg("OAuth provider returned an error")
			redirectWithError(w, r, s.config.GetPostLoginPath(), oauthflow.UserMessage(err))
			return
		}

		session, err := s.auth.CompleteAuth(r.Context(), oauthflow.Callback{
			Code:         q.Get("code"),
			State:        q.Get("state"),
			StoredState:  storedState,
			CodeVerifier: verifier,
			IP:           s.clientIP(r),
			UserAgent:    r.UserAgent(),
		})
		if err != nil {
			event := log.Warn()
			if !errors.Is(err, oauthflow.ErrInvalidState) && !errors.Is(err, oauthflow.ErrMissingParameters) {
				event = log.Error()
			}
			event.Err(err).Str("ip", s.clientIP(r)).Msg("OAuth callback failed")
			redirectWithError(w, r, s.config.GetPostLoginPath(), oauthflow.UserMessage(err))
			return
		}

		s.setSessionCookie(w, session.ID, session.ExpiresAt.Sub(session.CreatedAt))
		log.Info().Str("user_id", session.UserID).Msg("User signed in")
		redirectSuccess(w, r, s.config.GetPostLoginPath())
	}
}

// LogoutHandler ends the session if there is one. It always succeeds.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Logout(cookieValue(r, sessionCookieName), s.clientIP(r), r.UserAgent()); err != nil {
			log.Err(err).Msg("Failed to end session")
		}
		s.clearSessionCookie(w)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
