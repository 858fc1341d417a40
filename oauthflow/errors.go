package oauthflow

import (
	"errors"
)

var (
	ErrInvalidState        = errors.New("invalid state")
	ErrMissingParameters   = errors.New("missing parameters")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrProfileFetchFailed  = errors.New("profile fetch failed")
	ErrProviderDenied      = errors.New("provider denied authorization")
)

// UserMessage maps an authentication error to text that is safe to show in
// the post-login redirect. Provider response bodies are never included.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidState):
		return "Login session expired or was tampered with. Please try again."
	case errors.Is(err, ErrMissingParameters):
		return "Login response was incomplete. Please try again."
	case errors.Is(err, ErrTokenExchangeFailed):
		return "Could not complete sign-in with Google. Please try again."
	case errors.Is(err, ErrProfileFetchFailed):
		return "Could not read your Google profile. Please try again."
	case errors.Is(err, ErrProviderDenied):
		return "Sign-in was cancelled or denied."
	default:
		return "Sign-in failed. Please try again."
	}
}
