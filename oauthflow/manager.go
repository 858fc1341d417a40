// Package oauthflow drives the OAuth2 authorization code flow with PKCE and
// turns a successful callback into a server-side session.
package oauthflow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-audit-server/auditlog"
	apperrors "github.com/jrsteele09/go-audit-server/internal/errors"
	"github.com/jrsteele09/go-audit-server/sessions"
	"github.com/jrsteele09/go-audit-server/token"
	"github.com/jrsteele09/go-audit-server/users"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	stateLength       = 32
	defaultSessionTTL = 7 * 24 * time.Hour
)

// Repos holds the credential store dependencies of the Manager
type Repos struct {
	Users    users.Repo
	Tokens   token.Repo
	Sessions sessions.Repo
	AuditLog auditlog.Repo
}

// AuthRequest is the outcome of BeginAuth. State and CodeVerifier must be kept
// by the caller (in short-lived cookies) until the callback.
type AuthRequest struct {
	URL          string
	State        string
	CodeVerifier string
}

// Callback carries everything the provider redirect and the transient cookies supplied.
type Callback struct {
	Code         string
	State        string // returned by the provider
	StoredState  string // from the oauth_state cookie
	CodeVerifier string // from the code_verifier cookie
	IP           string
	UserAgent    string
}

type Manager struct {
	provider   Provider
	repos      Repos
	sessionTTL time.Duration
	nowTime    func() time.Time
	identities *identityLocks
}

type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

func WithSessionTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.sessionTTL = ttl
		}
	}
}

func NewManager(provider Provider, repos Repos, options ...ManagerOption) (*Manager, error) {
	if provider == nil {
		return nil, errors.New("[NewManager] provider is required")
	}
	if repos.Users == nil {
		return nil, errors.New("[NewManager] Users repo is required")
	}
	if repos.Tokens == nil {
		return nil, errors.New("[NewManager] Tokens repo is required")
	}
	if repos.Sessions == nil {
		return nil, errors.New("[NewManager] Sessions repo is required")
	}
	if repos.AuditLog == nil {
		return nil, errors.New("[NewManager] AuditLog repo is required")
	}

	m := &Manager{
		provider:   provider,
		repos:      repos,
		sessionTTL: defaultSessionTTL,
		nowTime:    time.Now,
		identities: newIdentityLocks(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// BeginAuth creates a fresh state nonce and PKCE verifier and the provider URL bound to them.
func (m *Manager) BeginAuth() (*AuthRequest, error) {
	b := make([]byte, stateLength)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("[Manager BeginAuth] failed to generate state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(b)
	verifier := oauth2.GenerateVerifier()

	return &AuthRequest{
		URL:          m.provider.AuthCodeURL(state, verifier),
		State:        state,
		CodeVerifier: verifier,
	}, nil
}

// CompleteAuth validates the callback, exchanges the code and creates a session.
// No session is created unless every step succeeds.
func (m *Manager) CompleteAuth(ctx context.Context, cb Callback) (*sessions.Session, error) {
	if cb.State == "" || cb.StoredState == "" ||
		subtle.ConstantTimeCompare([]byte(cb.State), []byte(cb.StoredState)) != 1 {
		return nil, ErrInvalidState
	}
	if cb.Code == "" || cb.CodeVerifier == "" {
		return nil, ErrMissingParameters
	}

	oauthToken, err := m.provider.Exchange(ctx, cb.Code, cb.CodeVerifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}

	profile, err := m.provider.Profile(ctx, oauthToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	if profile.Subject == "" {
		return nil, fmt.Errorf("%w: provider returned no subject", ErrProfileFetchFailed)
	}

	// User, token record and session for one identity are written as a unit
	release := m.identities.lock(profile.Subject)
	defer release()

	now := m.nowTime()
	user, err := m.repos.Users.UpsertByProvider(profile, now)
	if err != nil {
		return nil, fmt.Errorf("[Manager CompleteAuth] failed to upsert user: %w", err)
	}

	if err := m.repos.Tokens.Upsert(token.NewRecord(user.ID, oauthToken, m.provider.Scopes())); err != nil {
		return nil, fmt.Errorf("[Manager CompleteAuth] failed to store token: %w", err)
	}

	sessionID, err := sessions.NewID()
	if err != nil {
		return nil, fmt.Errorf("[Manager CompleteAuth] %w", err)
	}
	session := &sessions.Session{
		ID:        sessionID,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.sessionTTL),
	}
	if err := m.repos.Sessions.Create(session); err != nil {
		return nil, fmt.Errorf("[Manager CompleteAuth] failed to create session: %w", err)
	}

	if err := m.repos.AuditLog.Append(auditlog.Entry{
		Action:    auditlog.ActionLogin,
		ActorID:   user.ID,
		IP:        cb.IP,
		UserAgent: cb.UserAgent,
		At:        now,
	}); err != nil {
		log.Err(err).Str("user_id", user.ID).Msg("Failed to record login")
	}

	return session, nil
}

// Session returns a live session. Expired sessions are removed and reported as ErrSessionExpired.
func (m *Manager) Session(sessionID string) (*sessions.Session, error) {
	session, err := m.repos.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Expired(m.nowTime()) {
		_ = m.repos.Sessions.Delete(sessionID)
		return nil, apperrors.ErrSessionExpired
	}
	return session, nil
}

// Logout deletes the session if it exists. It never fails for an unknown session.
func (m *Manager) Logout(sessionID, ip, userAgent string) error {
	if sessionID == "" {
		return nil
	}
	session, err := m.repos.Sessions.Get(sessionID)
	if err != nil {
		return nil
	}
	if err := m.repos.Sessions.Delete(sessionID); err != nil {
		return fmt.Errorf("[Manager Logout] failed to delete session: %w", err)
	}
	if err := m.repos.AuditLog.Append(auditlog.Entry{
		Action:    auditlog.ActionLogout,
		ActorID:   session.UserID,
		IP:        ip,
		UserAgent: userAgent,
		At:        m.nowTime(),
	}); err != nil {
		log.Err(err).Str("user_id", session.UserID).Msg("Failed to record logout")
	}
	return nil
}

// TokenRecord returns the stored provider token of a user.
func (m *Manager) TokenRecord(userID string) (*token.Record, error) {
	return m.repos.Tokens.Get(userID)
}

// TokenSource returns a refreshing token source for record that stores renewed tokens.
// It is detached from any request context because audit jobs outlive the request.
func (m *Manager) TokenSource(record *token.Record) oauth2.TokenSource {
	base := m.provider.TokenSource(context.Background(), record.OAuth2Token())
	return token.NewPersistingSource(base, m.repos.Tokens, record)
}

// SweepExpiredSessions removes every expired session.
func (m *Manager) SweepExpiredSessions() (int, error) {
	return m.repos.Sessions.DeleteExpired(m.nowTime())
}
