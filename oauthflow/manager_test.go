package oauthflow_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-audit-server/auditlog"
	apperrors "github.com/jrsteele09/go-audit-server/internal/errors"
	"github.com/jrsteele09/go-audit-server/oauthflow"
	"github.com/jrsteele09/go-audit-server/oauthflow/providerfake"
	"github.com/jrsteele09/go-audit-server/sessions"
	"github.com/jrsteele09/go-audit-server/token"
	"github.com/jrsteele09/go-audit-server/users"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testState = "random-state-value"

type testFixture struct {
	provider *providerfake.FakeProvider
	users    *users.InMemoryRepo
	tokens   *token.InMemoryRepo
	sessions *sessions.InMemoryRepo
	auditLog *auditlog.InMemoryRepo
	now      time.Time
	manager  *oauthflow.Manager
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		provider: providerfake.NewFakeProvider(),
		users:    users.NewInMemoryRepo(),
		tokens:   token.NewInMemoryRepo(),
		sessions: sessions.NewInMemoryRepo(),
		auditLog: auditlog.NewInMemoryRepo(),
		now:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	m, err := oauthflow.NewManager(f.provider, oauthflow.Repos{
		Users:    f.users,
		Tokens:   f.tokens,
		Sessions: f.sessions,
		AuditLog: f.auditLog,
	}, oauthflow.WithNowTime(func() time.Time { return f.now }))
	require.NoError(t, err)
	f.manager = m
	return f
}

func (f *testFixture) validCallback() oauthflow.Callback {
	return oauthflow.Callback{
		Code:         f.provider.ValidCode,
		State:        testState,
		StoredState:  testState,
		CodeVerifier: oauth2.GenerateVerifier(),
		IP:           "203.0.113.9",
		UserAgent:    "test-agent",
	}
}

func TestBeginAuth(t *testing.T) {
	f := setupTestFixture(t)

	req, err := f.manager.BeginAuth()
	require.NoError(t, err)
	require.NotEmpty(t, req.State)
	require.GreaterOrEqual(t, len(req.CodeVerifier), 43)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	require.Equal(t, req.State, u.Query().Get("state"))
	require.Equal(t, oauth2.S256ChallengeFromVerifier(req.CodeVerifier), u.Query().Get("code_challenge"))
	require.NotContains(t, req.URL, req.CodeVerifier, "the verifier never leaves the server")

	again, err := f.manager.BeginAuth()
	require.NoError(t, err)
	require.NotEqual(t, req.State, again.State)
	require.NotEqual(t, req.CodeVerifier, again.CodeVerifier)
}

func TestCompleteAuthSuccess(t *testing.T) {
	f := setupTestFixture(t)
	cb := f.validCallback()

	session, err := f.manager.CompleteAuth(context.Background(), cb)
	require.NoError(t, err)
	require.Equal(t, f.now.Add(7*24*time.Hour), session.ExpiresAt)
	require.Equal(t, cb.CodeVerifier, f.provider.LastVerifier)

	user, err := f.users.GetByID(session.UserID)
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", user.Email)

	rec, err := f.tokens.Get(session.UserID)
	require.NoError(t, err)
	require.Equal(t, "access-valid-code", rec.AccessToken)
	require.Contains(t, rec.Scopes, "https://www.googleapis.com/auth/cloud-platform.read-only")

	entries, err := f.auditLog.ListByActor(session.UserID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, auditlog.ActionLogin, entries[0].Action)
	require.Equal(t, "203.0.113.9", entries[0].IP)
	require.Equal(t, "test-agent", entries[0].UserAgent)

	got, err := f.manager.Session(session.ID)
	require.NoError(t, err)
	require.Equal(t, session.UserID, got.UserID)
}

func TestCompleteAuthFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *testFixture, cb *oauthflow.Callback)
		wantErr error
	}{
		{name: "missing returned state", mutate: func(_ *testFixture, cb *oauthflow.Callback) { cb.State = "" }, wantErr: oauthflow.ErrInvalidState},
		{name: "missing stored state", mutate: func(_ *testFixture, cb *oauthflow.Callback) { cb.StoredState = "" }, wantErr: oauthflow.ErrInvalidState},
		{name: "mismatched state", mutate: func(_ *testFixture, cb *oauthflow.Callback) { cb.State = "attacker-state" }, wantErr: oauthflow.ErrInvalidState},
		{name: "missing code", mutate: func(_ *testFixture, cb *oauthflow.Callback) { cb.Code = "" }, wantErr: oauthflow.ErrMissingParameters},
		{name: "missing verifier", mutate: func(_ *testFixture, cb *oauthflow.Callback) { cb.CodeVerifier = "" }, wantErr: oauthflow.ErrMissingParameters},
		{name: "exchange rejected", mutate: func(_ *testFixture, cb *oauthflow.Callback) { cb.Code = "bad-code" }, wantErr: oauthflow.ErrTokenExchangeFailed},
		{name: "profile unavailable", mutate: func(f *testFixture, _ *oauthflow.Callback) {
			f.provider.ProfileErr = errors.New("userinfo: 500 Internal Server Error")
		}, wantErr: oauthflow.ErrProfileFetchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestFixture(t)
			cb := f.validCallback()
			tt.mutate(f, &cb)

			session, err := f.manager.CompleteAuth(context.Background(), cb)
			require.ErrorIs(t, err, tt.wantErr)
			require.Nil(t, session)

			removed, err := f.sessions.DeleteExpired(f.now.Add(365 * 24 * time.Hour))
			require.NoError(t, err)
			require.Zero(t, removed, "no session may be created on failure")
		})
	}
}

func TestStateFailuresNeverReachProvider(t *testing.T) {
	f := setupTestFixture(t)
	cb := f.validCallback()
	cb.StoredState = "other"

	_, err := f.manager.CompleteAuth(context.Background(), cb)
	require.ErrorIs(t, err, oauthflow.ErrInvalidState)
	require.Zero(t, f.provider.Exchanges)
}

func TestUserMessageHidesProviderDetails(t *testing.T) {
	f := setupTestFixture(t)
	f.provider.ExchangeErr = errors.New(`oauth2: cannot fetch token: 400 {"error":"invalid_client","secret":"s3cr3t"}`)

	_, err := f.manager.CompleteAuth(context.Background(), f.validCallback())
	require.ErrorIs(t, err, oauthflow.ErrTokenExchangeFailed)

	msg := oauthflow.UserMessage(err)
	require.NotContains(t, msg, "s3cr3t")
	require.NotContains(t, msg, "invalid_client")
}

func TestConcurrentCallbacksShareOneUser(t *testing.T) {
	f := setupTestFixture(t)
	f.provider.ExchangeDelay = 5 * time.Millisecond

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan *sessions.Session, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.manager.CompleteAuth(context.Background(), f.validCallback())
			if err != nil {
				errs <- err
				return
			}
			results <- s
		}()
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	owners := make(map[string]struct{})
	ids := make(map[string]struct{})
	for s := range results {
		owners[s.UserID] = struct{}{}
		ids[s.ID] = struct{}{}
	}
	require.Len(t, owners, 1, "every session belongs to the same user")
	require.Len(t, ids, callers, "every callback gets its own session")
}

func TestSessionExpiryAndLogout(t *testing.T) {
	f := setupTestFixture(t)

	session, err := f.manager.CompleteAuth(context.Background(), f.validCallback())
	require.NoError(t, err)

	require.NoError(t, f.manager.Logout(session.ID, "ip", "ua"))
	require.NoError(t, f.manager.Logout(session.ID, "ip", "ua"), "logout is idempotent")
	require.NoError(t, f.manager.Logout("", "ip", "ua"))
	_, err = f.manager.Session(session.ID)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	session, err = f.manager.CompleteAuth(context.Background(), f.validCallback())
	require.NoError(t, err)
	f.now = f.now.Add(8 * 24 * time.Hour)
	_, err = f.manager.Session(session.ID)
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)
}

func TestTokenSourceUsesStoredToken(t *testing.T) {
	f := setupTestFixture(t)

	session, err := f.manager.CompleteAuth(context.Background(), f.validCallback())
	require.NoError(t, err)

	rec, err := f.manager.TokenRecord(session.UserID)
	require.NoError(t, err)

	tok, err := f.manager.TokenSource(rec).Token()
	require.NoError(t, err)
	require.Equal(t, rec.AccessToken, tok.AccessToken)
}
