package csrf_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-audit-server/csrf"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newGuard(t *testing.T, now func() time.Time) *csrf.Guard {
	t.Helper()
	g, err := csrf.NewGuard(testSecret, time.Hour, csrf.WithNowTime(now))
	require.NoError(t, err)
	return g
}

func TestIssueAndVerify(t *testing.T) {
	g := newGuard(t, time.Now)

	tok, err := g.IssueToken("session-a")
	require.NoError(t, err)
	require.NotContains(t, tok, "session-a")

	r := httptest.NewRequest("POST", "/audits/run", nil)
	r.Header.Set(csrf.HeaderName, tok)
	require.NoError(t, g.Verify(r, "session-a"))
}

func TestVerifyRejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	g := newGuard(t, clock)

	tok, err := g.IssueToken("session-a")
	require.NoError(t, err)

	other, err := csrf.NewGuard([]byte("another-secret-another-secret!!!"), time.Hour, csrf.WithNowTime(clock))
	require.NoError(t, err)
	foreign, err := other.IssueToken("session-a")
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		sessionID string
	}{
		{name: "missing token", token: "", sessionID: "session-a"},
		{name: "garbage token", token: "not-a-token", sessionID: "session-a"},
		{name: "other session", token: tok, sessionID: "session-b"},
		{name: "other key", token: foreign, sessionID: "session-a"},
		{name: "tampered", token: tok[:len(tok)-2] + flip(tok[len(tok)-2:]), sessionID: "session-a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.VerifyToken(tt.token, tt.sessionID)
			require.ErrorIs(t, err, csrf.ErrForbidden)
		})
	}

	t.Run("expired", func(t *testing.T) {
		now = now.Add(2 * time.Hour)
		require.ErrorIs(t, g.VerifyToken(tok, "session-a"), csrf.ErrForbidden)
	})
}

func TestNewGuardValidation(t *testing.T) {
	_, err := csrf.NewGuard([]byte("short"), time.Hour)
	require.Error(t, err)
	_, err = csrf.NewGuard(testSecret, 0)
	require.Error(t, err)
}

func flip(s string) string {
	if strings.HasPrefix(s, "A") {
		return "B" + s[1:]
	}
	return "A" + s[1:]
}
