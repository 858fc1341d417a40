package sessions_test

import (
	"testing"
	"time"

	apperrors "github.com/jrsteele09/go-audit-server/internal/errors"
	"github.com/jrsteele09/go-audit-server/sessions"
	"github.com/stretchr/testify/require"
)

func TestNewIDEntropy(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := sessions.NewID()
		require.NoError(t, err)
		require.Len(t, id, 43) // 32 bytes, unpadded base64url
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestInMemoryRepo(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo := sessions.NewInMemoryRepo()

	live := &sessions.Session{ID: "live", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	stale := &sessions.Session{ID: "stale", UserID: "u1", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, repo.Create(live))
	require.NoError(t, repo.Create(stale))
	require.Error(t, repo.Create(live), "duplicate ids are rejected")

	got, err := repo.Get("live")
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)

	removed, err := repo.DeleteExpired(now)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get("stale")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	require.NoError(t, repo.Delete("live"))
	require.NoError(t, repo.Delete("live"), "delete is idempotent")
	_, err = repo.Get("live")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}
