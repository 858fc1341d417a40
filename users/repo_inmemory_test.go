package users_test

import (
	"sync"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/go-audit-server/internal/errors"
	"github.com/jrsteele09/go-audit-server/users"
	"github.com/stretchr/testify/require"
)

func TestUpsertByProvider(t *testing.T) {
	joined := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	repo := users.NewInMemoryRepo()

	u, err := repo.UpsertByProvider(users.Profile{Subject: "sub-1", Email: "a@example.com", Name: "A"}, joined)
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	require.Equal(t, joined, u.DateJoined)

	later := joined.Add(time.Hour)
	again, err := repo.UpsertByProvider(users.Profile{Subject: "sub-1", Email: "b@example.com", Name: "B"}, later)
	require.NoError(t, err)
	require.Equal(t, u.ID, again.ID)
	require.Equal(t, "b@example.com", again.Email)
	require.Equal(t, joined, again.DateJoined)
	require.Equal(t, later, again.LastLogin)

	stored, err := repo.GetByID(u.ID)
	require.NoError(t, err)
	require.Equal(t, "B", stored.Name)

	_, err = repo.UpsertByProvider(users.Profile{}, joined)
	require.Error(t, err)

	_, err = repo.GetByID("missing")
	require.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestUpsertByProviderConcurrent(t *testing.T) {
	repo := users.NewInMemoryRepo()

	ids := make(chan string, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := repo.UpsertByProvider(users.Profile{Subject: "same"}, time.Now())
			if err == nil {
				ids <- u.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 1)
}
