package auditlog_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-audit-server/auditlog"
	"github.com/stretchr/testify/require"
)

func TestAppendAndListByActor(t *testing.T) {
	repo := auditlog.NewInMemoryRepo()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(auditlog.Entry{Action: auditlog.ActionLogin, ActorID: "u1", At: at}))
	require.NoError(t, repo.Append(auditlog.Entry{Action: auditlog.ActionLogin, ActorID: "u2", At: at}))
	require.NoError(t, repo.Append(auditlog.Entry{Action: auditlog.ActionLogout, ActorID: "u1", At: at.Add(time.Minute)}))

	entries, err := repo.ListByActor("u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, auditlog.ActionLogin, entries[0].Action)
	require.Equal(t, auditlog.ActionLogout, entries[1].Action)
	require.NotEmpty(t, entries[0].ID)

	none, err := repo.ListByActor("nobody")
	require.NoError(t, err)
	require.Empty(t, none)
}
