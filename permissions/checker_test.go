package permissions_test

import (
	"testing"

	"github.com/jrsteele09/go-audit-server/permissions"
	"github.com/jrsteele09/go-audit-server/token"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	checker := permissions.NewChecker([]string{"cloud.read", "compute.read"})

	tests := []struct {
		name    string
		record  *token.Record
		ok      bool
		missing []string
	}{
		{name: "all granted", record: &token.Record{Scopes: []string{"openid", "compute.read", "cloud.read"}}, ok: true, missing: []string{}},
		{name: "one missing", record: &token.Record{Scopes: []string{"cloud.read"}}, missing: []string{"compute.read"}},
		{name: "no scopes", record: &token.Record{}, missing: []string{"cloud.read", "compute.read"}},
		{name: "no record", record: nil, missing: []string{"cloud.read", "compute.read"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := checker.Check(tt.record)
			require.Equal(t, tt.ok, v.HasPermissions)
			require.Equal(t, tt.missing, v.MissingScopes)
			require.NotEmpty(t, v.Message())
		})
	}
}

func TestCheckHasNoSideEffects(t *testing.T) {
	checker := permissions.NewChecker([]string{"a"})
	rec := &token.Record{Scopes: []string{"b"}}

	first := checker.Check(rec)
	second := checker.Check(rec)
	require.Equal(t, first, second)
	require.Equal(t, []string{"b"}, rec.Scopes)
}
