package audit_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-audit-server/audit"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input   string
		want    audit.Category
		wantErr bool
	}{
		{input: "storage", want: audit.CategoryStorage},
		{input: " Compute ", want: audit.CategoryCompute},
		{input: "IAM", want: audit.CategoryIAM},
		{input: "all", want: audit.CategoryAll},
		{input: "", wantErr: true},
		{input: "storag", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := audit.ParseCategory(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, audit.ErrUnknownCategory)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestExpandAllCoversEveryCategory(t *testing.T) {
	require.Equal(t, audit.Categories(), audit.CategoryAll.Expand())
	require.Len(t, audit.CategoryAll.Expand(), 4)
	require.Equal(t, []audit.Category{audit.CategoryNetwork}, audit.CategoryNetwork.Expand())
}

func TestStatusTerminal(t *testing.T) {
	require.False(t, audit.StatusRunning.Terminal())
	require.True(t, audit.StatusCompleted.Terminal())
	require.True(t, audit.StatusError.Terminal())
}

func TestCloneDoesNotShareCompletedAt(t *testing.T) {
	now := time.Now()
	job := audit.NewJob("j1", "p1", "u1", audit.CategoryStorage, now)
	job.CompletedAt = &now

	c := job.Clone()
	later := now.Add(time.Minute)
	*c.CompletedAt = later

	require.Equal(t, now, *job.CompletedAt)
	require.Equal(t, audit.StartingStep, job.CurrentStep)
	require.Equal(t, audit.StatusRunning, job.Status)
}

func TestCombine(t *testing.T) {
	children := []*audit.Result{
		{Category: audit.CategoryStorage, Findings: []audit.Finding{{Resource: "b1", Severity: audit.SeverityMedium, Title: "x"}}},
		{Category: audit.CategoryIAM, Findings: []audit.Finding{}},
	}

	r := audit.Combine("p1", audit.CategoryAll, children)
	require.Equal(t, "p1", r.ProjectID)
	require.Len(t, r.Children, 2)
	require.Len(t, r.Findings, 1)
	require.Contains(t, r.Summary, "storage, iam")
}
