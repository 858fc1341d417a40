package jobs_test

import (
	"context"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-audit-server/audit"
	"github.com/jrsteele09/go-audit-server/audit/jobs"
	apperrors "github.com/jrsteele09/go-audit-server/internal/errors"
	"github.com/stretchr/testify/require"
)

type fakeRedisClient struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedisClient) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	f.ttls[key] = expiration
	return nil
}

func (f *fakeRedisClient) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", jobs.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeRedisClient) Keys(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.data {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeRedisClient) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
		delete(f.ttls, k)
	}
	return nil
}

func (f *fakeRedisClient) Ping(context.Context) error { return nil }
func (f *fakeRedisClient) Close() error               { return nil }

func repos() map[string]func() jobs.Repo {
	return map[string]func() jobs.Repo{
		"memory": func() jobs.Repo { return jobs.NewInMemoryRepo() },
		"redis":  func() jobs.Repo { return jobs.NewRedisRepo(newFakeRedisClient(), time.Hour) },
	}
}

func TestRepoLifecycle(t *testing.T) {
	ctx := context.Background()
	started := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for name, newRepo := range repos() {
		t.Run(name, func(t *testing.T) {
			repo := newRepo()

			_, err := repo.Get(ctx, "missing")
			require.ErrorIs(t, err, jobs.ErrNotFound)
			require.ErrorIs(t, err, apperrors.ErrNotFound)

			job := audit.NewJob("job-1", "p1", "u1", audit.CategoryStorage, started)
			require.NoError(t, repo.Create(ctx, job))
			require.Error(t, repo.Create(ctx, job), "duplicate ids are rejected")

			job.Progress = 40
			job.CurrentStep = "Listing buckets"
			require.NoError(t, repo.Update(ctx, job))

			got, err := repo.Get(ctx, "job-1")
			require.NoError(t, err)
			require.Equal(t, 40, got.Progress)
			require.Equal(t, "Listing buckets", got.CurrentStep)
			require.True(t, got.StartedAt.Equal(started))

			done := started.Add(time.Minute)
			job.Status = audit.StatusCompleted
			job.Progress = 100
			job.CompletedAt = &done
			job.Result = &audit.Result{ProjectID: "p1", Category: audit.CategoryStorage, Findings: []audit.Finding{}}
			require.NoError(t, repo.Update(ctx, job))

			job.Status = audit.StatusRunning
			job.Progress = 10
			require.ErrorIs(t, repo.Update(ctx, job), jobs.ErrTerminal)

			got, err = repo.Get(ctx, "job-1")
			require.NoError(t, err)
			require.Equal(t, audit.StatusCompleted, got.Status)
			require.Equal(t, 100, got.Progress)
			require.NotNil(t, got.Result)

			require.ErrorIs(t, repo.Update(ctx, audit.NewJob("nope", "p", "u", audit.CategoryIAM, started)), jobs.ErrNotFound)
		})
	}
}

func TestRepoReturnsCopies(t *testing.T) {
	ctx := context.Background()
	for name, newRepo := range repos() {
		t.Run(name, func(t *testing.T) {
			repo := newRepo()
			job := audit.NewJob("job-1", "p1", "u1", audit.CategoryStorage, time.Now())
			require.NoError(t, repo.Create(ctx, job))

			job.Progress = 90
			got, err := repo.Get(ctx, "job-1")
			require.NoError(t, err)
			require.Zero(t, got.Progress)

			got.Progress = 50
			again, err := repo.Get(ctx, "job-1")
			require.NoError(t, err)
			require.Zero(t, again.Progress)
		})
	}
}

func TestDeleteFinishedBefore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, newRepo := range repos() {
		t.Run(name, func(t *testing.T) {
			repo := newRepo()

			old := audit.NewJob("old", "p1", "u1", audit.CategoryStorage, now.Add(-3*time.Hour))
			recent := audit.NewJob("recent", "p1", "u1", audit.CategoryStorage, now.Add(-time.Hour))
			running := audit.NewJob("running", "p1", "u1", audit.CategoryStorage, now.Add(-5*time.Hour))
			for _, j := range []*audit.Job{old, recent, running} {
				require.NoError(t, repo.Create(ctx, j))
			}

			oldDone := now.Add(-2 * time.Hour)
			old.Status, old.CompletedAt = audit.StatusError, &oldDone
			require.NoError(t, repo.Update(ctx, old))

			recentDone := now.Add(-10 * time.Minute)
			recent.Status, recent.CompletedAt = audit.StatusCompleted, &recentDone
			require.NoError(t, repo.Update(ctx, recent))

			removed, err := repo.DeleteFinishedBefore(ctx, now.Add(-time.Hour))
			require.NoError(t, err)
			require.Equal(t, 1, removed)

			_, err = repo.Get(ctx, "old")
			require.ErrorIs(t, err, jobs.ErrNotFound)
			_, err = repo.Get(ctx, "recent")
			require.NoError(t, err)
			_, err = repo.Get(ctx, "running")
			require.NoError(t, err, "running jobs are never reaped")
		})
	}
}

func TestRedisRepoExpiresFinishedJobs(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedisClient()
	repo := jobs.NewRedisRepo(client, 30*time.Minute)

	job := audit.NewJob("job-1", "p1", "u1", audit.CategoryCompute, time.Now())
	require.NoError(t, repo.Create(ctx, job))
	require.Zero(t, client.ttls["audit_job:job-1"], "running jobs do not expire")

	now := time.Now()
	job.Status, job.CompletedAt = audit.StatusCompleted, &now
	require.NoError(t, repo.Update(ctx, job))
	require.Equal(t, 30*time.Minute, client.ttls["audit_job:job-1"])
}
