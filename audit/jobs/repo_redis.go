package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-audit-server/audit"
)

const redisKeyPrefix = "audit_job:"

var _ Repo = (*RedisRepo)(nil)

// RedisRepo stores jobs centrally so any instance can answer status reads.
// Finished jobs get an expiry of retention so redis reaps them even when no
// janitor runs.
type RedisRepo struct {
	client    RedisClient
	retention time.Duration
}

func NewRedisRepo(client RedisClient, retention time.Duration) *RedisRepo {
	return &RedisRepo{client: client, retention: retention}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

func (r *RedisRepo) Create(ctx context.Context, job *audit.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("[jobs RedisRepo Create] job id is required")
	}
	if _, err := r.Get(ctx, job.ID); err == nil {
		return fmt.Errorf("[jobs RedisRepo Create] job %s already exists", job.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return r.put(ctx, job)
}

func (r *RedisRepo) Get(ctx context.Context, id string) (*audit.Job, error) {
	data, err := r.client.Get(ctx, redisKey(id))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[jobs RedisRepo Get] %w", err)
	}

	var job audit.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("[jobs RedisRepo Get] failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (r *RedisRepo) Update(ctx context.Context, job *audit.Job) error {
	current, err := r.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return ErrTerminal
	}
	return r.put(ctx, job)
}

func (r *RedisRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := r.client.Keys(ctx, redisKeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("[jobs RedisRepo DeleteFinishedBefore] %w", err)
	}

	var expired []string
	for _, key := range keys {
		job, err := r.Get(ctx, key[len(redisKeyPrefix):])
		if err != nil {
			// Expired between KEYS and GET, or unreadable
			continue
		}
		if finishedBefore(job, cutoff) {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := r.client.Del(ctx, expired...); err != nil {
		return 0, fmt.Errorf("[jobs RedisRepo DeleteFinishedBefore] %w", err)
	}
	return len(expired), nil
}

func (r *RedisRepo) put(ctx context.Context, job *audit.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("[jobs RedisRepo] failed to encode job %s: %w", job.ID, err)
	}

	var ttl time.Duration
	if job.Status.Terminal() {
		ttl = r.retention
	}
	if err := r.client.Set(ctx, redisKey(job.ID), string(data), ttl); err != nil {
		return fmt.Errorf("[jobs RedisRepo] failed to store job %s: %w", job.ID, err)
	}
	return nil
}
