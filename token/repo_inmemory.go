package token

import (
	"errors"
	"sync"

	apperrors "github.com/jrsteele09/go-audit-server/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

type InMemoryRepo struct {
	mu      sync.RWMutex
	records map[string]Record // userID -> record
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		records: make(map[string]Record),
	}
}

func (r *InMemoryRepo) Upsert(record *Record) error {
	if record == nil || record.UserID == "" {
		return errors.New("userID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := *record
	c.Scopes = append([]string(nil), record.Scopes...)
	r.records[record.UserID] = c
	return nil
}

func (r *InMemoryRepo) Get(userID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[userID]
	if !ok {
		return nil, apperrors.ErrTokenNotFound
	}
	record.Scopes = append([]string(nil), record.Scopes...)
	return &record, nil
}

func (r *InMemoryRepo) Delete(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, userID)
	return nil
}
