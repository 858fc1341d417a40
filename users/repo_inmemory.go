package users

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-audit-server/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a thread-safe in-memory implementation of Repo
type InMemoryRepo struct {
	mu        sync.RWMutex
	users     map[string]*User
	bySubject map[string]string // provider subject -> user id
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		users:     make(map[string]*User),
		bySubject: make(map[string]string),
	}
}

// UpsertByProvider looks up and writes under a single lock so two callbacks
// for the same subject can never create two users.
func (r *InMemoryRepo) UpsertByProvider(profile Profile, loginTime time.Time) (*User, error) {
	if profile.Subject == "" {
		return nil, errors.New("[users UpsertByProvider] provider subject is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.bySubject[profile.Subject]; ok {
		u := r.users[id]
		u.Email = profile.Email
		u.Name = profile.Name
		u.LastLogin = loginTime
		c := *u
		return &c, nil
	}

	u := &User{
		ID:              uuid.New().String(),
		ProviderSubject: profile.Subject,
		Email:           profile.Email,
		Name:            profile.Name,
		DateJoined:      loginTime,
		LastLogin:       loginTime,
	}
	r.users[u.ID] = u
	r.bySubject[u.ProviderSubject] = u.ID

	c := *u
	return &c, nil
}

func (r *InMemoryRepo) GetByID(id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	c := *u
	return &c, nil
}
