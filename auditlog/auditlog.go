package auditlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionLogin  Action = "login"
	ActionLogout Action = "logout"
)

// Entry records a security relevant action taken by a user.
type Entry struct {
	ID        string
	Action    Action
	ActorID   string
	IP        string
	UserAgent string
	At        time.Time
}

type Repo interface {
	Append(entry Entry) error
	ListByActor(actorID string) ([]Entry, error)
}

var _ Repo = (*InMemoryRepo)(nil)

type InMemoryRepo struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{}
}

func (r *InMemoryRepo) Append(entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *InMemoryRepo) ListByActor(actorID string) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		if e.ActorID == actorID {
			out = append(out, e)
		}
	}
	return out, nil
}
