package sessions

import "time"

// Repo defines the interface for login session storage.
type Repo interface {
	// Create stores a new session; an existing ID is an error
	Create(session *Session) error

	// Get retrieves a session by ID
	Get(sessionID string) (*Session, error)

	// Delete removes a session by ID; deleting an unknown session is not an error
	Delete(sessionID string) error

	// DeleteExpired removes sessions that expired at or before now
	DeleteExpired(now time.Time) (int, error)
}
