package sessions

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// idLength is the number of random bytes in a session id (256 bits).
const idLength = 32

// Session is a server-side login session. The session cookie carries only ID.
type Session struct {
	ID        string    // Opaque random identifier
	UserID    string    // Owner of the session
	CreatedAt time.Time // When the callback created the session
	ExpiresAt time.Time // Absolute expiry
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// NewID returns a base64url encoded session id with 256 bits of entropy.
func NewID() (string, error) {
	b := make([]byte, idLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("[sessions NewID] failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
