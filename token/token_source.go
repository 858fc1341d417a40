package token

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// persistingSource writes refreshed tokens back to the repo so a renewed
// access token survives beyond the job that triggered the refresh.
type persistingSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	repo   Repo
	record Record
}

// NewPersistingSource wraps base, which should be seeded with record's token
// (typically oauth2.Config.TokenSource), and stores every renewed token.
func NewPersistingSource(base oauth2.TokenSource, repo Repo, record *Record) oauth2.TokenSource {
	return &persistingSource{
		base:   base,
		repo:   repo,
		record: *record,
	}
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("[token persistingSource] refresh failed: %w", err)
	}
	if t.AccessToken == s.record.AccessToken {
		return t, nil
	}

	s.record.AccessToken = t.AccessToken
	s.record.ExpiresAt = t.Expiry
	if t.RefreshToken != "" {
		s.record.RefreshToken = t.RefreshToken
	}
	if err := s.repo.Upsert(&s.record); err != nil {
		log.Err(err).Str("user_id", s.record.UserID).Msg("Failed to store refreshed token")
	}
	return t, nil
}
